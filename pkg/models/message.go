package models

import "time"

type Direction string

const (
	InboundDirection  Direction = "INBOUND"
	OutboundDirection Direction = "OUTBOUND"
	UnknownDirection  Direction = "UNKNOWN"
)

// Message is an exchanged payload correlated to an execution via an external
// message id. The (execution, direction, citrus message id) triple is unique;
// a repeated attach returns the original row. Messages are never mutated
// after creation and headers are set at creation only.
type Message struct {
	ID              int64           `json:"id" db:"id"`
	ExecutionID     int64           `json:"execution_id" db:"execution_id"` // Foreign key to ScenarioExecution
	Direction       Direction       `json:"direction" db:"direction"`       // "INBOUND", "OUTBOUND", "UNKNOWN"
	Payload         string          `json:"payload" db:"payload"`
	CitrusMessageID string          `json:"citrus_message_id" db:"citrus_message_id"` // External correlation key
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	ModifiedAt      time.Time       `json:"modified_at" db:"modified_at"`
	Headers         []MessageHeader `json:"headers,omitempty"` // Ordered name/value pairs
}

// MessageHeader is one name/value pair belonging to exactly one message.
type MessageHeader struct {
	ID        int64  `json:"id" db:"id"`
	MessageID int64  `json:"message_id" db:"message_id"` // Foreign key to Message
	Name      string `json:"name" db:"name"`
	Value     string `json:"value" db:"value"`
}
