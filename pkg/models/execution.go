package models

import "time"

type ExecutionStatus string

const (
	RunningExecutionStatus ExecutionStatus = "RUNNING"
	SuccessExecutionStatus ExecutionStatus = "SUCCESS"
	FailedExecutionStatus  ExecutionStatus = "FAILED"
)

// ScenarioExecution is one run of a named scenario. It is the root of the
// sub-entity graph and the unit of exclusive ownership: created by the
// coordinator's reservation, appended to by the correlators while RUNNING,
// and written exactly once more by the terminal finalize.
type ScenarioExecution struct {
	ID           int64               `json:"id" db:"id"`                                 // Assigned on reservation, immutable afterwards
	ScenarioName string              `json:"scenario_name" db:"scenario_name"`           // Name the scenario was resolved by
	StartDate    time.Time           `json:"start_date" db:"start_date"`                 // Reservation instant
	EndDate      *time.Time          `json:"end_date,omitempty" db:"end_date"`           // Nullable; set iff status is terminal
	Status       ExecutionStatus     `json:"status" db:"status"`                         // "RUNNING", "SUCCESS", "FAILED"
	ErrorMessage string              `json:"error_message,omitempty" db:"error_message"` // Populated on failure, length-bounded
	Parameters   []ScenarioParameter `json:"parameters,omitempty"`                       // Supplied at reservation, immutable
	Actions      []ScenarioAction    `json:"actions,omitempty"`                          // Ordered by start time (populated on eager reads)
	Messages     []Message           `json:"messages,omitempty"`                         // Ordered by creation (populated on eager reads)
	TestResult   *TestResult         `json:"test_result,omitempty"`                      // Written at finalize
}

// Terminal reports whether the execution reached its final state.
func (e *ScenarioExecution) Terminal() bool {
	return e.Status == SuccessExecutionStatus || e.Status == FailedExecutionStatus
}

// ScenarioParameter is a key/value pair handed to the scenario at start.
type ScenarioParameter struct {
	ID          int64  `json:"id" db:"id"`
	ExecutionID int64  `json:"execution_id" db:"execution_id"` // Foreign key to ScenarioExecution
	Name        string `json:"name" db:"name"`
	Value       string `json:"value" db:"value"`
}
