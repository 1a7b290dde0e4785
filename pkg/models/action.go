package models

import "time"

// ScenarioAction is a named, timed sub-step of a scenario execution.
// A nil EndDate means the step is still in progress; at most the most
// recently opened action of a given name is open at a time.
type ScenarioAction struct {
	ID          int64      `json:"id" db:"id"`
	ExecutionID int64      `json:"execution_id" db:"execution_id"` // Foreign key to ScenarioExecution
	Name        string     `json:"name" db:"name"`
	StartDate   time.Time  `json:"start_date" db:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty" db:"end_date"` // Nullable end time
}
