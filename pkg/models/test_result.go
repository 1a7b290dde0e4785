package models

import "time"

type TestResultStatus string

const (
	SuccessTestResultStatus TestResultStatus = "SUCCESS"
	FailureTestResultStatus TestResultStatus = "FAILURE"
)

// TestResult is the outcome record written by the coordinator's terminal
// write and linked to a single scenario execution.
type TestResult struct {
	ID           int64            `json:"id" db:"id"`
	ExecutionID  int64            `json:"execution_id" db:"execution_id"` // Foreign key to ScenarioExecution
	Status       TestResultStatus `json:"status" db:"status"`
	TestName     string           `json:"test_name" db:"test_name"`
	ClassName    string           `json:"class_name" db:"class_name"`
	ErrorMessage string           `json:"error_message,omitempty" db:"error_message"`
	FailureStack string           `json:"failure_stack,omitempty" db:"failure_stack"`
	FailureType  string           `json:"failure_type,omitempty" db:"failure_type"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	Parameters   []TestParameter  `json:"parameters,omitempty"` // Keyed by (test result id, key)
}

// TestParameter is a key/value pair attached to a test result.
type TestParameter struct {
	TestResultID int64  `json:"test_result_id" db:"test_result_id"`
	Key          string `json:"key" db:"key"`
	Value        string `json:"value" db:"value"`
}
