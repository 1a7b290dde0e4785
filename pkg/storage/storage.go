package storage

import (
	"time"

	"github.com/citrusframework/citrus-simulator-sub000/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by point reads and updates targeting an unknown id.
var ErrNotFound = errors.New("not found")

// Store defines the durable operations for scenario executions and their
// owned sub-entities. Begin returns a transactional view of the same store;
// all writes of one unit of work go through that view and become visible on
// Commit, except assigned ids, which are visible to the caller immediately.
type Store interface {
	// Transaction handling
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Execution operations
	SaveExecution(e models.ScenarioExecution) (int64, error)
	// GetExecution is the lazy point read: the execution row without
	// its sub-entity collections.
	GetExecution(id int64) (models.ScenarioExecution, error)
	// GetExecutionFull is the eager point read: the row plus parameters,
	// actions, messages with headers, and the linked test result.
	GetExecutionFull(id int64) (models.ScenarioExecution, error)
	// LockExecution reads the execution row together with its parameters
	// while taking a row-level update lock for the surrounding transaction.
	LockExecution(id int64) (models.ScenarioExecution, error)
	// FinalizeExecution performs the single terminal write.
	FinalizeExecution(id int64, status models.ExecutionStatus, endDate time.Time, errorMessage string) error
	ListExecutions() ([]models.ScenarioExecution, error)

	// Action operations
	SaveAction(a models.ScenarioAction) (int64, error)
	FinishAction(actionID int64, end time.Time) error
	ListActions(executionID int64) ([]models.ScenarioAction, error)

	// Message operations
	FindMessage(executionID int64, direction models.Direction, citrusMessageID string) (models.Message, error)
	SaveMessage(m models.Message) (int64, error)
	ListMessages(executionID int64) ([]models.Message, error)

	// Test result operations
	SaveTestResult(tr models.TestResult) (int64, error)
}
