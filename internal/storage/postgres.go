package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/citrusframework/citrus-simulator-sub000/pkg/models"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

const executionColumns = "id, scenario_name, start_date, end_date, status, error_message"

// SaveExecution inserts a new execution row with its parameters and returns
// the assigned id.
func (s *PostgresStore) SaveExecution(e models.ScenarioExecution) (int64, error) {
	var execID int64
	err := s.db.QueryRowx(
		"INSERT INTO scenario_executions (scenario_name, start_date, end_date, status, error_message) VALUES ($1, $2, $3, $4, $5) RETURNING id",
		e.ScenarioName, e.StartDate, e.EndDate, e.Status, e.ErrorMessage).Scan(&execID)
	if err != nil {
		return 0, fmt.Errorf("save execution: %w", err)
	}
	for _, p := range e.Parameters {
		if _, err := s.db.Exec(
			"INSERT INTO scenario_parameters (execution_id, name, value) VALUES ($1, $2, $3)",
			execID, p.Name, p.Value); err != nil {
			return 0, fmt.Errorf("save execution parameter %s: %w", p.Name, err)
		}
	}
	return execID, nil
}

// GetExecution retrieves the execution row only.
func (s *PostgresStore) GetExecution(id int64) (models.ScenarioExecution, error) {
	var e models.ScenarioExecution
	err := s.db.Get(&e, "SELECT "+executionColumns+" FROM scenario_executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.ScenarioExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.ScenarioExecution{}, err
	}
	return e, nil
}

// GetExecutionFull retrieves the execution row together with all owned
// sub-entities.
func (s *PostgresStore) GetExecutionFull(id int64) (models.ScenarioExecution, error) {
	e, err := s.GetExecution(id)
	if err != nil {
		return models.ScenarioExecution{}, err
	}
	if err := s.db.Select(&e.Parameters,
		"SELECT id, execution_id, name, value FROM scenario_parameters WHERE execution_id = $1 ORDER BY id", id); err != nil {
		return models.ScenarioExecution{}, fmt.Errorf("get execution %d parameters: %w", id, err)
	}
	if e.Actions, err = s.ListActions(id); err != nil {
		return models.ScenarioExecution{}, err
	}
	if e.Messages, err = s.ListMessages(id); err != nil {
		return models.ScenarioExecution{}, err
	}
	var results []models.TestResult
	if err := s.db.Select(&results,
		"SELECT id, execution_id, status, test_name, class_name, error_message, failure_stack, failure_type, created_at FROM test_results WHERE execution_id = $1 ORDER BY id", id); err != nil {
		return models.ScenarioExecution{}, fmt.Errorf("get execution %d test result: %w", id, err)
	}
	if len(results) > 0 {
		tr := results[0]
		if err := s.db.Select(&tr.Parameters,
			`SELECT test_result_id, "key", value FROM test_parameters WHERE test_result_id = $1 ORDER BY "key"`, tr.ID); err != nil {
			return models.ScenarioExecution{}, fmt.Errorf("get test result %d parameters: %w", tr.ID, err)
		}
		e.TestResult = &tr
	}
	return e, nil
}

// LockExecution reads the execution row with FOR UPDATE so the surrounding
// transaction holds the row lock until it commits or rolls back. Parameters
// are loaded alongside for the finalize write.
func (s *PostgresStore) LockExecution(id int64) (models.ScenarioExecution, error) {
	var e models.ScenarioExecution
	err := s.db.Get(&e, "SELECT "+executionColumns+" FROM scenario_executions WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return models.ScenarioExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.ScenarioExecution{}, err
	}
	if err := s.db.Select(&e.Parameters,
		"SELECT id, execution_id, name, value FROM scenario_parameters WHERE execution_id = $1 ORDER BY id", id); err != nil {
		return models.ScenarioExecution{}, fmt.Errorf("lock execution %d parameters: %w", id, err)
	}
	return e, nil
}

// FinalizeExecution writes the terminal state of an execution.
func (s *PostgresStore) FinalizeExecution(id int64, status models.ExecutionStatus, endDate time.Time, errorMessage string) error {
	res, err := s.db.Exec(
		"UPDATE scenario_executions SET status = $1, end_date = $2, error_message = $3 WHERE id = $4",
		status, endDate, errorMessage, id)
	if err != nil {
		return fmt.Errorf("finalize execution %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListExecutions() ([]models.ScenarioExecution, error) {
	executions := []models.ScenarioExecution{}
	err := s.db.Select(&executions,
		"SELECT "+executionColumns+" FROM scenario_executions ORDER BY start_date DESC, id DESC")
	if err != nil {
		return nil, err
	}
	return executions, nil
}

// SaveAction appends a new action to an execution and returns its id.
func (s *PostgresStore) SaveAction(a models.ScenarioAction) (int64, error) {
	var actionID int64
	err := s.db.QueryRowx(
		"INSERT INTO scenario_actions (execution_id, name, start_date, end_date) VALUES ($1, $2, $3, $4) RETURNING id",
		a.ExecutionID, a.Name, a.StartDate, a.EndDate).Scan(&actionID)
	if err != nil {
		return 0, fmt.Errorf("save action %s: %w", a.Name, err)
	}
	return actionID, nil
}

// FinishAction sets the end date of an open action.
func (s *PostgresStore) FinishAction(actionID int64, end time.Time) error {
	res, err := s.db.Exec("UPDATE scenario_actions SET end_date = $1 WHERE id = $2", end, actionID)
	if err != nil {
		return fmt.Errorf("finish action %d: %w", actionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActions(executionID int64) ([]models.ScenarioAction, error) {
	actions := []models.ScenarioAction{}
	err := s.db.Select(&actions,
		"SELECT id, execution_id, name, start_date, end_date FROM scenario_actions WHERE execution_id = $1 ORDER BY start_date, id", executionID)
	if err != nil {
		return nil, fmt.Errorf("list actions for execution %d: %w", executionID, err)
	}
	return actions, nil
}

// FindMessage looks up a message by its correlation triple.
func (s *PostgresStore) FindMessage(executionID int64, direction models.Direction, citrusMessageID string) (models.Message, error) {
	var m models.Message
	err := s.db.Get(&m,
		"SELECT id, execution_id, direction, payload, citrus_message_id, created_at, modified_at FROM messages WHERE execution_id = $1 AND direction = $2 AND citrus_message_id = $3",
		executionID, direction, citrusMessageID)
	if err == sql.ErrNoRows {
		return models.Message{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	if err := s.db.Select(&m.Headers,
		"SELECT id, message_id, name, value FROM message_headers WHERE message_id = $1 ORDER BY id", m.ID); err != nil {
		return models.Message{}, fmt.Errorf("get message %d headers: %w", m.ID, err)
	}
	return m, nil
}

// SaveMessage inserts a message with its headers and returns the assigned id.
func (s *PostgresStore) SaveMessage(m models.Message) (int64, error) {
	var msgID int64
	err := s.db.QueryRowx(
		"INSERT INTO messages (execution_id, direction, payload, citrus_message_id, created_at, modified_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		m.ExecutionID, m.Direction, m.Payload, m.CitrusMessageID, m.CreatedAt, m.ModifiedAt).Scan(&msgID)
	if err != nil {
		return 0, fmt.Errorf("save message %s: %w", m.CitrusMessageID, err)
	}
	for _, h := range m.Headers {
		if _, err := s.db.Exec(
			"INSERT INTO message_headers (message_id, name, value) VALUES ($1, $2, $3)",
			msgID, h.Name, h.Value); err != nil {
			return 0, fmt.Errorf("save message header %s: %w", h.Name, err)
		}
	}
	return msgID, nil
}

func (s *PostgresStore) ListMessages(executionID int64) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.Select(&messages,
		"SELECT id, execution_id, direction, payload, citrus_message_id, created_at, modified_at FROM messages WHERE execution_id = $1 ORDER BY created_at, id", executionID)
	if err != nil {
		return nil, fmt.Errorf("list messages for execution %d: %w", executionID, err)
	}
	for i := range messages {
		if err := s.db.Select(&messages[i].Headers,
			"SELECT id, message_id, name, value FROM message_headers WHERE message_id = $1 ORDER BY id", messages[i].ID); err != nil {
			return nil, fmt.Errorf("get message %d headers: %w", messages[i].ID, err)
		}
	}
	return messages, nil
}

// SaveTestResult inserts a test result with its parameters and returns the
// assigned id.
func (s *PostgresStore) SaveTestResult(tr models.TestResult) (int64, error) {
	var resultID int64
	err := s.db.QueryRowx(
		"INSERT INTO test_results (execution_id, status, test_name, class_name, error_message, failure_stack, failure_type, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id",
		tr.ExecutionID, tr.Status, tr.TestName, tr.ClassName, tr.ErrorMessage, tr.FailureStack, tr.FailureType, tr.CreatedAt).Scan(&resultID)
	if err != nil {
		return 0, fmt.Errorf("save test result for execution %d: %w", tr.ExecutionID, err)
	}
	for _, p := range tr.Parameters {
		if _, err := s.db.Exec(
			`INSERT INTO test_parameters (test_result_id, "key", value) VALUES ($1, $2, $3)`,
			resultID, p.Key, p.Value); err != nil {
			return 0, fmt.Errorf("save test parameter %s: %w", p.Key, err)
		}
	}
	return resultID, nil
}
