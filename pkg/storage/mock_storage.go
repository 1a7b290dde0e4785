package storage

import (
	"sync"
	"time"

	"github.com/citrusframework/citrus-simulator-sub000/pkg/models"
)

// mockState is the shared in-memory data set. A single mutex guards it
// because the worker pool drives writes from multiple goroutines in tests.
type mockState struct {
	mu          sync.Mutex
	executions  []models.ScenarioExecution
	parameters  []models.ScenarioParameter
	actions     []models.ScenarioAction
	messages    []models.Message
	testResults []models.TestResult

	nextExecutionID  int64
	nextActionID     int64
	nextMessageID    int64
	nextTestResultID int64
	nextParameterID  int64
	nextHeaderID     int64
}

// mockStore implements Store with in-memory storage. Begin hands out a view
// over the same state; Commit and Rollback are accepted but writes take
// effect immediately, which is sufficient for the unit tests this backs.
type mockStore struct {
	st *mockState
}

// NewMockStore returns an empty in-memory Store.
func NewMockStore() Store {
	return &mockStore{st: &mockState{}}
}

func (m *mockStore) Begin() (Store, error) {
	return &mockStore{st: m.st}, nil
}

func (m *mockStore) Commit() error   { return nil }
func (m *mockStore) Rollback() error { return nil }
func (m *mockStore) Close() error    { return nil }

func (m *mockStore) SaveExecution(e models.ScenarioExecution) (int64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.nextExecutionID++
	e.ID = m.st.nextExecutionID
	for i := range e.Parameters {
		m.st.nextParameterID++
		e.Parameters[i].ID = m.st.nextParameterID
		e.Parameters[i].ExecutionID = e.ID
		m.st.parameters = append(m.st.parameters, e.Parameters[i])
	}
	row := e
	row.Parameters = nil
	m.st.executions = append(m.st.executions, row)
	return e.ID, nil
}

func (m *mockStore) GetExecution(id int64) (models.ScenarioExecution, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return m.getExecutionLocked(id)
}

func (m *mockStore) getExecutionLocked(id int64) (models.ScenarioExecution, error) {
	for _, e := range m.st.executions {
		if e.ID == id {
			return e, nil
		}
	}
	return models.ScenarioExecution{}, ErrNotFound
}

func (m *mockStore) GetExecutionFull(id int64) (models.ScenarioExecution, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	e, err := m.getExecutionLocked(id)
	if err != nil {
		return models.ScenarioExecution{}, err
	}
	e.Parameters = m.parametersLocked(id)
	e.Actions = m.actionsLocked(id)
	e.Messages = m.messagesLocked(id)
	for i := range m.st.testResults {
		if m.st.testResults[i].ExecutionID == id {
			tr := m.st.testResults[i]
			e.TestResult = &tr
			break
		}
	}
	return e, nil
}

func (m *mockStore) LockExecution(id int64) (models.ScenarioExecution, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	e, err := m.getExecutionLocked(id)
	if err != nil {
		return models.ScenarioExecution{}, err
	}
	e.Parameters = m.parametersLocked(id)
	return e, nil
}

func (m *mockStore) FinalizeExecution(id int64, status models.ExecutionStatus, endDate time.Time, errorMessage string) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for i := range m.st.executions {
		if m.st.executions[i].ID == id {
			end := endDate
			m.st.executions[i].Status = status
			m.st.executions[i].EndDate = &end
			m.st.executions[i].ErrorMessage = errorMessage
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) ListExecutions() ([]models.ScenarioExecution, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	out := make([]models.ScenarioExecution, len(m.st.executions))
	copy(out, m.st.executions)
	return out, nil
}

func (m *mockStore) SaveAction(a models.ScenarioAction) (int64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if _, err := m.getExecutionLocked(a.ExecutionID); err != nil {
		return 0, err
	}
	m.st.nextActionID++
	a.ID = m.st.nextActionID
	m.st.actions = append(m.st.actions, a)
	return a.ID, nil
}

func (m *mockStore) FinishAction(actionID int64, end time.Time) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for i := range m.st.actions {
		if m.st.actions[i].ID == actionID {
			e := end
			m.st.actions[i].EndDate = &e
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) ListActions(executionID int64) ([]models.ScenarioAction, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return m.actionsLocked(executionID), nil
}

func (m *mockStore) FindMessage(executionID int64, direction models.Direction, citrusMessageID string) (models.Message, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, msg := range m.st.messages {
		if msg.ExecutionID == executionID && msg.Direction == direction && msg.CitrusMessageID == citrusMessageID {
			return msg, nil
		}
	}
	return models.Message{}, ErrNotFound
}

func (m *mockStore) SaveMessage(msg models.Message) (int64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if _, err := m.getExecutionLocked(msg.ExecutionID); err != nil {
		return 0, err
	}
	m.st.nextMessageID++
	msg.ID = m.st.nextMessageID
	for i := range msg.Headers {
		m.st.nextHeaderID++
		msg.Headers[i].ID = m.st.nextHeaderID
		msg.Headers[i].MessageID = msg.ID
	}
	m.st.messages = append(m.st.messages, msg)
	return msg.ID, nil
}

func (m *mockStore) ListMessages(executionID int64) ([]models.Message, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return m.messagesLocked(executionID), nil
}

func (m *mockStore) SaveTestResult(tr models.TestResult) (int64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.nextTestResultID++
	tr.ID = m.st.nextTestResultID
	for i := range tr.Parameters {
		tr.Parameters[i].TestResultID = tr.ID
	}
	m.st.testResults = append(m.st.testResults, tr)
	return tr.ID, nil
}

func (m *mockStore) parametersLocked(executionID int64) []models.ScenarioParameter {
	var out []models.ScenarioParameter
	for _, p := range m.st.parameters {
		if p.ExecutionID == executionID {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockStore) actionsLocked(executionID int64) []models.ScenarioAction {
	var out []models.ScenarioAction
	for _, a := range m.st.actions {
		if a.ExecutionID == executionID {
			out = append(out, a)
		}
	}
	return out
}

func (m *mockStore) messagesLocked(executionID int64) []models.Message {
	var out []models.Message
	for _, msg := range m.st.messages {
		if msg.ExecutionID == executionID {
			out = append(out, msg)
		}
	}
	return out
}
