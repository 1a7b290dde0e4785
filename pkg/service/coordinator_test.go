package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/citrusframework/citrus-simulator-sub000/pkg/models"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/service"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// testLogger implements Logger interface for testing
type testLogger struct{}

func (testLogger) Infof(format string, args ...interface{})  {}
func (testLogger) Errorf(format string, args ...interface{}) {}

// fakeClock advances one second per read so start dates are distinct and ordered.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestCoordinator(t *testing.T, store storage.Store, workers int) (*service.ExecutionCoordinator, *service.ScenarioRegistry, *service.WorkerPool) {
	registry := service.NewScenarioRegistry()
	pool := service.NewWorkerPool(context.Background(), testLogger{})
	pool.Start(workers)
	t.Cleanup(pool.ShutdownNow)
	coordinator := service.NewExecutionCoordinator(store, pool, registry, testLogger{}, newFakeClock())
	return coordinator, registry, pool
}

// waitTerminal polls the store until the execution reaches a terminal state.
func waitTerminal(t *testing.T, store storage.Store, id int64) models.ScenarioExecution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e, err := store.GetExecution(id)
		assert.NoError(t, err)
		if e.Terminal() {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %d did not reach a terminal state", id)
	return models.ScenarioExecution{}
}

func TestReserve(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, _, _ := newTestCoordinator(t, store, 1)

	id1, err := coordinator.Reserve("scenario-a", map[string]string{"user": "alice", "amount": "10"})
	assert.NoError(t, err)
	id2, err := coordinator.Reserve("scenario-b", nil)
	assert.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	e, err := store.GetExecutionFull(id1)
	assert.NoError(t, err)
	assert.Equal(t, models.RunningExecutionStatus, e.Status)
	assert.Nil(t, e.EndDate)
	assert.Equal(t, "scenario-a", e.ScenarioName)
	assert.Len(t, e.Parameters, 2)
	// Parameters are stored sorted by name
	assert.Equal(t, "amount", e.Parameters[0].Name)
	assert.Equal(t, "user", e.Parameters[1].Name)
}

func TestRun_EndToEnd(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, registry, _ := newTestCoordinator(t, store, 2)

	registry.Register(service.ScenarioFunc{
		ScenarioName: "order-flow",
		Fn: func(sc *service.ScenarioContext) error {
			if err := sc.StartStep("A"); err != nil {
				return err
			}
			if _, err := sc.ReceiveMessage("<order/>", "m1", map[string]string{"source": "gateway"}); err != nil {
				return err
			}
			if err := sc.CompleteStep("A"); err != nil {
				return err
			}
			return nil
		},
	})

	id, err := coordinator.Run("order-flow", map[string]string{"customer": "c-1"})
	assert.NoError(t, err)
	assert.Greater(t, id, int64(0))

	e := waitTerminal(t, store, id)
	assert.Equal(t, models.SuccessExecutionStatus, e.Status)

	full, err := store.GetExecutionFull(id)
	assert.NoError(t, err)
	assert.NotNil(t, full.EndDate)
	assert.Len(t, full.Actions, 1)
	assert.Equal(t, "A", full.Actions[0].Name)
	assert.NotNil(t, full.Actions[0].EndDate)
	assert.Len(t, full.Messages, 1)
	assert.Equal(t, "m1", full.Messages[0].CitrusMessageID)
	assert.NotNil(t, full.TestResult)
	assert.Equal(t, models.SuccessTestResultStatus, full.TestResult.Status)
	assert.Equal(t, "order-flow", full.TestResult.TestName)
	assert.Len(t, full.TestResult.Parameters, 1)

	// Re-delivering the same correlation key after the run still yields one message.
	again, err := coordinator.Messages().Attach(id, models.InboundDirection, "different payload", "m1", nil)
	assert.NoError(t, err)
	assert.Equal(t, full.Messages[0].ID, again.ID)
	assert.Equal(t, "<order/>", again.Payload)
	messages, err := store.ListMessages(id)
	assert.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestRun_UnknownScenario(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, _, _ := newTestCoordinator(t, store, 1)

	_, err := coordinator.Run("missing", nil)
	assert.ErrorIs(t, err, service.ErrScenarioNotFound)

	executions, err := store.ListExecutions()
	assert.NoError(t, err)
	assert.Empty(t, executions)
}

func TestRun_BodyFailure(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, registry, _ := newTestCoordinator(t, store, 1)

	registry.Register(service.ScenarioFunc{
		ScenarioName: "failing",
		Fn: func(sc *service.ScenarioContext) error {
			return errors.New("downstream refused the payment")
		},
	})

	id, err := coordinator.Run("failing", nil)
	assert.NoError(t, err)

	e := waitTerminal(t, store, id)
	assert.Equal(t, models.FailedExecutionStatus, e.Status)
	assert.Contains(t, e.ErrorMessage, "downstream refused the payment")

	full, err := store.GetExecutionFull(id)
	assert.NoError(t, err)
	assert.NotNil(t, full.TestResult)
	assert.Equal(t, models.FailureTestResultStatus, full.TestResult.Status)
	assert.NotEmpty(t, full.TestResult.FailureType)
}

func TestRun_BodyPanic(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, registry, _ := newTestCoordinator(t, store, 1)

	registry.Register(service.ScenarioFunc{
		ScenarioName: "panicking",
		Fn: func(sc *service.ScenarioContext) error {
			panic("nil endpoint")
		},
	})

	id, err := coordinator.Run("panicking", nil)
	assert.NoError(t, err)

	e := waitTerminal(t, store, id)
	assert.Equal(t, models.FailedExecutionStatus, e.Status)
	assert.Contains(t, e.ErrorMessage, "nil endpoint")
}

func TestFinalize_SecondAttemptRejected(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, _, _ := newTestCoordinator(t, store, 1)

	id, err := coordinator.Reserve("scenario", nil)
	assert.NoError(t, err)

	assert.NoError(t, coordinator.FinalizeSuccess(id))
	assert.ErrorIs(t, coordinator.FinalizeSuccess(id), service.ErrAlreadyFinished)
	assert.ErrorIs(t, coordinator.FinalizeFailure(id, errors.New("late")), service.ErrAlreadyFinished)

	e, err := store.GetExecution(id)
	assert.NoError(t, err)
	assert.Equal(t, models.SuccessExecutionStatus, e.Status)
	assert.Empty(t, e.ErrorMessage)
}

// finalizeGate stalls the first LockExecution so a test can observe what a
// concurrent finalize does while the first one is mid-transaction.
type finalizeGate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

type gatedStore struct {
	storage.Store
	gate *finalizeGate
}

func (g *gatedStore) Begin() (storage.Store, error) {
	inner, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	return &gatedStore{Store: inner, gate: g.gate}, nil
}

func (g *gatedStore) LockExecution(id int64) (models.ScenarioExecution, error) {
	g.gate.once.Do(func() {
		close(g.gate.entered)
		<-g.gate.release
	})
	return g.Store.LockExecution(id)
}

func TestFinalize_HoldsOwnershipAcrossTransaction(t *testing.T) {
	gate := &finalizeGate{entered: make(chan struct{}), release: make(chan struct{})}
	store := &gatedStore{Store: storage.NewMockStore(), gate: gate}
	coordinator, _, _ := newTestCoordinator(t, store, 1)

	id, err := coordinator.Reserve("scenario", nil)
	assert.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() { firstDone <- coordinator.FinalizeSuccess(id) }()
	<-gate.entered

	secondDone := make(chan error, 1)
	go func() { secondDone <- coordinator.FinalizeFailure(id, errors.New("late")) }()

	// The second attempt must wait for the first one's commit, not race its
	// check-then-write inside the store.
	select {
	case err := <-secondDone:
		t.Fatalf("second finalize completed while the first held the execution: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(gate.release)
	assert.NoError(t, <-firstDone)
	assert.ErrorIs(t, <-secondDone, service.ErrAlreadyFinished)

	e, err := store.GetExecution(id)
	assert.NoError(t, err)
	assert.Equal(t, models.SuccessExecutionStatus, e.Status)
	assert.Empty(t, e.ErrorMessage)
}

func TestFinalize_ConcurrentAttemptsNeverOverwrite(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, _, _ := newTestCoordinator(t, store, 1)

	for round := 0; round < 200; round++ {
		id, err := coordinator.Reserve("scenario", nil)
		assert.NoError(t, err)

		results := make(chan error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); results <- coordinator.FinalizeSuccess(id) }()
		go func() { defer wg.Done(); results <- coordinator.FinalizeFailure(id, errors.New("contender")) }()
		wg.Wait()
		close(results)

		var wins, rejections int
		for err := range results {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, service.ErrAlreadyFinished):
				rejections++
			default:
				t.Fatalf("unexpected finalize error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, rejections)

		// The loser never overwrites the winner's terminal state.
		e, err := store.GetExecution(id)
		assert.NoError(t, err)
		assert.True(t, e.Terminal())
		if e.Status == models.FailedExecutionStatus {
			assert.Contains(t, e.ErrorMessage, "contender")
		} else {
			assert.Empty(t, e.ErrorMessage)
		}
	}
}

func TestFinalize_UnknownExecution(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, _, _ := newTestCoordinator(t, store, 1)

	assert.ErrorIs(t, coordinator.FinalizeSuccess(4242), service.ErrExecutionNotFound)
	assert.ErrorIs(t, coordinator.FinalizeFailure(4242, errors.New("boom")), service.ErrExecutionNotFound)
}

func TestFinalizeFailure_TruncatesOversizedErrors(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, _, _ := newTestCoordinator(t, store, 1)

	id, err := coordinator.Reserve("scenario", nil)
	assert.NoError(t, err)

	cause := errors.New(strings.Repeat("x", 5000))
	assert.NoError(t, coordinator.FinalizeFailure(id, cause))

	e, err := store.GetExecution(id)
	assert.NoError(t, err)
	assert.Equal(t, models.FailedExecutionStatus, e.Status)
	assert.LessOrEqual(t, len(e.ErrorMessage), 1000)
	assert.Contains(t, e.ErrorMessage, "xxx")
}

func TestRun_ConcurrentExecutions(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, registry, _ := newTestCoordinator(t, store, 2)

	const n = 8 // more executions than workers
	registry.Register(service.ScenarioFunc{
		ScenarioName: "worker",
		Fn: func(sc *service.ScenarioContext) error {
			time.Sleep(10 * time.Millisecond)
			messageID := fmt.Sprintf("msg-%d", sc.ExecutionID())
			if _, err := sc.ReceiveMessage("payload", messageID, nil); err != nil {
				return err
			}
			return sc.StartStep("work")
		},
	})

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		var id int64
		var err error
		// The queue is bounded at the pool size, so back off on rejection.
		for {
			id, err = coordinator.Run("worker", nil)
			if !errors.Is(err, service.ErrPoolBusy) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		assert.NoError(t, err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		e := waitTerminal(t, store, id)
		assert.Equal(t, models.SuccessExecutionStatus, e.Status)
		// Sub-entities are never interleaved across executions.
		messages, err := store.ListMessages(id)
		assert.NoError(t, err)
		assert.Len(t, messages, 1)
		assert.Equal(t, fmt.Sprintf("msg-%d", id), messages[0].CitrusMessageID)
	}
}

func TestRun_PoolRejectionFinalizesExecution(t *testing.T) {
	store := storage.NewMockStore()
	coordinator, registry, pool := newTestCoordinator(t, store, 1)
	registry.Register(service.ScenarioFunc{
		ScenarioName: "never-runs",
		Fn:           func(sc *service.ScenarioContext) error { return nil },
	})

	pool.ShutdownNow()

	id, err := coordinator.Run("never-runs", nil)
	assert.ErrorIs(t, err, service.ErrPoolStopped)
	assert.Greater(t, id, int64(0))

	e, err := store.GetExecution(id)
	assert.NoError(t, err)
	assert.Equal(t, models.FailedExecutionStatus, e.Status)
}
