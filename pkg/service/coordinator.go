package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/citrusframework/citrus-simulator-sub000/pkg/models"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/storage"
	"github.com/pkg/errors"
)

// maxErrorMessageLength bounds the error text stored on a failed execution.
// Oversized diagnostics are truncated rather than failing the finalize.
const maxErrorMessageLength = 1000

var (
	// ErrExecutionNotFound indicates a finalize/attach/complete targeted an
	// execution nobody reserved. This is a caller bug, never retried.
	ErrExecutionNotFound = errors.New("no such scenario execution")
	// ErrAlreadyFinished indicates a second finalize attempt on a terminal
	// execution; the terminal state is never overwritten.
	ErrAlreadyFinished = errors.New("scenario execution already finished")
	// ErrScenarioNotFound indicates no scenario is registered under the
	// requested name.
	ErrScenarioNotFound = errors.New("scenario not found")
)

// ExecutionCoordinator owns the lifecycle protocol of a scenario execution:
// it reserves a durable execution row synchronously, dispatches the scenario
// body to the worker pool while holding exclusive ownership of the row, and
// commits the single terminal write that releases ownership.
//
// Ownership is an explicit in-process lock registry keyed by execution id.
// Reserve registers a per-execution lock once the insert commits; finalize
// holds that lock across its whole transaction, so the terminal check and
// write serialize in-process no matter how the backing store locks, and a
// losing finalize always observes the terminal state. The postgres store
// additionally locks the row inside the transaction. Plain reads are never
// affected.
type ExecutionCoordinator struct {
	store    storage.Store
	logger   Logger
	clock    Clock
	pool     *WorkerPool
	registry *ScenarioRegistry
	actions  *ActionService
	messages *MessageService

	mu    sync.Mutex
	owned map[int64]*sync.Mutex
}

func NewExecutionCoordinator(store storage.Store, pool *WorkerPool, registry *ScenarioRegistry, logger Logger, clock Clock) *ExecutionCoordinator {
	return &ExecutionCoordinator{
		store:    store,
		logger:   logger,
		clock:    clock,
		pool:     pool,
		registry: registry,
		actions:  NewActionService(store, logger, clock),
		messages: NewMessageService(store, logger, clock),
		owned:    make(map[int64]*sync.Mutex),
	}
}

// Actions returns the action correlator bound to this coordinator's store.
func (c *ExecutionCoordinator) Actions() *ActionService { return c.actions }

// Messages returns the message correlator bound to this coordinator's store.
func (c *ExecutionCoordinator) Messages() *MessageService { return c.messages }

// Reserve persists a new RUNNING execution with its parameters, takes
// exclusive ownership of the row, and returns the assigned id.
func (c *ExecutionCoordinator) Reserve(scenarioName string, parameters map[string]string) (id int64, err error) {
	txStore, err := c.store.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				c.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			c.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
			return
		}
		// The row exists only once the insert commits, so ownership
		// registration waits for the commit too.
		c.mu.Lock()
		c.owned[id] = &sync.Mutex{}
		c.mu.Unlock()
	}()

	e := models.ScenarioExecution{
		ScenarioName: scenarioName,
		StartDate:    c.clock.Now(),
		Status:       models.RunningExecutionStatus,
		Parameters:   parametersOf(parameters),
	}
	id, err = txStore.SaveExecution(e)
	if err != nil {
		return 0, err
	}

	c.logger.Infof("Reserved execution %d for scenario '%s'", id, scenarioName)
	return id, nil
}

// Dispatch submits the scenario body to the worker pool. It is fire and
// forget: the outcome is observed only through the store. The wrapper
// guarantees a terminal state: a returned error or a panic from the body
// becomes FinalizeFailure, nil becomes FinalizeSuccess.
func (c *ExecutionCoordinator) Dispatch(id int64, body func(ctx context.Context) error) error {
	return c.pool.Submit(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				cause := errors.Errorf("scenario panicked: %v", r)
				if err := c.FinalizeFailure(id, cause); err != nil {
					c.logger.Errorf("Failed to finalize execution %d after panic: %v", id, err)
				}
			}
		}()
		if err := body(ctx); err != nil {
			if ferr := c.FinalizeFailure(id, err); ferr != nil {
				c.logger.Errorf("Failed to finalize execution %d as failed: %v", id, ferr)
			}
			return
		}
		if err := c.FinalizeSuccess(id); err != nil {
			c.logger.Errorf("Failed to finalize execution %d as successful: %v", id, err)
		}
	})
}

// Run resolves the named scenario, reserves an execution and dispatches the
// scenario body. The id is returned before the body has necessarily run.
// After the reservation the only possible failure is the pool rejecting the
// submission (e.g. during shutdown); in that case the reserved execution is
// finalized as failed and the id is returned together with the error.
func (c *ExecutionCoordinator) Run(scenarioName string, parameters map[string]string) (int64, error) {
	scenario, ok := c.registry.Lookup(scenarioName)
	if !ok {
		return 0, errors.Wrapf(ErrScenarioNotFound, "name '%s'", scenarioName)
	}
	return c.RunScenario(scenario, parameters)
}

// RunScenario is Run for a direct scenario instance, bypassing the registry.
func (c *ExecutionCoordinator) RunScenario(scenario Scenario, parameters map[string]string) (int64, error) {
	id, err := c.Reserve(scenario.Name(), parameters)
	if err != nil {
		return 0, err
	}
	sc := &ScenarioContext{
		executionID: id,
		parameters:  parameters,
		actions:     c.actions,
		messages:    c.messages,
	}
	err = c.Dispatch(id, func(ctx context.Context) error {
		sc.ctx = ctx
		return scenario.Run(sc)
	})
	if err != nil {
		if ferr := c.FinalizeFailure(id, err); ferr != nil {
			c.logger.Errorf("Failed to finalize rejected execution %d: %v", id, ferr)
		}
		return id, errors.Wrapf(err, "failed to dispatch execution %d", id)
	}
	return id, nil
}

// FinalizeSuccess commits the terminal SUCCESS write and releases ownership.
func (c *ExecutionCoordinator) FinalizeSuccess(id int64) error {
	return c.finalize(id, models.SuccessExecutionStatus, nil)
}

// FinalizeFailure commits the terminal FAILED write, recording the cause,
// and releases ownership.
func (c *ExecutionCoordinator) FinalizeFailure(id int64, cause error) error {
	return c.finalize(id, models.FailedExecutionStatus, cause)
}

func (c *ExecutionCoordinator) finalize(id int64, status models.ExecutionStatus, cause error) (err error) {
	own := c.ownership(id)
	if own != nil {
		own.Lock()
	}
	defer func() {
		// Ownership ends once the execution is terminal. A transient store
		// failure keeps the lock registered so a retry still owns the row.
		if err == nil || errors.Is(err, ErrAlreadyFinished) || errors.Is(err, ErrExecutionNotFound) {
			c.mu.Lock()
			delete(c.owned, id)
			c.mu.Unlock()
		}
		if own != nil {
			own.Unlock()
		}
	}()

	txStore, err := c.store.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				c.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			c.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	e, err := txStore.LockExecution(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errors.Wrapf(ErrExecutionNotFound, "id %d", id)
		}
		return err
	}
	if e.Terminal() {
		return errors.Wrapf(ErrAlreadyFinished, "execution %d is %s", id, e.Status)
	}

	end := c.clock.Now()
	errorMessage := ""
	failureType := ""
	if cause != nil {
		failureType = fmt.Sprintf("%T", errors.Cause(cause))
		errorMessage = truncate(fmt.Sprintf("%s: %s", failureType, cause.Error()), maxErrorMessageLength)
	}
	if err = txStore.FinalizeExecution(id, status, end, errorMessage); err != nil {
		return err
	}

	result := models.TestResult{
		ExecutionID:  id,
		Status:       models.SuccessTestResultStatus,
		TestName:     e.ScenarioName,
		ClassName:    e.ScenarioName,
		CreatedAt:    end,
		ErrorMessage: errorMessage,
		FailureType:  failureType,
	}
	if status == models.FailedExecutionStatus {
		result.Status = models.FailureTestResultStatus
		if cause != nil {
			result.FailureStack = truncate(fmt.Sprintf("%+v", cause), maxErrorMessageLength)
		}
	}
	for _, p := range e.Parameters {
		result.Parameters = append(result.Parameters, models.TestParameter{Key: p.Name, Value: p.Value})
	}
	if _, err = txStore.SaveTestResult(result); err != nil {
		return err
	}

	c.logger.Infof("Finalized execution %d of scenario '%s' with status %s", id, e.ScenarioName, status)
	return nil
}

// ownership returns the per-execution lock registered at Reserve, or nil
// for executions this process never reserved (then the store alone
// serializes the terminal write).
func (c *ExecutionCoordinator) ownership(id int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owned[id]
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func parametersOf(parameters map[string]string) []models.ScenarioParameter {
	if len(parameters) == 0 {
		return nil
	}
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]models.ScenarioParameter, 0, len(names))
	for _, name := range names {
		out = append(out, models.ScenarioParameter{Name: name, Value: parameters[name]})
	}
	return out
}
