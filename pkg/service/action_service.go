package service

import (
	"github.com/citrusframework/citrus-simulator-sub000/pkg/models"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/storage"
	"github.com/pkg/errors"
)

// syntheticStepNames are internal pseudo-steps the framework emits around a
// scenario body. They carry no scenario meaning, so begin/complete signals
// for them are dropped without touching the store.
var syntheticStepNames = map[string]struct{}{
	"create-variables": {},
}

// ActionService records named, timed sub-steps of a scenario execution.
type ActionService struct {
	store  storage.Store
	logger Logger
	clock  Clock
}

func NewActionService(store storage.Store, logger Logger, clock Clock) *ActionService {
	return &ActionService{
		store:  store,
		logger: logger,
		clock:  clock,
	}
}

// Begin opens a new action for the named step and returns it. Synthetic step
// names are filtered: the returned action is nil and nothing is persisted.
func (as *ActionService) Begin(executionID int64, name string) (action *models.ScenarioAction, err error) {
	if _, synthetic := syntheticStepNames[name]; synthetic {
		return nil, nil
	}
	txStore, err := as.store.Begin()
	if err != nil {
		as.logger.Errorf("Failed to begin transaction for action %s: %v", name, err)
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				as.logger.Errorf("Failed to rollback: %v", rollbackErr)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			as.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if _, err = txStore.GetExecution(executionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Wrapf(ErrExecutionNotFound, "id %d", executionID)
		}
		return nil, err
	}

	a := models.ScenarioAction{
		ExecutionID: executionID,
		Name:        name,
		StartDate:   as.clock.Now(),
	}
	actionID, err := txStore.SaveAction(a)
	if err != nil {
		as.logger.Errorf("Failed to save action %s for execution %d: %v", name, executionID, err)
		return nil, err
	}
	a.ID = actionID
	as.logger.Infof("Started action '%s' (%d) for execution %d", name, actionID, executionID)
	return &a, nil
}

// Complete closes the most recently started still-open action with the given
// name. A step that repeats under the same name opens a new action per
// repetition; completion always targets the newest open one, never an
// earlier already-closed instance. Synthetic step names are a no-op.
func (as *ActionService) Complete(executionID int64, name string) (err error) {
	if _, synthetic := syntheticStepNames[name]; synthetic {
		return nil
	}
	txStore, err := as.store.Begin()
	if err != nil {
		as.logger.Errorf("Failed to begin transaction for action %s: %v", name, err)
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				as.logger.Errorf("Failed to rollback: %v", rollbackErr)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			as.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if _, err = txStore.GetExecution(executionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errors.Wrapf(ErrExecutionNotFound, "id %d", executionID)
		}
		return err
	}

	actions, err := txStore.ListActions(executionID)
	if err != nil {
		return err
	}
	var open *models.ScenarioAction
	for i := range actions {
		a := &actions[i]
		if a.Name != name || a.EndDate != nil {
			continue
		}
		if open == nil || a.StartDate.After(open.StartDate) || (a.StartDate.Equal(open.StartDate) && a.ID > open.ID) {
			open = a
		}
	}
	if open == nil {
		return errors.Errorf("no test action found with name %s for execution %d", name, executionID)
	}

	if err = txStore.FinishAction(open.ID, as.clock.Now()); err != nil {
		as.logger.Errorf("Failed to finish action %s (%d): %v", name, open.ID, err)
		return err
	}
	as.logger.Infof("Completed action '%s' (%d) for execution %d", name, open.ID, executionID)
	return nil
}
