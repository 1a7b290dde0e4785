package service_test

import (
	"testing"

	"github.com/citrusframework/citrus-simulator-sub000/pkg/models"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/service"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func newTestExecution(t *testing.T, store storage.Store) int64 {
	t.Helper()
	id, err := store.SaveExecution(models.ScenarioExecution{
		ScenarioName: "test",
		Status:       models.RunningExecutionStatus,
		StartDate:    newFakeClock().Now(),
	})
	assert.NoError(t, err)
	return id
}

func TestActionService_BeginAndComplete(t *testing.T) {
	store := storage.NewMockStore()
	svc := service.NewActionService(store, testLogger{}, newFakeClock())
	id := newTestExecution(t, store)

	action, err := svc.Begin(id, "validate-request")
	assert.NoError(t, err)
	assert.NotNil(t, action)
	assert.Greater(t, action.ID, int64(0))
	assert.Nil(t, action.EndDate)

	assert.NoError(t, svc.Complete(id, "validate-request"))

	actions, err := store.ListActions(id)
	assert.NoError(t, err)
	assert.Len(t, actions, 1)
	assert.NotNil(t, actions[0].EndDate)
	assert.True(t, actions[0].EndDate.After(actions[0].StartDate))
}

func TestActionService_CompleteClosesMostRecentOpen(t *testing.T) {
	store := storage.NewMockStore()
	svc := service.NewActionService(store, testLogger{}, newFakeClock())
	id := newTestExecution(t, store)

	// A step repeating under the same name, e.g. inside a loop: the first
	// instance is already closed, the second is still open.
	first, err := svc.Begin(id, "step")
	assert.NoError(t, err)
	assert.NoError(t, svc.Complete(id, "step"))
	second, err := svc.Begin(id, "step")
	assert.NoError(t, err)

	actions, err := store.ListActions(id)
	assert.NoError(t, err)
	assert.Len(t, actions, 2)
	firstEnd := *actions[0].EndDate

	assert.NoError(t, svc.Complete(id, "step"))

	actions, err = store.ListActions(id)
	assert.NoError(t, err)
	for _, a := range actions {
		switch a.ID {
		case first.ID:
			// The already-closed instance keeps its original end date.
			assert.Equal(t, firstEnd, *a.EndDate)
		case second.ID:
			assert.NotNil(t, a.EndDate)
		}
	}
}

func TestActionService_SyntheticStepFilter(t *testing.T) {
	store := storage.NewMockStore()
	svc := service.NewActionService(store, testLogger{}, newFakeClock())
	id := newTestExecution(t, store)

	action, err := svc.Begin(id, "create-variables")
	assert.NoError(t, err)
	assert.Nil(t, action)
	assert.NoError(t, svc.Complete(id, "create-variables"))

	actions, err := store.ListActions(id)
	assert.NoError(t, err)
	assert.Empty(t, actions)
}

func TestActionService_CompleteWithoutOpenAction(t *testing.T) {
	store := storage.NewMockStore()
	svc := service.NewActionService(store, testLogger{}, newFakeClock())
	id := newTestExecution(t, store)

	err := svc.Complete(id, "step")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no test action found with name step")

	_, err = svc.Begin(id, "step")
	assert.NoError(t, err)
	assert.NoError(t, svc.Complete(id, "step"))
	// The only instance is closed now, so a second completion fails again.
	err = svc.Complete(id, "step")
	assert.Error(t, err)
}

func TestActionService_UnknownExecution(t *testing.T) {
	store := storage.NewMockStore()
	svc := service.NewActionService(store, testLogger{}, newFakeClock())

	_, err := svc.Begin(99, "step")
	assert.ErrorIs(t, err, service.ErrExecutionNotFound)
	assert.ErrorIs(t, svc.Complete(99, "step"), service.ErrExecutionNotFound)
}
