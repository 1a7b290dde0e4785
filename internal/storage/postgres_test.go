package storage_test

import (
	"testing"
	"time"

	internal_storage "github.com/citrusframework/citrus-simulator-sub000/internal/storage"
	"github.com/citrusframework/citrus-simulator-sub000/internal/testutil"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/models"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	// Helper to create a transactional store
	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		assert.NoError(t, err)
		txStore, err := store.Begin()
		assert.NoError(t, err)
		t.Cleanup(func() { txStore.Rollback() })
		return txStore.(*internal_storage.PostgresStore)
	}

	newExecution := func(t *testing.T, store *internal_storage.PostgresStore, params ...models.ScenarioParameter) int64 {
		id, err := store.SaveExecution(models.ScenarioExecution{
			ScenarioName: "TestScenario",
			StartDate:    time.Now(),
			Status:       models.RunningExecutionStatus,
			Parameters:   params,
		})
		assert.NoError(t, err)
		return id
	}

	t.Run("SaveExecution", func(t *testing.T) {
		store := newTxStore(t)
		id := newExecution(t, store, models.ScenarioParameter{Name: "user", Value: "alice"})
		assert.Greater(t, id, int64(0))

		e, err := store.GetExecution(id)
		assert.NoError(t, err)
		assert.Equal(t, "TestScenario", e.ScenarioName)
		assert.Equal(t, models.RunningExecutionStatus, e.Status)
		assert.Nil(t, e.EndDate)
		// The lazy read carries no sub-entities.
		assert.Empty(t, e.Parameters)
	})

	t.Run("GetExecutionFull", func(t *testing.T) {
		store := newTxStore(t)
		id := newExecution(t, store, models.ScenarioParameter{Name: "user", Value: "alice"})

		actionID, err := store.SaveAction(models.ScenarioAction{ExecutionID: id, Name: "step", StartDate: time.Now()})
		assert.NoError(t, err)
		assert.Greater(t, actionID, int64(0))

		_, err = store.SaveMessage(models.Message{
			ExecutionID:     id,
			Direction:       models.InboundDirection,
			Payload:         "<ping/>",
			CitrusMessageID: "m1",
			CreatedAt:       time.Now(),
			ModifiedAt:      time.Now(),
			Headers:         []models.MessageHeader{{Name: "content-type", Value: "application/xml"}},
		})
		assert.NoError(t, err)

		e, err := store.GetExecutionFull(id)
		assert.NoError(t, err)
		assert.Len(t, e.Parameters, 1)
		assert.Len(t, e.Actions, 1)
		assert.Len(t, e.Messages, 1)
		assert.Len(t, e.Messages[0].Headers, 1)
		assert.Equal(t, "content-type", e.Messages[0].Headers[0].Name)
	})

	t.Run("GetNonExistingExecution", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetExecution(123456)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.GetExecutionFull(123456)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("LockExecution", func(t *testing.T) {
		store := newTxStore(t)
		id := newExecution(t, store, models.ScenarioParameter{Name: "k", Value: "v"})

		e, err := store.LockExecution(id)
		assert.NoError(t, err)
		assert.Equal(t, id, e.ID)
		// The locked read loads parameters for the finalize write.
		assert.Len(t, e.Parameters, 1)

		_, err = store.LockExecution(123456)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("FinalizeExecution", func(t *testing.T) {
		store := newTxStore(t)
		id := newExecution(t, store)

		end := time.Now()
		err := store.FinalizeExecution(id, models.FailedExecutionStatus, end, "errors.fatal: boom")
		assert.NoError(t, err)

		e, err := store.GetExecution(id)
		assert.NoError(t, err)
		assert.Equal(t, models.FailedExecutionStatus, e.Status)
		assert.NotNil(t, e.EndDate)
		assert.Equal(t, "errors.fatal: boom", e.ErrorMessage)

		err = store.FinalizeExecution(123456, models.SuccessExecutionStatus, end, "")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("FinishAction", func(t *testing.T) {
		store := newTxStore(t)
		id := newExecution(t, store)

		actionID, err := store.SaveAction(models.ScenarioAction{ExecutionID: id, Name: "step", StartDate: time.Now()})
		assert.NoError(t, err)
		assert.NoError(t, store.FinishAction(actionID, time.Now()))

		actions, err := store.ListActions(id)
		assert.NoError(t, err)
		assert.Len(t, actions, 1)
		assert.NotNil(t, actions[0].EndDate)

		assert.ErrorIs(t, store.FinishAction(123456, time.Now()), storage.ErrNotFound)
	})

	t.Run("ListActionsOrder", func(t *testing.T) {
		store := newTxStore(t)
		id := newExecution(t, store)

		base := time.Now()
		_, err := store.SaveAction(models.ScenarioAction{ExecutionID: id, Name: "second", StartDate: base.Add(time.Second)})
		assert.NoError(t, err)
		_, err = store.SaveAction(models.ScenarioAction{ExecutionID: id, Name: "first", StartDate: base})
		assert.NoError(t, err)

		actions, err := store.ListActions(id)
		assert.NoError(t, err)
		assert.Len(t, actions, 2)
		assert.Equal(t, "first", actions[0].Name)
		assert.Equal(t, "second", actions[1].Name)
	})

	t.Run("FindMessage", func(t *testing.T) {
		store := newTxStore(t)
		id := newExecution(t, store)

		_, err := store.FindMessage(id, models.InboundDirection, "m1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		msgID, err := store.SaveMessage(models.Message{
			ExecutionID:     id,
			Direction:       models.InboundDirection,
			Payload:         "payload",
			CitrusMessageID: "m1",
			CreatedAt:       time.Now(),
			ModifiedAt:      time.Now(),
		})
		assert.NoError(t, err)

		found, err := store.FindMessage(id, models.InboundDirection, "m1")
		assert.NoError(t, err)
		assert.Equal(t, msgID, found.ID)

		// Same correlation key under another direction is a different message.
		_, err = store.FindMessage(id, models.OutboundDirection, "m1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("SaveTestResult", func(t *testing.T) {
		store := newTxStore(t)
		id := newExecution(t, store)

		resultID, err := store.SaveTestResult(models.TestResult{
			ExecutionID: id,
			Status:      models.SuccessTestResultStatus,
			TestName:    "TestScenario",
			ClassName:   "TestScenario",
			CreatedAt:   time.Now(),
			Parameters:  []models.TestParameter{{Key: "user", Value: "alice"}},
		})
		assert.NoError(t, err)
		assert.Greater(t, resultID, int64(0))

		e, err := store.GetExecutionFull(id)
		assert.NoError(t, err)
		assert.NotNil(t, e.TestResult)
		assert.Equal(t, models.SuccessTestResultStatus, e.TestResult.Status)
		assert.Len(t, e.TestResult.Parameters, 1)
	})

	t.Run("ListExecutions", func(t *testing.T) {
		store := newTxStore(t)
		newExecution(t, store)
		newExecution(t, store)

		executions, err := store.ListExecutions()
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, len(executions), 2)
	})
}
