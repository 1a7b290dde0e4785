package service

import (
	"sort"

	"github.com/citrusframework/citrus-simulator-sub000/pkg/models"
	"github.com/citrusframework/citrus-simulator-sub000/pkg/storage"
	"github.com/pkg/errors"
)

// MessageService correlates exchanged messages to scenario executions. The
// (execution, direction, citrus message id) triple is idempotent: attaching
// the same triple twice returns the first persisted message.
type MessageService struct {
	store  storage.Store
	logger Logger
	clock  Clock
}

func NewMessageService(store storage.Store, logger Logger, clock Clock) *MessageService {
	return &MessageService{
		store:  store,
		logger: logger,
		clock:  clock,
	}
}

// Attach persists a message for the execution and returns it with its id
// populated. A dedup hit short-circuits entirely: no new row, no header
// re-write, no execution lookup, since the owning execution was validated on
// the first attach. The coordinator's per-execution ownership keeps this
// check-then-insert serialized against duplicate deliveries of the same
// citrus message id.
func (ms *MessageService) Attach(executionID int64, direction models.Direction, payload, citrusMessageID string, headers map[string]string) (msg models.Message, err error) {
	existing, err := ms.store.FindMessage(executionID, direction, citrusMessageID)
	if err == nil {
		ms.logger.Infof("Message %s (%s) already attached to execution %d, returning existing", citrusMessageID, direction, executionID)
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Message{}, err
	}

	txStore, err := ms.store.Begin()
	if err != nil {
		ms.logger.Errorf("Failed to begin transaction for message %s: %v", citrusMessageID, err)
		return models.Message{}, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ms.logger.Errorf("Failed to rollback: %v", rollbackErr)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ms.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if _, err = txStore.GetExecution(executionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Message{}, errors.Wrapf(ErrExecutionNotFound, "id %d", executionID)
		}
		return models.Message{}, err
	}

	now := ms.clock.Now()
	msg = models.Message{
		ExecutionID:     executionID,
		Direction:       direction,
		Payload:         payload,
		CitrusMessageID: citrusMessageID,
		CreatedAt:       now,
		ModifiedAt:      now,
		Headers:         headersOf(headers),
	}
	msgID, err := txStore.SaveMessage(msg)
	if err != nil {
		ms.logger.Errorf("Failed to save message %s for execution %d: %v", citrusMessageID, executionID, err)
		return models.Message{}, err
	}
	msg.ID = msgID
	for i := range msg.Headers {
		msg.Headers[i].MessageID = msgID
	}
	ms.logger.Infof("Attached %s message %s (%d) to execution %d", direction, citrusMessageID, msgID, executionID)
	return msg, nil
}

// headersOf turns a header map into an ordered collection, sorted by name so
// the persisted order is deterministic.
func headersOf(headers map[string]string) []models.MessageHeader {
	if len(headers) == 0 {
		return nil
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]models.MessageHeader, 0, len(names))
	for _, name := range names {
		out = append(out, models.MessageHeader{Name: name, Value: headers[name]})
	}
	return out
}
