// Package adapters decorates storage ports with side effects that the
// ledger core does not know about.
package adapters

import (
	"context"
	"sync"

	"finledger/internal/amqp"
	"finledger/internal/core"
	"finledger/internal/log"
	"finledger/internal/storage"
)

// PublishingStore forwards every call to the wrapped port and, after a
// transaction write succeeds, publishes a change event. Publish failures are
// logged and never surface to the caller: the local write already happened.
type PublishingStore struct {
	storage.Port
	publisher amqp.Publisher
	logger    *log.Logger

	mu    sync.Mutex
	known map[string]struct{}
}

var _ storage.Port = (*PublishingStore)(nil)

func NewPublishingStore(port storage.Port, publisher amqp.Publisher, logger *log.Logger) *PublishingStore {
	if logger == nil {
		logger = log.Discard()
	}
	return &PublishingStore{
		Port:      port,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentAMQP),
		known:     make(map[string]struct{}),
	}
}

func (s *PublishingStore) GetAllTransactions(ctx context.Context) ([]core.Transaction, error) {
	txs, err := s.Port.GetAllTransactions(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, tx := range txs {
		s.known[tx.ID] = struct{}{}
	}
	s.mu.Unlock()
	return txs, nil
}

func (s *PublishingStore) SaveTransaction(ctx context.Context, t core.Transaction) error {
	if err := s.Port.SaveTransaction(ctx, t); err != nil {
		return err
	}
	s.mu.Lock()
	_, seen := s.known[t.ID]
	s.known[t.ID] = struct{}{}
	s.mu.Unlock()

	kind := amqp.TransactionCreated
	if seen {
		kind = amqp.TransactionUpdated
	}
	s.publish(ctx, amqp.NewTransactionEvent(kind, t))
	return nil
}

func (s *PublishingStore) DeleteTransaction(ctx context.Context, id string) error {
	if err := s.Port.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.known, id)
	s.mu.Unlock()
	s.publish(ctx, amqp.NewDeleteEvent(id))
	return nil
}

func (s *PublishingStore) ReplaceTransactions(ctx context.Context, txs []core.Transaction) error {
	if err := s.Port.ReplaceTransactions(ctx, txs); err != nil {
		return err
	}
	s.reset(txs)
	s.publish(ctx, amqp.NewReplaceEvent(txs))
	return nil
}

func (s *PublishingStore) ImportAll(ctx context.Context, snap core.Snapshot) error {
	if err := s.Port.ImportAll(ctx, snap); err != nil {
		return err
	}
	s.reset(snap.Transactions)
	s.publish(ctx, amqp.NewReplaceEvent(snap.Transactions))
	return nil
}

func (s *PublishingStore) ClearAll(ctx context.Context) error {
	if err := s.Port.ClearAll(ctx); err != nil {
		return err
	}
	s.reset(nil)
	s.publish(ctx, amqp.NewReplaceEvent(nil))
	return nil
}

func (s *PublishingStore) reset(txs []core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		s.known[tx.ID] = struct{}{}
	}
}

func (s *PublishingStore) publish(ctx context.Context, event *amqp.TransactionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransactionEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish transaction event",
			"kind", event.Kind,
			log.FieldTransactionID, event.TransactionID,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
		return
	}
	s.logger.DebugContext(ctx, "Published transaction event",
		"kind", event.Kind,
		log.FieldTransactionID, event.TransactionID)
}
