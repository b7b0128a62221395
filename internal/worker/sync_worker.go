// Package worker applies ledger change events to the spreadsheet mirror.
package worker

import (
	"context"
	"fmt"

	"finledger/internal/amqp"
	"finledger/internal/log"
	"finledger/internal/sheets"
	"finledger/internal/storage"
)

// SyncWorker keeps a TransactionMirror in step with the ledger.
type SyncWorker struct {
	mirror sheets.TransactionMirror
	// source is optional; with it the worker can rebuild the mirror from
	// durable storage.
	source storage.TransactionStore
	logger *log.Logger
}

func NewSyncWorker(mirror sheets.TransactionMirror, source storage.TransactionStore, logger *log.Logger) *SyncWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SyncWorker{
		mirror: mirror,
		source: source,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent applies one event. Returning an error makes the consumer
// requeue the message.
func (w *SyncWorker) HandleEvent(ctx context.Context, ev *amqp.TransactionEvent) error {
	switch ev.Kind {
	case amqp.TransactionCreated, amqp.TransactionUpdated:
		ref, err := w.mirror.Upsert(ctx, *ev.Transaction)
		if err != nil {
			return fmt.Errorf("mirror transaction %s: %w", ev.TransactionID, err)
		}
		w.logger.InfoContext(ctx, "Successfully synced transaction",
			log.FieldTransactionID, ev.TransactionID,
			"kind", ev.Kind,
			"sheets_ref", ref)
	case amqp.TransactionDeleted:
		if err := w.mirror.Delete(ctx, ev.TransactionID); err != nil {
			return fmt.Errorf("delete mirrored transaction %s: %w", ev.TransactionID, err)
		}
		w.logger.InfoContext(ctx, "Successfully deleted mirrored transaction",
			log.FieldTransactionID, ev.TransactionID)
	case amqp.TransactionsReplaced:
		if err := w.mirror.Replace(ctx, ev.Transactions); err != nil {
			return fmt.Errorf("replace mirror: %w", err)
		}
		w.logger.InfoContext(ctx, "Mirror rebuilt from import", log.FieldCount, len(ev.Transactions))
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}

// StartupSync rebuilds the mirror from storage, recovering events missed
// while the worker was down. Without a source it does nothing.
func (w *SyncWorker) StartupSync(ctx context.Context) error {
	if w.source == nil {
		w.logger.InfoContext(ctx, "No transaction source configured, skipping startup sync")
		return nil
	}
	txs, err := w.source.GetAllTransactions(ctx)
	if err != nil {
		return fmt.Errorf("load transactions for startup sync: %w", err)
	}
	if err := w.mirror.Replace(ctx, txs); err != nil {
		return fmt.Errorf("startup sync: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup sync completed",
		log.FieldOperation, log.OpSync,
		log.FieldCount, len(txs))
	return nil
}
