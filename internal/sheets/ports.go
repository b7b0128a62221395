package sheets

import (
	"context"

	"finledger/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionMirror keeps a spreadsheet copy of the ledger, one row per
	// transaction keyed by id.
	TransactionMirror interface {
		// Upsert writes tx to its existing row or appends a new one.
		Upsert(ctx context.Context, tx core.Transaction) (rowRef string, err error)
		// Delete removes the row of id. A missing row is not an error.
		Delete(ctx context.Context, id string) error
		// Replace rewrites the whole mirror.
		Replace(ctx context.Context, txs []core.Transaction) error
	}

	// TransactionLister reads the mirror back for one month.
	TransactionLister interface {
		ListTransactions(ctx context.Context, year int, month int) ([]core.Transaction, error)
	}
)
