package storage

import (
	"context"

	"finledger/internal/core"
)

// Ports implemented by durable backends. Every call is independently
// fallible; field naming and encoding stay inside the adapter.
type (
	TransactionStore interface {
		GetAllTransactions(ctx context.Context) ([]core.Transaction, error)
		SaveTransaction(ctx context.Context, t core.Transaction) error
		DeleteTransaction(ctx context.Context, id string) error
		GetTombstones(ctx context.Context) ([]string, error)
		AddTombstone(ctx context.Context, id string) error
		// ReplaceTransactions swaps the whole transaction set and clears
		// tombstones; other collections are untouched.
		ReplaceTransactions(ctx context.Context, txs []core.Transaction) error
	}

	BudgetStore interface {
		GetAllBudgets(ctx context.Context) ([]core.CategoryBudget, error)
		SaveBudget(ctx context.Context, b core.CategoryBudget) error
		DeleteBudget(ctx context.Context, id string) error
	}

	RecurringStore interface {
		GetAllRecurring(ctx context.Context) ([]core.RecurringTemplate, error)
		SaveRecurring(ctx context.Context, rt core.RecurringTemplate) error
		DeleteRecurring(ctx context.Context, id string) error
	}

	NotificationStore interface {
		GetAllNotifications(ctx context.Context) ([]core.Notification, error)
		SaveNotification(ctx context.Context, n core.Notification) error
		DeleteNotification(ctx context.Context, id string) error
		ClearNotifications(ctx context.Context) error
	}

	SettingsStore interface {
		GetSettings(ctx context.Context) (core.Settings, bool, error)
		SaveSettings(ctx context.Context, s core.Settings) error
	}

	// Port is the full storage surface the ledger core consumes.
	Port interface {
		TransactionStore
		BudgetStore
		RecurringStore
		NotificationStore
		SettingsStore

		// ImportAll replaces transactions, budgets, recurring templates and
		// settings with the snapshot content and clears tombstones.
		ImportAll(ctx context.Context, s core.Snapshot) error
		// ClearAll removes every collection.
		ClearAll(ctx context.Context) error
	}
)
