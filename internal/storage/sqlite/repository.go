// Package sqlite is the durable storage port backed by a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/storage"

	_ "modernc.org/sqlite"
)

var _ storage.Port = (*Repository)(nil)

const timeLayout = time.RFC3339Nano

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping implements the readiness check used by the HTTP server.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Transactions

const upsertTransaction = `
INSERT INTO transactions (id, title, amount, category, type, date, original_currency,
    description, is_recurring, recurring_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    amount = excluded.amount,
    category = excluded.category,
    type = excluded.type,
    date = excluded.date,
    original_currency = excluded.original_currency,
    description = excluded.description,
    is_recurring = excluded.is_recurring,
    recurring_id = excluded.recurring_id,
    created_at = excluded.created_at`

func saveTransaction(ctx context.Context, ex execer, t core.Transaction) error {
	_, err := ex.ExecContext(ctx, upsertTransaction,
		t.ID, t.Title, t.Amount.String(), t.Category, string(t.Type), t.Date.String(),
		t.OriginalCurrency, t.Description, boolToInt(t.IsRecurring), t.RecurringID,
		t.CreatedAt.UTC().Format(timeLayout))
	return err
}

func (r *Repository) SaveTransaction(ctx context.Context, t core.Transaction) error {
	if err := saveTransaction(ctx, r.db, t); err != nil {
		return fmt.Errorf("save transaction %s: %w", t.ID, err)
	}
	slog.DebugContext(ctx, "Transaction saved to SQLite", "id", t.ID, "type", t.Type, "amount", t.Amount.String())
	return nil
}

func (r *Repository) GetAllTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, title, amount, category, type, date, original_currency, description,
    is_recurring, recurring_id, created_at
FROM transactions
ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t                          core.Transaction
			amount, typ, date, created string
			isRecurring                int64
		)
		if err := rows.Scan(&t.ID, &t.Title, &amount, &t.Category, &typ, &date,
			&t.OriginalCurrency, &t.Description, &isRecurring, &t.RecurringID, &created); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", t.ID, err)
		}
		if t.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("transaction %s date: %w", t.ID, err)
		}
		if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("transaction %s created_at: %w", t.ID, err)
		}
		t.Type = core.TransactionType(typ)
		t.IsRecurring = isRecurring != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return nil
}

func (r *Repository) GetTombstones(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM tombstones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) AddTombstone(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tombstones (id, deleted_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("add tombstone %s: %w", id, err)
	}
	return nil
}

func (r *Repository) ReplaceTransactions(ctx context.Context, txs []core.Transaction) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"transactions", "tombstones"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		for _, t := range txs {
			if err := saveTransaction(ctx, tx, t); err != nil {
				return fmt.Errorf("replace transaction %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// Budgets

const upsertBudget = `
INSERT INTO budgets (id, category, monthly_limit, alert_threshold, is_active, currency)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    category = excluded.category,
    monthly_limit = excluded.monthly_limit,
    alert_threshold = excluded.alert_threshold,
    is_active = excluded.is_active,
    currency = excluded.currency`

func saveBudget(ctx context.Context, ex execer, b core.CategoryBudget) error {
	_, err := ex.ExecContext(ctx, upsertBudget,
		b.ID, b.Category, b.MonthlyLimit.String(), b.AlertThreshold, boolToInt(b.IsActive), b.Currency)
	return err
}

func (r *Repository) SaveBudget(ctx context.Context, b core.CategoryBudget) error {
	if err := saveBudget(ctx, r.db, b); err != nil {
		return fmt.Errorf("save budget %s: %w", b.ID, err)
	}
	return nil
}

func (r *Repository) GetAllBudgets(ctx context.Context) ([]core.CategoryBudget, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, category, monthly_limit, alert_threshold, is_active, currency
FROM budgets
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryBudget
	for rows.Next() {
		var (
			b        core.CategoryBudget
			limit    string
			isActive int64
		)
		if err := rows.Scan(&b.ID, &b.Category, &limit, &b.AlertThreshold, &isActive, &b.Currency); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		if b.MonthlyLimit, err = decimal.NewFromString(limit); err != nil {
			return nil, fmt.Errorf("budget %s limit: %w", b.ID, err)
		}
		b.IsActive = isActive != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteBudget(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete budget %s: %w", id, err)
	}
	return nil
}

// Recurring templates

const upsertRecurring = `
INSERT INTO recurring_templates (id, title, amount, category, type, frequency, start_date,
    end_date, next_occurrence, last_generated, is_active, original_currency, description)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    amount = excluded.amount,
    category = excluded.category,
    type = excluded.type,
    frequency = excluded.frequency,
    start_date = excluded.start_date,
    end_date = excluded.end_date,
    next_occurrence = excluded.next_occurrence,
    last_generated = excluded.last_generated,
    is_active = excluded.is_active,
    original_currency = excluded.original_currency,
    description = excluded.description`

func saveRecurring(ctx context.Context, ex execer, rt core.RecurringTemplate) error {
	_, err := ex.ExecContext(ctx, upsertRecurring,
		rt.ID, rt.Title, rt.Amount.String(), rt.Category, string(rt.Type), string(rt.Frequency),
		rt.StartDate.String(), nullDate(rt.EndDate), rt.NextOccurrence.String(), nullDate(rt.LastGenerated),
		boolToInt(rt.IsActive), rt.OriginalCurrency, rt.Description)
	return err
}

func (r *Repository) SaveRecurring(ctx context.Context, rt core.RecurringTemplate) error {
	if err := saveRecurring(ctx, r.db, rt); err != nil {
		return fmt.Errorf("save recurring template %s: %w", rt.ID, err)
	}
	return nil
}

func (r *Repository) GetAllRecurring(ctx context.Context) ([]core.RecurringTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, title, amount, category, type, frequency, start_date, end_date,
    next_occurrence, last_generated, is_active, original_currency, description
FROM recurring_templates
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query recurring templates: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTemplate
	for rows.Next() {
		var (
			rt                       core.RecurringTemplate
			amount, typ, freq, start string
			next                     string
			endDate, lastGenerated   sql.NullString
			isActive                 int64
		)
		if err := rows.Scan(&rt.ID, &rt.Title, &amount, &rt.Category, &typ, &freq, &start, &endDate,
			&next, &lastGenerated, &isActive, &rt.OriginalCurrency, &rt.Description); err != nil {
			return nil, fmt.Errorf("scan recurring template: %w", err)
		}
		if rt.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("recurring template %s amount: %w", rt.ID, err)
		}
		if rt.StartDate, err = core.ParseDate(start); err != nil {
			return nil, fmt.Errorf("recurring template %s start_date: %w", rt.ID, err)
		}
		if rt.NextOccurrence, err = core.ParseDate(next); err != nil {
			return nil, fmt.Errorf("recurring template %s next_occurrence: %w", rt.ID, err)
		}
		if rt.EndDate, err = parseNullDate(endDate); err != nil {
			return nil, fmt.Errorf("recurring template %s end_date: %w", rt.ID, err)
		}
		if rt.LastGenerated, err = parseNullDate(lastGenerated); err != nil {
			return nil, fmt.Errorf("recurring template %s last_generated: %w", rt.ID, err)
		}
		rt.Type = core.TransactionType(typ)
		rt.Frequency = core.Frequency(freq)
		rt.IsActive = isActive != 0
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteRecurring(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM recurring_templates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete recurring template %s: %w", id, err)
	}
	return nil
}

// Notifications

func (r *Repository) SaveNotification(ctx context.Context, n core.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("encode notification payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO notifications (id, kind, created_at, is_read, payload, dedup_key)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    kind = excluded.kind,
    is_read = excluded.is_read,
    payload = excluded.payload,
    dedup_key = excluded.dedup_key`,
		n.ID, string(n.Kind), n.CreatedAt.UTC().Format(timeLayout), boolToInt(n.IsRead), string(payload), n.DedupKey)
	if err != nil {
		return fmt.Errorf("save notification %s: %w", n.ID, err)
	}
	return nil
}

func (r *Repository) GetAllNotifications(ctx context.Context) ([]core.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, kind, created_at, is_read, payload, dedup_key
FROM notifications
ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var (
			n                      core.Notification
			kind, created, payload string
			isRead                 int64
		)
		if err := rows.Scan(&n.ID, &kind, &created, &isRead, &payload, &n.DedupKey); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if n.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("notification %s created_at: %w", n.ID, err)
		}
		if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
			return nil, fmt.Errorf("notification %s payload: %w", n.ID, err)
		}
		n.Kind = core.NotificationKind(kind)
		n.IsRead = isRead != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteNotification(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	return nil
}

func (r *Repository) ClearNotifications(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM notifications`); err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}
	return nil
}

// Settings

func (r *Repository) GetSettings(ctx context.Context) (core.Settings, bool, error) {
	var (
		s       core.Settings
		enabled int64
		updated string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT currency, notifications_enabled, updated_at FROM settings WHERE id = 1`).
		Scan(&s.Currency, &enabled, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Settings{}, false, nil
	}
	if err != nil {
		return core.Settings{}, false, fmt.Errorf("query settings: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return core.Settings{}, false, fmt.Errorf("settings updated_at: %w", err)
	}
	s.NotificationsEnabled = enabled != 0
	return s, true, nil
}

func saveSettings(ctx context.Context, ex execer, s core.Settings) error {
	_, err := ex.ExecContext(ctx, `
INSERT INTO settings (id, currency, notifications_enabled, updated_at)
VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    currency = excluded.currency,
    notifications_enabled = excluded.notifications_enabled,
    updated_at = excluded.updated_at`,
		s.Currency, boolToInt(s.NotificationsEnabled), s.UpdatedAt.UTC().Format(timeLayout))
	return err
}

func (r *Repository) SaveSettings(ctx context.Context, s core.Settings) error {
	if err := saveSettings(ctx, r.db, s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Bulk operations

// ImportAll swaps the ledger content in one SQL transaction. Notifications
// are left alone.
func (r *Repository) ImportAll(ctx context.Context, snap core.Snapshot) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"transactions", "tombstones", "budgets", "recurring_templates", "settings"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		for _, t := range snap.Transactions {
			if err := saveTransaction(ctx, tx, t); err != nil {
				return fmt.Errorf("import transaction %s: %w", t.ID, err)
			}
		}
		for _, b := range snap.Budgets {
			if err := saveBudget(ctx, tx, b); err != nil {
				return fmt.Errorf("import budget %s: %w", b.ID, err)
			}
		}
		for _, rt := range snap.RecurringTransactions {
			if err := saveRecurring(ctx, tx, rt); err != nil {
				return fmt.Errorf("import recurring template %s: %w", rt.ID, err)
			}
		}
		if snap.Settings.Currency != "" {
			if err := saveSettings(ctx, tx, snap.Settings); err != nil {
				return fmt.Errorf("import settings: %w", err)
			}
		}
		slog.InfoContext(ctx, "Snapshot imported into SQLite",
			"transactions", len(snap.Transactions),
			"budgets", len(snap.Budgets),
			"recurring", len(snap.RecurringTransactions))
		return nil
	})
}

func (r *Repository) ClearAll(ctx context.Context) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"transactions", "tombstones", "budgets", "recurring_templates", "notifications", "settings"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullDate(d *core.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*core.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := core.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
