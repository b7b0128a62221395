// Package services wires the ledger components together and exposes the
// actions the transports call.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"finledger/internal/budget"
	"finledger/internal/core"
	"finledger/internal/currency"
	"finledger/internal/ledger"
	"finledger/internal/log"
	"finledger/internal/notify"
	"finledger/internal/recurring"
	"finledger/internal/storage"
)

// Config holds the tunables of the finance service.
type Config struct {
	// ReferenceCurrency is used until settings say otherwise.
	ReferenceCurrency string
	PersistTimeout    time.Duration
	Recurring         recurring.Config
	Notify            notify.Config
}

// Deps are the collaborators of the finance service. Only Storage is
// required.
type Deps struct {
	Storage        storage.Port
	Converter      currency.Converter
	Clock          core.Clock
	Logger         *log.Logger
	Config         Config
	OnPersistError storage.ErrorHandler
}

// SettingsPatch changes only the non-nil fields.
type SettingsPatch struct {
	Currency             *string
	NotificationsEnabled *bool
}

// MonthSummary is the dashboard view of one month, in the reference
// currency.
type MonthSummary struct {
	Month    int    `json:"month"`
	Year     int    `json:"year"`
	Currency string `json:"currency"`
	core.Summary
	// NetWorth is cumulative up to the end of the month.
	NetWorth decimal.Decimal `json:"netWorth"`
	// TotalCashBalance covers the whole history.
	TotalCashBalance decimal.Decimal   `json:"totalCashBalance"`
	Budgets          []budget.Progress `json:"budgets"`
}

// Finance is the single logical writer over the ledger state. Every action
// runs under one mutex; component stores guard their own reads.
type Finance struct {
	mu sync.Mutex

	port     storage.Port
	writer   *storage.AsyncWriter
	conv     currency.Converter
	clock    core.Clock
	logger   *log.Logger
	settings core.Settings
	settMu   sync.RWMutex

	ledger    *ledger.Store
	recurring *recurring.Engine
	budgets   *budget.Tracker
	notify    *notify.Engine
}

func New(deps Deps) (*Finance, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("finance service requires a storage port")
	}
	if deps.Converter == nil {
		deps.Converter = currency.Identity{}
	}
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}
	ref := core.NormalizeCurrency(deps.Config.ReferenceCurrency)
	if ref == "" {
		ref = "EUR"
	}

	writer := storage.NewAsyncWriter(storage.AsyncWriterConfig{Timeout: deps.Config.PersistTimeout}, deps.OnPersistError)

	l := ledger.New(ledger.Options{
		Port:              deps.Storage,
		Writer:            writer,
		Converter:         deps.Converter,
		Clock:             deps.Clock,
		Logger:            deps.Logger,
		ReferenceCurrency: ref,
	})
	b := budget.New(budget.Options{
		Port:      deps.Storage,
		Writer:    writer,
		Converter: deps.Converter,
		Logger:    deps.Logger,
	})

	return &Finance{
		port:   deps.Storage,
		writer: writer,
		conv:   deps.Converter,
		clock:  deps.Clock,
		logger: deps.Logger.WithComponent(log.ComponentApp),
		settings: core.Settings{
			Currency:             ref,
			NotificationsEnabled: true,
		},
		ledger: l,
		recurring: recurring.New(recurring.Options{
			Config: deps.Config.Recurring,
			Ledger: l,
			Port:   deps.Storage,
			Writer: writer,
			Logger: deps.Logger,
		}),
		budgets: b,
		notify: notify.New(notify.Options{
			Config:            deps.Config.Notify,
			Budgets:           b,
			Port:              deps.Storage,
			Writer:            writer,
			Converter:         deps.Converter,
			Clock:             deps.Clock,
			Logger:            deps.Logger,
			ReferenceCurrency: ref,
		}),
	}, nil
}

// Reload replaces the in-memory state with what storage holds. Collections
// are fetched concurrently; the swap happens only when all of them loaded.
func (f *Finance) Reload(ctx context.Context) error {
	var (
		txs           []core.Transaction
		tombstones    []string
		budgets       []core.CategoryBudget
		templates     []core.RecurringTemplate
		notifications []core.Notification
		settings      core.Settings
		hasSettings   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		txs, err = f.port.GetAllTransactions(gctx)
		return err
	})
	g.Go(func() (err error) {
		tombstones, err = f.port.GetTombstones(gctx)
		return err
	})
	g.Go(func() (err error) {
		budgets, err = f.port.GetAllBudgets(gctx)
		return err
	})
	g.Go(func() (err error) {
		templates, err = f.port.GetAllRecurring(gctx)
		return err
	})
	g.Go(func() (err error) {
		notifications, err = f.port.GetAllNotifications(gctx)
		return err
	})
	g.Go(func() (err error) {
		settings, hasSettings, err = f.port.GetSettings(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.ledger.Load(txs, tombstones)
	f.budgets.Load(budgets)
	f.recurring.Load(templates)
	f.notify.Load(notifications)
	if hasSettings {
		f.applySettings(settings)
	}

	f.logger.InfoContext(ctx, "State reloaded from storage",
		log.FieldOperation, log.OpReload,
		"transactions", len(txs),
		"budgets", len(budgets),
		"recurring", len(templates),
		"notifications", len(notifications))
	return nil
}

// Transactions

func (f *Finance) AddTransaction(ctx context.Context, d ledger.Draft) (core.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, err := f.ledger.Add(ctx, d)
	if err != nil {
		return core.Transaction{}, err
	}
	f.notify.OnTransactionAdded(ctx, tx, f.ledger.All())
	return tx, nil
}

func (f *Finance) UpdateTransaction(ctx context.Context, id string, p ledger.Patch) (core.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, err := f.ledger.Update(ctx, id, p)
	if err != nil {
		return core.Transaction{}, err
	}
	if tx.Type == core.Expense {
		f.checkBudget(ctx, tx.Category, tx.Date)
	}
	return tx, nil
}

func (f *Finance) DeleteTransaction(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ledger.Delete(ctx, id)
}

// ImportTransactions bulk-merges records; see ledger.Store.BulkImport.
func (f *Finance) ImportTransactions(ctx context.Context, records []core.Transaction, opts ledger.ImportOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ledger.BulkImport(ctx, records, opts)
}

func (f *Finance) Transactions() []core.Transaction {
	return f.ledger.List()
}

func (f *Finance) Transaction(id string) (core.Transaction, error) {
	return f.ledger.Get(id)
}

// Recurring templates

func (f *Finance) CreateRecurring(ctx context.Context, d recurring.TemplateDraft) (core.RecurringTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recurring.Create(ctx, d)
}

func (f *Finance) UpdateRecurring(ctx context.Context, id string, p recurring.TemplatePatch, propagate bool) (core.RecurringTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recurring.Update(ctx, id, p, propagate)
}

func (f *Finance) SetRecurringActive(ctx context.Context, id string, active bool) (core.RecurringTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recurring.SetActive(ctx, id, active)
}

// DeleteRecurring removes the template and the entries it generated and
// returns how many entries went with it.
func (f *Finance) DeleteRecurring(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recurring.Delete(ctx, id)
}

func (f *Finance) RecurringTemplates() []core.RecurringTemplate {
	return f.recurring.List()
}

func (f *Finance) RecurringTemplate(id string) (core.RecurringTemplate, error) {
	return f.recurring.Get(id)
}

// Today is the current calendar day of the service clock.
func (f *Finance) Today() core.Date {
	return core.Today(f.clock)
}

// GenerateRecurring checks reminders against the templates as they stand,
// projects every template up to its horizon and runs the notification
// triggers for each new entry in commit order.
func (f *Finance) GenerateRecurring(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	today := core.Today(f.clock)
	f.notify.CheckReminders(ctx, f.recurring.List(), today)

	entries, err := f.recurring.Run(ctx, today)
	if len(entries) == 0 {
		return 0, err
	}
	batch := make(map[string]struct{}, len(entries))
	for _, tx := range entries {
		batch[tx.ID] = struct{}{}
	}
	history := make([]core.Transaction, 0, len(entries))
	for _, tx := range f.ledger.All() {
		if _, ok := batch[tx.ID]; !ok {
			history = append(history, tx)
		}
	}
	for _, tx := range entries {
		history = append(history, tx)
		f.notify.OnTransactionAdded(ctx, tx, history)
	}
	return len(entries), err
}

// Budgets

func (f *Finance) CreateBudget(ctx context.Context, d budget.Draft) (core.CategoryBudget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.budgets.Create(ctx, d)
	if err != nil {
		return core.CategoryBudget{}, err
	}
	f.checkBudget(ctx, b.Category, core.Today(f.clock))
	return b, nil
}

func (f *Finance) UpdateBudget(ctx context.Context, id string, p budget.Patch) (core.CategoryBudget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.budgets.Update(ctx, id, p)
	if err != nil {
		return core.CategoryBudget{}, err
	}
	f.checkBudget(ctx, b.Category, core.Today(f.clock))
	return b, nil
}

func (f *Finance) DeleteBudget(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.budgets.Delete(ctx, id)
}

func (f *Finance) Budgets() []core.CategoryBudget {
	return f.budgets.List()
}

func (f *Finance) Budget(id string) (core.CategoryBudget, error) {
	return f.budgets.Get(id)
}

// BudgetProgress evaluates every active budget for the month.
func (f *Finance) BudgetProgress(month, year int) []budget.Progress {
	return f.budgets.AllProgress(month, year, f.ledger.All())
}

// checkBudget re-evaluates the budget of category for the month of date.
// Caller holds f.mu.
func (f *Finance) checkBudget(ctx context.Context, category string, date core.Date) {
	if p, ok := f.budgets.Progress(category, date.Month(), date.Year(), f.ledger.All()); ok {
		f.notify.CheckBudget(ctx, *p)
	}
}

// Notifications

func (f *Finance) Notifications() []core.Notification {
	return f.notify.List()
}

func (f *Finance) UnreadNotifications() int {
	return f.notify.UnreadCount()
}

func (f *Finance) MarkNotificationRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notify.MarkRead(ctx, id)
}

func (f *Finance) MarkAllNotificationsRead(ctx context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notify.MarkAllRead(ctx)
}

func (f *Finance) DeleteNotification(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notify.Delete(ctx, id)
}

func (f *Finance) ClearNotifications(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify.ClearAll(ctx)
}

// Settings

func (f *Finance) Settings() core.Settings {
	f.settMu.RLock()
	defer f.settMu.RUnlock()
	return f.settings
}

func (f *Finance) UpdateSettings(ctx context.Context, p SettingsPatch) (core.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.Settings()
	if p.Currency != nil {
		code := core.NormalizeCurrency(*p.Currency)
		if len(code) != 3 {
			return core.Settings{}, &core.ValidationError{Field: "currency", Err: core.ErrInvalidCurrency}
		}
		s.Currency = code
	}
	if p.NotificationsEnabled != nil {
		s.NotificationsEnabled = *p.NotificationsEnabled
	}
	s.UpdatedAt = f.clock.Now()
	f.applySettings(s)

	if err := f.writer.Enqueue("save_settings", func(ctx context.Context) error {
		return f.port.SaveSettings(ctx, s)
	}); err != nil {
		f.logger.WarnContext(ctx, "Durable write not scheduled", log.FieldOperation, "save_settings", log.FieldError, err)
	}
	return s, nil
}

func (f *Finance) applySettings(s core.Settings) {
	if s.Currency == "" {
		s.Currency = f.Settings().Currency
	}
	f.settMu.Lock()
	f.settings = s
	f.settMu.Unlock()

	f.ledger.SetReferenceCurrency(s.Currency)
	f.notify.SetReferenceCurrency(s.Currency)
	f.notify.SetEnabled(s.NotificationsEnabled)
}

// Aggregates

// Summary computes the month view in the reference currency.
func (f *Finance) Summary(month, year int) MonthSummary {
	ref := f.Settings().Currency
	all := currency.Normalize(f.conv, f.ledger.All(), ref)
	return MonthSummary{
		Month:            month,
		Year:             year,
		Currency:         ref,
		Summary:          core.Summarize(core.FilterMonth(all, month, year)),
		NetWorth:         core.NetWorth(all, month, year),
		TotalCashBalance: core.CashBalance(all),
		Budgets:          f.BudgetProgress(month, year),
	}
}

// NetWorth is the cumulative net savings up to the end of the month.
func (f *Finance) NetWorth(month, year int) decimal.Decimal {
	ref := f.Settings().Currency
	return core.NetWorth(currency.Normalize(f.conv, f.ledger.All(), ref), month, year)
}

// CashBalance over the whole history in the reference currency.
func (f *Finance) CashBalance() decimal.Decimal {
	return f.ledger.CashBalance()
}

// Snapshots

// ExportSnapshot returns the portable copy of the ledger state.
func (f *Finance) ExportSnapshot() core.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return core.Snapshot{
		Transactions:          f.ledger.All(),
		Budgets:               f.budgets.List(),
		RecurringTransactions: f.recurring.List(),
		Settings:              f.Settings(),
	}
}

// ImportSnapshot validates snap and, only if it is well formed, replaces
// transactions, budgets, templates and settings with it. The notification
// log is kept.
func (f *Finance) ImportSnapshot(ctx context.Context, snap core.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return &core.ValidationError{Field: "snapshot", Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.ledger.Load(snap.Transactions, nil)
	f.budgets.Load(snap.Budgets)
	f.recurring.Load(snap.RecurringTransactions)
	if snap.Settings.Currency != "" {
		f.applySettings(snap.Settings)
	}

	if err := f.writer.Enqueue("import_all", func(ctx context.Context) error {
		return f.port.ImportAll(ctx, snap)
	}); err != nil {
		f.logger.WarnContext(ctx, "Durable write not scheduled", log.FieldOperation, "import_all", log.FieldError, err)
	}

	f.logger.InfoContext(ctx, "Snapshot imported",
		log.FieldOperation, log.OpImport,
		"transactions", len(snap.Transactions),
		"budgets", len(snap.Budgets),
		"recurring", len(snap.RecurringTransactions))
	return nil
}

// Lifecycle

// Flush waits for queued durable writes.
func (f *Finance) Flush(ctx context.Context) error {
	return f.writer.Flush(ctx)
}

// PersistFailures counts durable writes that failed since start.
func (f *Finance) PersistFailures() int64 {
	return f.writer.Failures()
}

// Close drains pending writes and stops the writer.
func (f *Finance) Close(ctx context.Context) error {
	return f.writer.Close(ctx)
}
