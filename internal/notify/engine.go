// Package notify raises notifications when ledger changes cross a threshold
// and keeps the notification log.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finledger/internal/budget"
	"finledger/internal/core"
	"finledger/internal/currency"
	"finledger/internal/log"
	"finledger/internal/recurring"
	"finledger/internal/storage"
)

type Config struct {
	// SpikeMultiplier: an expense is a spike when it exceeds this many times
	// the average of prior expenses in the same category.
	SpikeMultiplier   float64
	SpikeLookbackDays int
	SpikeMinSamples   int
	// MilestoneStep is the savings total increment that earns a milestone.
	MilestoneStep decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		SpikeMultiplier:   2.0,
		SpikeLookbackDays: 90,
		SpikeMinSamples:   3,
		MilestoneStep:     decimal.NewFromInt(1000),
	}
}

// Budgets is the view of the budget tracker the engine needs.
type Budgets interface {
	Progress(category string, month, year int, txs []core.Transaction) (*budget.Progress, bool)
}

type Options struct {
	Config            Config
	Budgets           Budgets
	Port              storage.NotificationStore
	Writer            *storage.AsyncWriter
	Converter         currency.Converter
	Clock             core.Clock
	Logger            *log.Logger
	ReferenceCurrency string
}

type Engine struct {
	mu      sync.RWMutex
	entries []core.Notification // oldest first
	// seen holds every dedup key ever raised in this process, including those
	// of deleted notifications.
	seen    map[string]struct{}
	enabled bool
	ref     string

	config  Config
	budgets Budgets
	port    storage.NotificationStore
	writer  *storage.AsyncWriter
	conv    currency.Converter
	clock   core.Clock
	logger  *log.Logger
}

func New(opts Options) *Engine {
	defaults := DefaultConfig()
	if opts.Config.SpikeMultiplier <= 0 {
		opts.Config.SpikeMultiplier = defaults.SpikeMultiplier
	}
	if opts.Config.SpikeLookbackDays <= 0 {
		opts.Config.SpikeLookbackDays = defaults.SpikeLookbackDays
	}
	if opts.Config.SpikeMinSamples <= 0 {
		opts.Config.SpikeMinSamples = defaults.SpikeMinSamples
	}
	if !opts.Config.MilestoneStep.IsPositive() {
		opts.Config.MilestoneStep = defaults.MilestoneStep
	}
	if opts.Converter == nil {
		opts.Converter = currency.Identity{}
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	return &Engine{
		seen:    map[string]struct{}{},
		enabled: true,
		ref:     core.NormalizeCurrency(opts.ReferenceCurrency),
		config:  opts.Config,
		budgets: opts.Budgets,
		port:    opts.Port,
		writer:  opts.Writer,
		conv:    opts.Converter,
		clock:   opts.Clock,
		logger:  opts.Logger.WithComponent(log.ComponentNotify),
	}
}

func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

func (e *Engine) SetReferenceCurrency(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ref = core.NormalizeCurrency(code)
}

// OnTransactionAdded runs every trigger that applies to tx. history is the
// ledger as of tx: it includes tx and nothing committed after it.
func (e *Engine) OnTransactionAdded(ctx context.Context, tx core.Transaction, history []core.Transaction) []core.Notification {
	if !e.Enabled() {
		return nil
	}
	var raised []core.Notification
	switch tx.Type {
	case core.Expense:
		if n, ok := e.checkSpike(ctx, tx, history); ok {
			raised = append(raised, n)
		}
		if e.budgets != nil {
			if p, ok := e.budgets.Progress(tx.Category, tx.Date.Month(), tx.Date.Year(), history); ok {
				raised = append(raised, e.CheckBudget(ctx, *p)...)
			}
		}
	case core.Savings:
		raised = append(raised, e.checkMilestones(ctx, tx, history)...)
	}
	return raised
}

func (e *Engine) checkSpike(ctx context.Context, tx core.Transaction, history []core.Transaction) (core.Notification, bool) {
	ref := e.reference()
	key := core.NormalizeCategory(tx.Category)
	from := tx.Date.AddDays(-e.config.SpikeLookbackDays)

	var (
		sum     decimal.Decimal
		samples int
	)
	for _, h := range history {
		if h.ID == tx.ID || h.Type != core.Expense || core.NormalizeCategory(h.Category) != key {
			continue
		}
		if !h.Date.After(from.Time) || h.Date.After(tx.Date.Time) {
			continue
		}
		sum = sum.Add(e.convert(h, ref))
		samples++
	}
	if samples < e.config.SpikeMinSamples {
		return core.Notification{}, false
	}

	baseline := sum.Div(decimal.NewFromInt(int64(samples))).Round(2)
	amount := e.convert(tx, ref)
	if !amount.GreaterThan(baseline.Mul(decimal.NewFromFloat(e.config.SpikeMultiplier))) {
		return core.Notification{}, false
	}
	return e.emit(ctx, core.ExpenseSpike, "expenseSpike|"+tx.ID, core.NotificationPayload{
		TransactionID: tx.ID,
		Title:         tx.Title,
		Category:      tx.Category,
		Currency:      ref,
		Amount:        amount,
		Baseline:      baseline,
	})
}

// CheckBudget raises budgetExceeded when spending is over the limit and
// budgetWarning at or above the alert threshold. Each condition fires once per category and
// month.
func (e *Engine) CheckBudget(ctx context.Context, p budget.Progress) []core.Notification {
	if !e.Enabled() {
		return nil
	}
	b := p.Budget
	period := fmt.Sprintf("%04d-%02d", p.Year, p.Month)
	category := core.NormalizeCategory(b.Category)
	payload := core.NotificationPayload{
		Category:   b.Category,
		Currency:   b.Currency,
		Spent:      p.Spent,
		Limit:      b.MonthlyLimit,
		Percentage: p.Percentage,
		Month:      p.Month,
		Year:       p.Year,
	}

	var kind core.NotificationKind
	switch {
	case p.IsExceeded:
		kind = core.BudgetExceeded
	case p.Percentage >= b.AlertThreshold*100:
		kind = core.BudgetWarning
	default:
		return nil
	}
	key := strings.Join([]string{string(kind), category, period}, "|")
	if n, ok := e.emit(ctx, kind, key, payload); ok {
		return []core.Notification{n}
	}
	return nil
}

// checkMilestones raises one notification per step multiple crossed by the
// savings total when tx is added.
func (e *Engine) checkMilestones(ctx context.Context, tx core.Transaction, history []core.Transaction) []core.Notification {
	ref := e.reference()
	total := decimal.Zero
	for _, h := range history {
		if h.Type == core.Savings {
			total = total.Add(e.convert(h, ref))
		}
	}
	before := total.Sub(e.convert(tx, ref))

	step := e.config.MilestoneStep
	from := before.Div(step).Floor().IntPart()
	if from < 0 {
		from = 0
	}
	reached := total.Div(step).Floor().IntPart()

	var raised []core.Notification
	for k := from + 1; k <= reached; k++ {
		milestone := step.Mul(decimal.NewFromInt(k))
		n, ok := e.emit(ctx, core.SavingsMilestone, "savingsMilestone|"+milestone.String(), core.NotificationPayload{
			TransactionID: tx.ID,
			Currency:      ref,
			Amount:        total,
			Milestone:     milestone,
		})
		if ok {
			raised = append(raised, n)
		}
	}
	return raised
}

// CheckReminders raises one reminder per due template and due date.
func (e *Engine) CheckReminders(ctx context.Context, templates []core.RecurringTemplate, today core.Date) []core.Notification {
	if !e.Enabled() {
		return nil
	}
	var raised []core.Notification
	for _, rt := range templates {
		due, ok := recurring.ReminderDue(rt, today)
		if !ok {
			continue
		}
		key := strings.Join([]string{string(core.RecurringReminder), rt.ID, due.String()}, "|")
		n, ok := e.emit(ctx, core.RecurringReminder, key, core.NotificationPayload{
			TemplateID: rt.ID,
			Title:      rt.Title,
			Category:   rt.Category,
			Currency:   rt.OriginalCurrency,
			Amount:     rt.Amount,
			DueDate:    &due,
		})
		if ok {
			raised = append(raised, n)
		}
	}
	return raised
}

func (e *Engine) emit(ctx context.Context, kind core.NotificationKind, key string, payload core.NotificationPayload) (core.Notification, bool) {
	e.mu.Lock()
	if _, dup := e.seen[key]; dup {
		e.mu.Unlock()
		return core.Notification{}, false
	}
	n := core.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: e.clock.Now(),
		Payload:   payload,
		DedupKey:  key,
	}
	e.seen[key] = struct{}{}
	e.entries = append(e.entries, n)
	e.mu.Unlock()

	e.persistSave(n)
	e.logger.InfoContext(ctx, "Notification raised",
		log.FieldNotificationKind, kind,
		"dedup_key", key)
	return n, true
}

// List returns the log newest first.
func (e *Engine) List() []core.Notification {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]core.Notification, len(e.entries))
	for i, n := range e.entries {
		out[len(e.entries)-1-i] = n
	}
	return out
}

func (e *Engine) UnreadCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for _, n := range e.entries {
		if !n.IsRead {
			count++
		}
	}
	return count
}

func (e *Engine) MarkRead(ctx context.Context, id string) error {
	e.mu.Lock()
	idx := e.indexOf(id)
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("notification %s: %w", id, core.ErrNotFound)
	}
	e.entries[idx].IsRead = true
	n := e.entries[idx]
	e.mu.Unlock()

	e.persistSave(n)
	return nil
}

// MarkAllRead returns the number of notifications that changed.
func (e *Engine) MarkAllRead(ctx context.Context) int {
	e.mu.Lock()
	var changed []core.Notification
	for i := range e.entries {
		if !e.entries[i].IsRead {
			e.entries[i].IsRead = true
			changed = append(changed, e.entries[i])
		}
	}
	e.mu.Unlock()

	for _, n := range changed {
		e.persistSave(n)
	}
	return len(changed)
}

func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	idx := e.indexOf(id)
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("notification %s: %w", id, core.ErrNotFound)
	}
	e.entries = append(e.entries[:idx], e.entries[idx+1:]...)
	e.mu.Unlock()

	e.enqueue("delete_notification", func(ctx context.Context) error {
		return e.port.DeleteNotification(ctx, id)
	})
	return nil
}

// ClearAll empties the log. Dedup keys are kept.
func (e *Engine) ClearAll(ctx context.Context) {
	e.mu.Lock()
	e.entries = nil
	e.mu.Unlock()

	e.enqueue("clear_notifications", func(ctx context.Context) error {
		return e.port.ClearNotifications(ctx)
	})
	e.logger.InfoContext(ctx, "Notification log cleared")
}

// Load replaces the log and adds its dedup keys to the seen set.
func (e *Engine) Load(notifications []core.Notification) {
	sorted := append([]core.Notification(nil), notifications...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = sorted
	for _, n := range sorted {
		if n.DedupKey != "" {
			e.seen[n.DedupKey] = struct{}{}
		}
	}
}

func (e *Engine) reference() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ref
}

func (e *Engine) convert(tx core.Transaction, to string) decimal.Decimal {
	if to == "" || tx.OriginalCurrency == to {
		return tx.Amount
	}
	return e.conv.Convert(tx.Amount, tx.OriginalCurrency, to)
}

func (e *Engine) indexOf(id string) int {
	for i, n := range e.entries {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) persistSave(n core.Notification) {
	e.enqueue("save_notification", func(ctx context.Context) error {
		return e.port.SaveNotification(ctx, n)
	})
}

func (e *Engine) enqueue(op string, fn storage.WriteFunc) {
	if e.port == nil || e.writer == nil {
		return
	}
	if err := e.writer.Enqueue(op, fn); err != nil {
		e.logger.Warn("Durable write not scheduled",
			log.FieldOperation, op,
			log.FieldError, err)
	}
}
