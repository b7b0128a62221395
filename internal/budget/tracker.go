// Package budget tracks monthly category budgets against actual spend.
package budget

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/currency"
	"finledger/internal/log"
	"finledger/internal/storage"
)

// Progress is the spend of one budget in one month. Amounts are in the
// budget currency.
type Progress struct {
	Budget     core.CategoryBudget `json:"budget"`
	Month      int                 `json:"month"`
	Year       int                 `json:"year"`
	Spent      decimal.Decimal     `json:"spent"`
	Remaining  decimal.Decimal     `json:"remaining"`
	Percentage float64             `json:"percentage"`
	IsExceeded bool                `json:"isExceeded"`
}

type Draft struct {
	Category       string
	MonthlyLimit   decimal.Decimal
	AlertThreshold float64
	Currency       string
}

type Patch struct {
	Category       *string
	MonthlyLimit   *decimal.Decimal
	AlertThreshold *float64
	IsActive       *bool
	Currency       *string
}

type Options struct {
	Port      storage.BudgetStore
	Writer    *storage.AsyncWriter
	Converter currency.Converter
	Logger    *log.Logger
}

type Tracker struct {
	mu      sync.RWMutex
	budgets []core.CategoryBudget

	port   storage.BudgetStore
	writer *storage.AsyncWriter
	conv   currency.Converter
	logger *log.Logger
}

func New(opts Options) *Tracker {
	if opts.Converter == nil {
		opts.Converter = currency.Identity{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	return &Tracker{
		port:   opts.Port,
		writer: opts.Writer,
		conv:   opts.Converter,
		logger: opts.Logger.WithComponent(log.ComponentBudget),
	}
}

func (t *Tracker) Create(ctx context.Context, d Draft) (core.CategoryBudget, error) {
	b := core.CategoryBudget{
		ID:             uuid.NewString(),
		Category:       strings.TrimSpace(d.Category),
		MonthlyLimit:   d.MonthlyLimit,
		AlertThreshold: d.AlertThreshold,
		IsActive:       true,
		Currency:       core.NormalizeCurrency(d.Currency),
	}
	if err := b.Validate(); err != nil {
		return core.CategoryBudget{}, err
	}

	t.mu.Lock()
	t.budgets = append(t.budgets, b)
	t.mu.Unlock()

	t.persistSave(b)
	t.logger.InfoContext(ctx, "Budget created",
		log.FieldCategory, b.Category,
		"limit", b.MonthlyLimit.String(),
		log.FieldCurrency, b.Currency)
	return b, nil
}

func (t *Tracker) Update(ctx context.Context, id string, p Patch) (core.CategoryBudget, error) {
	t.mu.Lock()
	idx := t.indexOf(id)
	if idx < 0 {
		t.mu.Unlock()
		return core.CategoryBudget{}, fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	b := t.budgets[idx]
	if p.Category != nil {
		b.Category = strings.TrimSpace(*p.Category)
	}
	if p.MonthlyLimit != nil {
		b.MonthlyLimit = *p.MonthlyLimit
	}
	if p.AlertThreshold != nil {
		b.AlertThreshold = *p.AlertThreshold
	}
	if p.IsActive != nil {
		b.IsActive = *p.IsActive
	}
	if p.Currency != nil {
		b.Currency = core.NormalizeCurrency(*p.Currency)
	}
	if err := b.Validate(); err != nil {
		t.mu.Unlock()
		return core.CategoryBudget{}, err
	}
	t.budgets[idx] = b
	t.mu.Unlock()

	t.persistSave(b)
	t.logger.InfoContext(ctx, "Budget updated", log.FieldCategory, b.Category)
	return b, nil
}

func (t *Tracker) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	idx := t.indexOf(id)
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	t.budgets = append(t.budgets[:idx], t.budgets[idx+1:]...)
	t.mu.Unlock()

	t.enqueue("delete_budget", func(ctx context.Context) error {
		return t.port.DeleteBudget(ctx, id)
	})
	t.logger.InfoContext(ctx, "Budget deleted", "budget_id", id)
	return nil
}

func (t *Tracker) List() []core.CategoryBudget {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]core.CategoryBudget(nil), t.budgets...)
}

func (t *Tracker) Get(id string) (core.CategoryBudget, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx := t.indexOf(id); idx >= 0 {
		return t.budgets[idx], nil
	}
	return core.CategoryBudget{}, fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
}

// Load replaces the budgets wholesale; nothing is persisted.
func (t *Tracker) Load(budgets []core.CategoryBudget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budgets = append([]core.CategoryBudget(nil), budgets...)
}

// Active returns the first active budget for category.
func (t *Tracker) Active(category string) (core.CategoryBudget, bool) {
	key := core.NormalizeCategory(category)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, b := range t.budgets {
		if b.IsActive && core.NormalizeCategory(b.Category) == key {
			return b, true
		}
	}
	return core.CategoryBudget{}, false
}

// Progress sums the expenses of category in the given month against its
// active budget. It returns false when the category has no active budget.
func (t *Tracker) Progress(category string, month, year int, txs []core.Transaction) (*Progress, bool) {
	b, ok := t.Active(category)
	if !ok {
		return nil, false
	}
	return t.progressOf(b, month, year, txs), true
}

// IsExceeded reports whether category spent more than its limit.
func (t *Tracker) IsExceeded(category string, month, year int, txs []core.Transaction) bool {
	p, ok := t.Progress(category, month, year, txs)
	return ok && p.IsExceeded
}

// AllProgress evaluates every active budget for the month.
func (t *Tracker) AllProgress(month, year int, txs []core.Transaction) []Progress {
	var out []Progress
	for _, b := range t.List() {
		if !b.IsActive {
			continue
		}
		out = append(out, *t.progressOf(b, month, year, txs))
	}
	return out
}

func (t *Tracker) progressOf(b core.CategoryBudget, month, year int, txs []core.Transaction) *Progress {
	key := core.NormalizeCategory(b.Category)
	spent := decimal.Zero
	for _, tx := range txs {
		if tx.Type != core.Expense || !tx.Date.InMonth(month, year) || core.NormalizeCategory(tx.Category) != key {
			continue
		}
		amount := tx.Amount
		if tx.OriginalCurrency != b.Currency {
			amount = t.conv.Convert(amount, tx.OriginalCurrency, b.Currency)
		}
		spent = spent.Add(amount)
	}

	p := &Progress{
		Budget:     b,
		Month:      month,
		Year:       year,
		Spent:      spent,
		Remaining:  b.MonthlyLimit.Sub(spent),
		IsExceeded: spent.GreaterThan(b.MonthlyLimit),
	}
	if b.MonthlyLimit.IsPositive() {
		p.Percentage, _ = spent.Div(b.MonthlyLimit).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	}
	return p
}

func (t *Tracker) indexOf(id string) int {
	for i, b := range t.budgets {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func (t *Tracker) persistSave(b core.CategoryBudget) {
	t.enqueue("save_budget", func(ctx context.Context) error {
		return t.port.SaveBudget(ctx, b)
	})
}

func (t *Tracker) enqueue(op string, fn storage.WriteFunc) {
	if t.port == nil || t.writer == nil {
		return
	}
	if err := t.writer.Enqueue(op, fn); err != nil {
		t.logger.Warn("Durable write not scheduled",
			log.FieldOperation, op,
			log.FieldError, err)
	}
}
