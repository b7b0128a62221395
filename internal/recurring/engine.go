package recurring

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/log"
	"finledger/internal/storage"
)

const (
	DefaultHorizonDays = 60
	DefaultMaxPerRun   = 500
)

// Ledger is the part of the ledger store the engine writes through.
type Ledger interface {
	AddGenerated(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	HasGenerated(recurringID string, date core.Date) bool
	DeleteByRecurringID(ctx context.Context, recurringID string) int
	PropagateTemplate(ctx context.Context, rt core.RecurringTemplate) (int, error)
}

type TemplateDraft struct {
	Title            string
	Amount           decimal.Decimal
	Category         string
	Type             core.TransactionType
	Frequency        core.Frequency
	StartDate        core.Date
	EndDate          *core.Date
	OriginalCurrency string
	Description      string
}

// TemplatePatch changes only the non-nil fields. ClearEndDate removes the
// end date.
type TemplatePatch struct {
	Title            *string
	Amount           *decimal.Decimal
	Category         *string
	Type             *core.TransactionType
	Frequency        *core.Frequency
	StartDate        *core.Date
	EndDate          *core.Date
	ClearEndDate     bool
	IsActive         *bool
	OriginalCurrency *string
	Description      *string
}

type Config struct {
	// HorizonDays is how far past today templates without an end date are
	// projected.
	HorizonDays int
	// MaxPerRun bounds the entries committed by one Generate call; the cursor
	// resumes on the next run.
	MaxPerRun int
}

type Options struct {
	Config Config
	Ledger Ledger
	Port   storage.RecurringStore
	Writer *storage.AsyncWriter
	Logger *log.Logger
}

// Engine owns the recurring templates and projects them into the ledger.
type Engine struct {
	mu        sync.RWMutex
	templates []core.RecurringTemplate

	config Config
	ledger Ledger
	port   storage.RecurringStore
	writer *storage.AsyncWriter
	logger *log.Logger
}

func New(opts Options) *Engine {
	if opts.Config.HorizonDays <= 0 {
		opts.Config.HorizonDays = DefaultHorizonDays
	}
	if opts.Config.MaxPerRun <= 0 {
		opts.Config.MaxPerRun = DefaultMaxPerRun
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	return &Engine{
		config: opts.Config,
		ledger: opts.Ledger,
		port:   opts.Port,
		writer: opts.Writer,
		logger: opts.Logger.WithComponent(log.ComponentRecurring),
	}
}

func (e *Engine) Create(ctx context.Context, d TemplateDraft) (core.RecurringTemplate, error) {
	rt := core.RecurringTemplate{
		ID:               uuid.NewString(),
		Title:            strings.TrimSpace(d.Title),
		Amount:           d.Amount,
		Category:         strings.TrimSpace(d.Category),
		Type:             d.Type,
		Frequency:        d.Frequency,
		StartDate:        d.StartDate,
		EndDate:          d.EndDate,
		NextOccurrence:   d.StartDate,
		IsActive:         true,
		OriginalCurrency: core.NormalizeCurrency(d.OriginalCurrency),
		Description:      strings.TrimSpace(d.Description),
	}
	if err := rt.Validate(); err != nil {
		return core.RecurringTemplate{}, err
	}

	e.mu.Lock()
	e.templates = append(e.templates, rt)
	e.mu.Unlock()

	e.persistSave(rt)
	e.logger.InfoContext(ctx, "Recurring template created",
		log.FieldTemplateID, rt.ID,
		"frequency", rt.Frequency,
		"start_date", rt.StartDate.String())
	return rt, nil
}

// Update applies p. With propagate set, descriptive changes are copied to
// the entries already generated from the template.
func (e *Engine) Update(ctx context.Context, id string, p TemplatePatch, propagate bool) (core.RecurringTemplate, error) {
	e.mu.Lock()
	idx := e.indexOf(id)
	if idx < 0 {
		e.mu.Unlock()
		return core.RecurringTemplate{}, fmt.Errorf("recurring template %s: %w", id, core.ErrNotFound)
	}
	updated := applyPatch(e.templates[idx], p)
	e.mu.Unlock()
	if err := updated.Validate(); err != nil {
		return core.RecurringTemplate{}, err
	}

	// A rejected propagation leaves the template untouched too.
	if propagate && e.ledger != nil {
		if _, err := e.ledger.PropagateTemplate(ctx, updated); err != nil {
			return core.RecurringTemplate{}, err
		}
	}

	e.mu.Lock()
	if idx = e.indexOf(id); idx < 0 {
		e.mu.Unlock()
		return core.RecurringTemplate{}, fmt.Errorf("recurring template %s: %w", id, core.ErrNotFound)
	}
	e.templates[idx] = updated
	e.mu.Unlock()

	e.persistSave(updated)
	e.logger.InfoContext(ctx, "Recurring template updated",
		log.FieldTemplateID, id,
		"propagate", propagate)
	return updated, nil
}

func applyPatch(rt core.RecurringTemplate, p TemplatePatch) core.RecurringTemplate {
	if p.Title != nil {
		rt.Title = strings.TrimSpace(*p.Title)
	}
	if p.Amount != nil {
		rt.Amount = *p.Amount
	}
	if p.Category != nil {
		rt.Category = strings.TrimSpace(*p.Category)
	}
	if p.Type != nil {
		rt.Type = *p.Type
	}
	if p.Frequency != nil {
		rt.Frequency = *p.Frequency
	}
	if p.StartDate != nil {
		rt.StartDate = *p.StartDate
		// The cursor follows a moved start only while nothing was emitted,
		// or when the new start lies ahead of it.
		if rt.LastGenerated == nil || rt.NextOccurrence.Before(rt.StartDate.Time) {
			rt.NextOccurrence = rt.StartDate
		}
	}
	if p.ClearEndDate {
		rt.EndDate = nil
	} else if p.EndDate != nil {
		end := *p.EndDate
		rt.EndDate = &end
	}
	if p.IsActive != nil {
		rt.IsActive = *p.IsActive
	}
	if p.OriginalCurrency != nil {
		rt.OriginalCurrency = core.NormalizeCurrency(*p.OriginalCurrency)
	}
	if p.Description != nil {
		rt.Description = strings.TrimSpace(*p.Description)
	}
	return rt
}

// SetActive pauses or resumes generation for a template.
func (e *Engine) SetActive(ctx context.Context, id string, active bool) (core.RecurringTemplate, error) {
	return e.Update(ctx, id, TemplatePatch{IsActive: &active}, false)
}

// Delete removes the entries generated from the template, then the template.
func (e *Engine) Delete(ctx context.Context, id string) (int, error) {
	e.mu.RLock()
	found := e.indexOf(id) >= 0
	e.mu.RUnlock()
	if !found {
		return 0, fmt.Errorf("recurring template %s: %w", id, core.ErrNotFound)
	}

	removed := 0
	if e.ledger != nil {
		removed = e.ledger.DeleteByRecurringID(ctx, id)
	}

	e.mu.Lock()
	if idx := e.indexOf(id); idx >= 0 {
		e.templates = append(e.templates[:idx], e.templates[idx+1:]...)
	}
	e.mu.Unlock()

	e.enqueue("delete_recurring", func(ctx context.Context) error {
		return e.port.DeleteRecurring(ctx, id)
	})
	e.logger.InfoContext(ctx, "Recurring template deleted",
		log.FieldTemplateID, id,
		log.FieldCount, removed)
	return removed, nil
}

func (e *Engine) List() []core.RecurringTemplate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]core.RecurringTemplate(nil), e.templates...)
}

func (e *Engine) Get(id string) (core.RecurringTemplate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if idx := e.indexOf(id); idx >= 0 {
		return e.templates[idx], nil
	}
	return core.RecurringTemplate{}, fmt.Errorf("recurring template %s: %w", id, core.ErrNotFound)
}

// Load replaces the templates wholesale; nothing is persisted.
func (e *Engine) Load(templates []core.RecurringTemplate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates = append([]core.RecurringTemplate(nil), templates...)
}

// Generate projects every active template up to its horizon and returns the
// number of committed entries.
func (e *Engine) Generate(ctx context.Context, today core.Date) (int, error) {
	entries, err := e.Run(ctx, today)
	return len(entries), err
}

// Run is Generate returning the committed entries themselves.
//
// Per template, occurrences from NextOccurrence up to the horizon are
// emitted unless an entry for that date already exists. Entries the ledger
// rejects are logged and skipped. The cursor moves one step past the last
// committed date, and only when something was committed: trailing rejected
// dates are retried on the next run.
func (e *Engine) Run(ctx context.Context, today core.Date) ([]core.Transaction, error) {
	if e.ledger == nil {
		return nil, fmt.Errorf("recurring engine has no ledger")
	}

	var committed []core.Transaction
	budget := e.config.MaxPerRun

	for _, rt := range e.List() {
		if err := ctx.Err(); err != nil {
			return committed, err
		}
		if budget <= 0 {
			e.logger.WarnContext(ctx, "Generation limit reached, resuming on next run",
				"max_per_run", e.config.MaxPerRun)
			break
		}
		if rt.Finished() {
			continue
		}
		checker, err := GetDuenessChecker(rt.Frequency)
		if err != nil {
			e.logger.ErrorContext(ctx, "Skipping template with unknown frequency",
				log.FieldTemplateID, rt.ID,
				log.FieldError, err)
			continue
		}

		horizon := today.AddDays(e.config.HorizonDays)
		if rt.EndDate != nil {
			horizon = *rt.EndDate
		}

		var (
			lastCommitted core.Date
			count         int
		)
		for cur := rt.NextOccurrence; !cur.After(horizon.Time) && budget > 0; cur = checker.Next(cur, rt.StartDate) {
			if e.ledger.HasGenerated(rt.ID, cur) {
				continue
			}
			tx, err := e.ledger.AddGenerated(ctx, entryFor(rt, cur))
			if err != nil {
				e.logger.WarnContext(ctx, "Generated entry rejected",
					log.FieldTemplateID, rt.ID,
					"date", cur.String(),
					log.FieldError, err)
				continue
			}
			committed = append(committed, tx)
			lastCommitted = cur
			count++
			budget--
		}

		if count == 0 {
			continue
		}
		e.advance(rt.ID, checker.Next(lastCommitted, rt.StartDate), lastCommitted)
		e.logger.InfoContext(ctx, "Recurring entries generated",
			log.FieldTemplateID, rt.ID,
			log.FieldCount, count,
			log.FieldOperation, log.OpGenerate)
	}

	return committed, nil
}

func entryFor(rt core.RecurringTemplate, date core.Date) core.Transaction {
	return core.Transaction{
		Title:            rt.Title,
		Amount:           rt.Amount,
		Category:         rt.Category,
		Type:             rt.Type,
		Date:             date,
		OriginalCurrency: rt.OriginalCurrency,
		Description:      rt.Description,
		IsRecurring:      true,
		RecurringID:      rt.ID,
	}
}

// advance moves the cursor forward; it never moves it back.
func (e *Engine) advance(id string, next, lastGenerated core.Date) {
	e.mu.Lock()
	idx := e.indexOf(id)
	if idx < 0 {
		e.mu.Unlock()
		return
	}
	rt := e.templates[idx]
	if next.After(rt.NextOccurrence.Time) {
		rt.NextOccurrence = next
	}
	last := lastGenerated
	rt.LastGenerated = &last
	e.templates[idx] = rt
	e.mu.Unlock()

	e.persistSave(rt)
}

func (e *Engine) indexOf(id string) int {
	for i, rt := range e.templates {
		if rt.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) persistSave(rt core.RecurringTemplate) {
	e.enqueue("save_recurring", func(ctx context.Context) error {
		return e.port.SaveRecurring(ctx, rt)
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
