// Package ledger holds the in-memory transaction set, enforces the cash
// balance rule for savings and mirrors every mutation to durable storage.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/currency"
	"finledger/internal/log"
	"finledger/internal/storage"
)

// Draft is the user-supplied part of a new transaction.
type Draft struct {
	Title            string
	Amount           decimal.Decimal
	Category         string
	Type             core.TransactionType
	Date             core.Date
	OriginalCurrency string
	Description      string
}

// Patch changes only the non-nil fields.
type Patch struct {
	Title            *string
	Amount           *decimal.Decimal
	Category         *string
	Type             *core.TransactionType
	Date             *core.Date
	OriginalCurrency *string
	Description      *string
}

type ImportOptions struct {
	// Replace clears the current set and the tombstones first.
	Replace bool
}

type Options struct {
	// Port and Writer are both optional; without them the store is purely
	// in-memory.
	Port              storage.TransactionStore
	Writer            *storage.AsyncWriter
	Converter         currency.Converter
	Clock             core.Clock
	Logger            *log.Logger
	ReferenceCurrency string
}

type Store struct {
	mu         sync.RWMutex
	txs        []core.Transaction // insertion order
	tombstones map[string]struct{}
	ref        string

	port   storage.TransactionStore
	writer *storage.AsyncWriter
	conv   currency.Converter
	clock  core.Clock
	logger *log.Logger
}

func New(opts Options) *Store {
	if opts.Converter == nil {
		opts.Converter = currency.Identity{}
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	return &Store{
		tombstones: map[string]struct{}{},
		ref:        core.NormalizeCurrency(opts.ReferenceCurrency),
		port:       opts.Port,
		writer:     opts.Writer,
		conv:       opts.Converter,
		clock:      opts.Clock,
		logger:     opts.Logger.WithComponent(log.ComponentLedger),
	}
}

// SetReferenceCurrency changes the currency the balance rule is evaluated in.
func (s *Store) SetReferenceCurrency(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref = core.NormalizeCurrency(code)
}

func (s *Store) ReferenceCurrency() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ref
}

// Add validates d and appends it. Savings are rejected when they would push
// the cash balance below zero.
func (s *Store) Add(ctx context.Context, d Draft) (core.Transaction, error) {
	tx := core.Transaction{
		Title:            strings.TrimSpace(d.Title),
		Amount:           d.Amount,
		Category:         strings.TrimSpace(d.Category),
		Type:             d.Type,
		Date:             d.Date,
		OriginalCurrency: core.NormalizeCurrency(d.OriginalCurrency),
		Description:      strings.TrimSpace(d.Description),
	}
	return s.insert(ctx, tx)
}

// AddGenerated commits an entry produced by the recurring engine. The entry
// already carries its RecurringID.
func (s *Store) AddGenerated(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	tx.ID = ""
	tx.IsRecurring = true
	tx.OriginalCurrency = core.NormalizeCurrency(tx.OriginalCurrency)
	return s.insert(ctx, tx)
}

func (s *Store) insert(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	s.mu.Lock()
	if tx.Type == core.Savings {
		if err := s.checkCash(s.txs, tx); err != nil {
			s.mu.Unlock()
			return core.Transaction{}, err
		}
	}
	tx.ID = uuid.NewString()
	tx.CreatedAt = s.clock.Now()
	s.txs = append(s.txs, tx)
	s.mu.Unlock()

	s.persistSave(tx)
	s.logger.InfoContext(ctx, "Transaction added", log.NewFields().
		WithTransaction(tx.ID, string(tx.Type), tx.Amount.String(), tx.OriginalCurrency, tx.Category).
		WithOperation(log.OpCreate).ToSlice()...)
	return tx, nil
}

// Update applies p to the transaction with the given id. Nothing changes when
// validation fails.
func (s *Store) Update(ctx context.Context, id string, p Patch) (core.Transaction, error) {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	old := s.txs[idx]
	updated := applyPatch(old, p)

	if err := updated.Validate(); err != nil {
		s.mu.Unlock()
		return core.Transaction{}, err
	}
	if updated.Type == core.Savings || old.Type == core.Savings {
		others := make([]core.Transaction, 0, len(s.txs)-1)
		others = append(others, s.txs[:idx]...)
		others = append(others, s.txs[idx+1:]...)
		if err := s.checkCash(others, updated); err != nil {
			s.mu.Unlock()
			return core.Transaction{}, err
		}
	}
	s.txs[idx] = updated
	s.mu.Unlock()

	s.persistSave(updated)
	s.logger.InfoContext(ctx, "Transaction updated",
		log.FieldTransactionID, id,
		log.FieldOperation, log.OpUpdate)
	return updated, nil
}

func applyPatch(tx core.Transaction, p Patch) core.Transaction {
	if p.Title != nil {
		tx.Title = strings.TrimSpace(*p.Title)
	}
	if p.Amount != nil {
		tx.Amount = *p.Amount
	}
	if p.Category != nil {
		tx.Category = strings.TrimSpace(*p.Category)
	}
	if p.Type != nil {
		tx.Type = *p.Type
	}
	if p.Date != nil {
		tx.Date = *p.Date
	}
	if p.OriginalCurrency != nil {
		tx.OriginalCurrency = core.NormalizeCurrency(*p.OriginalCurrency)
	}
	if p.Description != nil {
		tx.Description = strings.TrimSpace(*p.Description)
	}
	return tx
}

// Delete removes the transaction and tombstones its id. Deleting an id that
// is already tombstoned is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		_, dead := s.tombstones[id]
		s.mu.Unlock()
		if dead {
			return nil
		}
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	s.txs = append(s.txs[:idx], s.txs[idx+1:]...)
	s.tombstones[id] = struct{}{}
	s.mu.Unlock()

	s.persistDelete(id)
	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldTransactionID, id,
		log.FieldOperation, log.OpDelete)
	return nil
}

// DeleteByRecurringID removes every entry generated from a template and
// returns how many were removed.
func (s *Store) DeleteByRecurringID(ctx context.Context, recurringID string) int {
	if recurringID == "" {
		return 0
	}
	s.mu.Lock()
	var removed []string
	kept := s.txs[:0]
	for _, tx := range s.txs {
		if tx.RecurringID == recurringID {
			removed = append(removed, tx.ID)
			s.tombstones[tx.ID] = struct{}{}
			continue
		}
		kept = append(kept, tx)
	}
	s.txs = kept
	s.mu.Unlock()

	for _, id := range removed {
		s.persistDelete(id)
	}
	if len(removed) > 0 {
		s.logger.InfoContext(ctx, "Generated transactions deleted",
			log.FieldTemplateID, recurringID,
			log.FieldCount, len(removed))
	}
	return len(removed)
}

// PropagateTemplate rewrites the descriptive fields of every entry generated
// from rt. Amounts of past entries follow the template too. When a savings
// entry is affected and the resulting cash balance would be negative, nothing
// changes and the error is returned.
func (s *Store) PropagateTemplate(ctx context.Context, rt core.RecurringTemplate) (int, error) {
	s.mu.Lock()
	next := append([]core.Transaction(nil), s.txs...)
	var (
		changed []core.Transaction
		savings bool
	)
	for i, tx := range next {
		if tx.RecurringID != rt.ID {
			continue
		}
		tx.Title = rt.Title
		tx.Amount = rt.Amount
		tx.Category = rt.Category
		tx.Description = rt.Description
		tx.OriginalCurrency = rt.OriginalCurrency
		next[i] = tx
		changed = append(changed, tx)
		savings = savings || tx.Type == core.Savings
	}
	if savings {
		if balance := core.CashBalance(currency.Normalize(s.conv, next, s.ref)); balance.IsNegative() {
			s.mu.Unlock()
			return 0, &core.ValidationError{
				Field: "amount",
				Err:   fmt.Errorf("%w: balance would be %s %s", core.ErrInsufficientBalance, balance.StringFixed(2), s.ref),
			}
		}
	}
	s.txs = next
	s.mu.Unlock()

	for _, tx := range changed {
		s.persistSave(tx)
	}
	if len(changed) > 0 {
		s.logger.InfoContext(ctx, "Template changes propagated",
			log.FieldTemplateID, rt.ID,
			log.FieldCount, len(changed))
	}
	return len(changed), nil
}

// BulkImport merges records into the ledger. Records whose id is known
// (live or tombstoned) or whose fingerprint is already present are skipped.
// One malformed record rejects the whole batch.
func (s *Store) BulkImport(ctx context.Context, records []core.Transaction, opts ImportOptions) (int, error) {
	prepared := make([]core.Transaction, len(records))
	for i, r := range records {
		r.Title = strings.TrimSpace(r.Title)
		r.Category = strings.TrimSpace(r.Category)
		r.OriginalCurrency = core.NormalizeCurrency(r.OriginalCurrency)
		if err := r.Validate(); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		prepared[i] = r
	}

	s.mu.Lock()
	if opts.Replace {
		s.txs = nil
		s.tombstones = map[string]struct{}{}
	}

	ids := make(map[string]struct{}, len(s.txs))
	prints := make(map[string]struct{}, len(s.txs))
	for _, tx := range s.txs {
		ids[tx.ID] = struct{}{}
		prints[tx.Fingerprint()] = struct{}{}
	}

	now := s.clock.Now()
	var added []core.Transaction
	for i, r := range prepared {
		if r.ID != "" {
			if _, ok := ids[r.ID]; ok {
				continue
			}
			if _, ok := s.tombstones[r.ID]; ok {
				continue
			}
		}
		fp := r.Fingerprint()
		if _, ok := prints[fp]; ok {
			continue
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			// Offset keeps batch order stable once reloaded by creation time.
			r.CreatedAt = now.Add(time.Duration(i))
		}
		ids[r.ID] = struct{}{}
		prints[fp] = struct{}{}
		added = append(added, r)
	}
	s.txs = append(s.txs, added...)
	var all []core.Transaction
	if opts.Replace {
		all = append([]core.Transaction(nil), s.txs...)
	}
	s.mu.Unlock()

	if opts.Replace {
		s.persistReplace(all)
	} else {
		for _, tx := range added {
			s.persistSave(tx)
		}
	}

	s.logger.InfoContext(ctx, "Transactions imported",
		log.FieldOperation, log.OpImport,
		log.FieldCount, len(added),
		"skipped", len(records)-len(added),
		"replace", opts.Replace)
	return len(added), nil
}

// List returns the transactions newest first.
func (s *Store) List() []core.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Transaction, len(s.txs))
	for i, tx := range s.txs {
		out[len(s.txs)-1-i] = tx
	}
	return out
}

// All returns the transactions in insertion order.
func (s *Store) All() []core.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Transaction(nil), s.txs...)
}

func (s *Store) Get(id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.txs[idx], nil
	}
	return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
}

// HasGenerated reports whether an entry for the template already exists on
// date.
func (s *Store) HasGenerated(recurringID string, date core.Date) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.txs {
		if tx.RecurringID == recurringID && tx.Date == date {
			return true
		}
	}
	return false
}

func (s *Store) Tombstones() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tombstones))
	for id := range s.tombstones {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CashBalance is income - expense - savings + withdrawals in the reference
// currency.
func (s *Store) CashBalance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.CashBalance(currency.Normalize(s.conv, s.txs, s.ref))
}

// Load replaces the in-memory state wholesale; nothing is persisted.
func (s *Store) Load(txs []core.Transaction, tombstones []string) {
	sorted := append([]core.Transaction(nil), txs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	dead := make(map[string]struct{}, len(tombstones))
	for _, id := range tombstones {
		dead[id] = struct{}{}
	}

	s.mu.Lock()
	s.txs = sorted
	s.tombstones = dead
	s.mu.Unlock()
}

// checkCash rejects candidate when the balance over others plus candidate
// would drop below zero. Caller holds s.mu.
func (s *Store) checkCash(others []core.Transaction, candidate core.Transaction) error {
	all := make([]core.Transaction, 0, len(others)+1)
	all = append(all, others...)
	all = append(all, candidate)
	balance := core.CashBalance(currency.Normalize(s.conv, all, s.ref))
	if balance.IsNegative() {
		return &core.ValidationError{
			Field: "amount",
			Err:   fmt.Errorf("%w: balance would be %s %s", core.ErrInsufficientBalance, balance.StringFixed(2), s.ref),
		}
	}
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, tx := range s.txs {
		if tx.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persistSave(tx core.Transaction) {
	s.enqueue("save_transaction", func(ctx context.Context) error {
		return s.port.SaveTransaction(ctx, tx)
	})
}

func (s *Store) persistDelete(id string) {
	s.enqueue("delete_transaction", func(ctx context.Context) error {
		if err := s.port.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		return s.port.AddTombstone(ctx, id)
	})
}

func (s *Store) persistReplace(txs []core.Transaction) {
	s.enqueue("replace_transactions", func(ctx context.Context) error {
		return s.port.ReplaceTransactions(ctx, txs)
	})
}

func (s *Store) enqueue(op string, fn storage.WriteFunc) {
	if s.port == nil || s.writer == nil {
		return
	}
	if err := s.writer.Enqueue(op, fn); err != nil {
		s.logger.Warn("Durable write not scheduled",
			log.FieldOperation, op,
			log.FieldError, err)
	}
}
