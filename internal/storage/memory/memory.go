// Package memory is an in-process storage port, used by tests and the
// "memory" data backend.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"finledger/internal/core"
	"finledger/internal/storage"
)

var _ storage.Port = (*Store)(nil)

type Store struct {
	mu            sync.Mutex
	transactions  map[string]core.Transaction
	budgets       map[string]core.CategoryBudget
	recurring     map[string]core.RecurringTemplate
	notifications map[string]core.Notification
	tombstones    map[string]struct{}
	settings      *core.Settings

	failWith error
}

func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

// NewFromFile seeds the store from a JSON snapshot. A missing file yields an
// empty store.
func NewFromFile(path string) (*Store, error) {
	s := New()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("seed file: %w", err)
	}
	if err := s.ImportAll(context.Background(), snap); err != nil {
		return nil, err
	}
	return s, nil
}

// SetFailure makes every subsequent call fail with err; nil restores normal
// operation.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *Store) reset() {
	s.transactions = map[string]core.Transaction{}
	s.budgets = map[string]core.CategoryBudget{}
	s.recurring = map[string]core.RecurringTemplate{}
	s.notifications = map[string]core.Notification{}
	s.tombstones = map[string]struct{}{}
	s.settings = nil
}

func (s *Store) GetAllTransactions(_ context.Context) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]core.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveTransaction(_ context.Context, t core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.transactions[t.ID] = t
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	delete(s.transactions, id)
	return nil
}

func (s *Store) GetTombstones(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]string, 0, len(s.tombstones))
	for id := range s.tombstones {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) AddTombstone(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.tombstones[id] = struct{}{}
	return nil
}

func (s *Store) ReplaceTransactions(_ context.Context, txs []core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.transactions = make(map[string]core.Transaction, len(txs))
	for _, t := range txs {
		s.transactions[t.ID] = t
	}
	s.tombstones = map[string]struct{}{}
	return nil
}

func (s *Store) GetAllBudgets(_ context.Context) ([]core.CategoryBudget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]core.CategoryBudget, 0, len(s.budgets))
	for _, b := range s.budgets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveBudget(_ context.Context, b core.CategoryBudget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.budgets[b.ID] = b
	return nil
}

func (s *Store) DeleteBudget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	delete(s.budgets, id)
	return nil
}

func (s *Store) GetAllRecurring(_ context.Context) ([]core.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]core.RecurringTemplate, 0, len(s.recurring))
	for _, rt := range s.recurring {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveRecurring(_ context.Context, rt core.RecurringTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.recurring[rt.ID] = rt
	return nil
}

func (s *Store) DeleteRecurring(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	delete(s.recurring, id)
	return nil
}

func (s *Store) GetAllNotifications(_ context.Context) ([]core.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]core.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveNotification(_ context.Context, n core.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.notifications[n.ID] = n
	return nil
}

func (s *Store) DeleteNotification(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	delete(s.notifications, id)
	return nil
}

func (s *Store) ClearNotifications(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.notifications = map[string]core.Notification{}
	return nil
}

func (s *Store) GetSettings(_ context.Context) (core.Settings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return core.Settings{}, false, s.failWith
	}
	if s.settings == nil {
		return core.Settings{}, false, nil
	}
	return *s.settings, true, nil
}

func (s *Store) SaveSettings(_ context.Context, settings core.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.settings = &settings
	return nil
}

func (s *Store) ImportAll(_ context.Context, snap core.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	notifications := s.notifications
	s.reset()
	s.notifications = notifications
	for _, t := range snap.Transactions {
		s.transactions[t.ID] = t
	}
	for _, b := range snap.Budgets {
		s.budgets[b.ID] = b
	}
	for _, rt := range snap.RecurringTransactions {
		s.recurring[rt.ID] = rt
	}
	if snap.Settings.Currency != "" {
		settings := snap.Settings
		s.settings = &settings
	}
	return nil
}

func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.reset()
	return nil
}
