// Package memory is an in-process transaction mirror, used by tests and
// by the worker when no spreadsheet is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"finledger/internal/core"
	"finledger/internal/sheets"
)

var (
	_ sheets.TransactionMirror = (*Mirror)(nil)
	_ sheets.TransactionLister = (*Mirror)(nil)
)

type Mirror struct {
	mu   sync.Mutex
	rows []core.Transaction
}

func New() *Mirror {
	return &Mirror{}
}

// Upsert stores tx and returns a synthetic row reference.
func (m *Mirror) Upsert(_ context.Context, tx core.Transaction) (string, error) {
	if tx.ID == "" {
		return "", errors.New("transaction without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == tx.ID {
			m.rows[i] = tx
			return fmt.Sprintf("mem:%d", i+1), nil
		}
	}
	m.rows = append(m.rows, tx)
	return fmt.Sprintf("mem:%d", len(m.rows)), nil
}

func (m *Mirror) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Mirror) Replace(_ context.Context, txs []core.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append([]core.Transaction(nil), txs...)
	return nil
}

func (m *Mirror) ListTransactions(_ context.Context, year int, month int) ([]core.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Transaction
	for _, tx := range m.rows {
		if tx.Date.InMonth(month, year) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Rows returns every mirrored transaction in row order.
func (m *Mirror) Rows() []core.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Transaction(nil), m.rows...)
}
