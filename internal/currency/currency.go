// Package currency implements the conversion port the ledger uses to bring
// amounts into one reference currency.
package currency

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/cache"
	"finledger/internal/core"
)

// Converter converts money from one currency into another. Implementations
// must not fail: an unknown code converts as identity.
type Converter interface {
	Convert(amount decimal.Decimal, from, to string) decimal.Decimal
}

// Identity performs no conversion.
type Identity struct{}

func (Identity) Convert(amount decimal.Decimal, _, _ string) decimal.Decimal { return amount }

// RateTable converts using rates quoted against a base currency: rates[X] is
// how many X one unit of base buys. The table may be stale; it is refreshed
// from outside through Update.
type RateTable struct {
	mu    sync.RWMutex
	base  string
	rates map[string]decimal.Decimal
	asOf  time.Time
	cross *cache.LRUCache[decimal.Decimal]
}

var _ Converter = (*RateTable)(nil)

// NewRateTable builds a table. ttl bounds how long memoised cross rates live.
func NewRateTable(base string, rates map[string]decimal.Decimal, ttl time.Duration) *RateTable {
	t := &RateTable{
		base:  core.NormalizeCurrency(base),
		cross: cache.NewLRUCache[decimal.Decimal](256, ttl),
	}
	t.Update(rates, time.Now())
	return t
}

// Base returns the quote currency of the table.
func (t *RateTable) Base() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.base
}

// Cache exposes the cross-rate cache so it can be registered for cleanup.
func (t *RateTable) Cache() *cache.LRUCache[decimal.Decimal] {
	return t.cross
}

// Update replaces the table wholesale and drops memoised cross rates.
func (t *RateTable) Update(rates map[string]decimal.Decimal, asOf time.Time) {
	normalized := make(map[string]decimal.Decimal, len(rates)+1)
	for code, r := range rates {
		if !r.IsPositive() {
			continue
		}
		normalized[core.NormalizeCurrency(code)] = r
	}

	t.mu.Lock()
	normalized[t.base] = decimal.NewFromInt(1)
	t.rates = normalized
	t.asOf = asOf
	t.mu.Unlock()

	t.cross.Purge()
}

// AsOf is when the current rates were supplied.
func (t *RateTable) AsOf() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.asOf
}

// Rate returns how many 'to' units one 'from' unit buys.
func (t *RateTable) Rate(from, to string) (decimal.Decimal, bool) {
	from, to = core.NormalizeCurrency(from), core.NormalizeCurrency(to)
	if from == to {
		return decimal.NewFromInt(1), true
	}
	key := from + ">" + to
	if r, ok := t.cross.Get(key); ok {
		return r, true
	}

	t.mu.RLock()
	rf, okFrom := t.rates[from]
	rt, okTo := t.rates[to]
	t.mu.RUnlock()
	if !okFrom || !okTo {
		return decimal.Zero, false
	}

	r := rt.Div(rf)
	t.cross.Set(key, r)
	return r, true
}

// Convert falls back to identity when either code is unknown.
func (t *RateTable) Convert(amount decimal.Decimal, from, to string) decimal.Decimal {
	if amount.IsZero() {
		return amount
	}
	r, ok := t.Rate(from, to)
	if !ok {
		slog.Debug("Unknown currency, converting as identity", "from", from, "to", to)
		return amount
	}
	return amount.Mul(r)
}

// ParseRates reads "USD=1.08,GBP=0.85" into a rate map.
func ParseRates(raw string) (map[string]decimal.Decimal, error) {
	rates := map[string]decimal.Decimal{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q: expected CODE=VALUE", part)
		}
		code = core.NormalizeCurrency(code)
		if len(code) != 3 {
			return nil, fmt.Errorf("invalid rate %q: %w", part, core.ErrInvalidCurrency)
		}
		r, err := core.ParseDecimal(value)
		if err != nil || !r.IsPositive() {
			return nil, fmt.Errorf("invalid rate %q: must be a positive number", part)
		}
		rates[code] = r
	}
	return rates, nil
}

// Normalize returns a copy of txs with every amount expressed in to.
func Normalize(c Converter, txs []core.Transaction, to string) []core.Transaction {
	out := make([]core.Transaction, len(txs))
	for i, tx := range txs {
		if tx.OriginalCurrency != to {
			tx.Amount = c.Convert(tx.Amount, tx.OriginalCurrency, to)
		}
		out[i] = tx
	}
	return out
}
