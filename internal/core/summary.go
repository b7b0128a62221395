package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// The functions below are pure aggregates over a transaction list. Callers
// filter the list to the scope they need and convert every amount to one
// reference currency first.

var hundred = decimal.NewFromInt(100)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Summary is the full set of derived metrics for one transaction slice.
type Summary struct {
	Income      decimal.Decimal  `json:"income"`
	Expense     decimal.Decimal  `json:"expense"`
	Savings     decimal.Decimal  `json:"savings"`
	Withdrawals decimal.Decimal  `json:"withdrawals"`
	NetSavings  decimal.Decimal  `json:"netSavings"`
	CashBalance decimal.Decimal  `json:"cashBalance"`
	SavingsRate float64          `json:"savingsRate"`
	ByCategory  []CategoryAmount `json:"byCategory"`
}

func sumType(txs []Transaction, typ TransactionType) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		if t.Type == typ {
			total = total.Add(t.Amount)
		}
	}
	return total
}

func TotalIncome(txs []Transaction) decimal.Decimal      { return sumType(txs, Income) }
func TotalExpense(txs []Transaction) decimal.Decimal     { return sumType(txs, Expense) }
func TotalSavings(txs []Transaction) decimal.Decimal     { return sumType(txs, Savings) }
func TotalWithdrawals(txs []Transaction) decimal.Decimal { return sumType(txs, Withdrawal) }

// NetSavings is savings minus withdrawals.
func NetSavings(txs []Transaction) decimal.Decimal {
	return TotalSavings(txs).Sub(TotalWithdrawals(txs))
}

// CashBalance = income - expense - savings + withdrawals. Saving money leaves
// cash, withdrawing returns it.
func CashBalance(txs []Transaction) decimal.Decimal {
	return TotalIncome(txs).
		Sub(TotalExpense(txs)).
		Sub(TotalSavings(txs)).
		Add(TotalWithdrawals(txs))
}

// NetWorth is the running net savings over every transaction dated on or
// before the last day of month/year. txs must be the full history.
func NetWorth(txs []Transaction, month, year int) decimal.Decimal {
	boundary := EndOfMonth(month, year)
	upto := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if !t.Date.After(boundary.Time) {
			upto = append(upto, t)
		}
	}
	return NetSavings(upto)
}

// SavingsRate returns (income - expense) / income * 100, or 0 without income.
func SavingsRate(txs []Transaction) float64 {
	income := TotalIncome(txs)
	if income.IsZero() {
		return 0
	}
	rate, _ := income.Sub(TotalExpense(txs)).Div(income).Mul(hundred).Float64()
	return rate
}

// ByCategory sums amounts of the given type per category, largest first.
func ByCategory(txs []Transaction, typ TransactionType) []CategoryAmount {
	totals := map[string]decimal.Decimal{}
	var order []string
	for _, t := range txs {
		if t.Type != typ {
			continue
		}
		if _, ok := totals[t.Category]; !ok {
			order = append(order, t.Category)
			totals[t.Category] = decimal.Zero
		}
		totals[t.Category] = totals[t.Category].Add(t.Amount)
	}
	out := make([]CategoryAmount, 0, len(order))
	for _, name := range order {
		out = append(out, CategoryAmount{Name: name, Amount: totals[name]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Amount.GreaterThan(out[j].Amount)
	})
	return out
}

// FilterMonth keeps the transactions dated in month/year.
func FilterMonth(txs []Transaction, month, year int) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if t.Date.InMonth(month, year) {
			out = append(out, t)
		}
	}
	return out
}

// Summarize computes every aggregate in one call; expense breakdown only.
func Summarize(txs []Transaction) Summary {
	return Summary{
		Income:      TotalIncome(txs),
		Expense:     TotalExpense(txs),
		Savings:     TotalSavings(txs),
		Withdrawals: TotalWithdrawals(txs),
		NetSavings:  NetSavings(txs),
		CashBalance: CashBalance(txs),
		SavingsRate: SavingsRate(txs),
		ByCategory:  ByCategory(txs, Expense),
	}
}
