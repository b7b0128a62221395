package google

import (
	"fmt"
	"strings"

	"finledger/internal/core"
)

// transactionToRow renders tx in column order A..I.
func transactionToRow(tx core.Transaction) []any {
	return []any{
		tx.ID,
		tx.Date.String(),
		tx.Title,
		string(tx.Type),
		tx.Category,
		tx.Amount.StringFixed(2),
		tx.OriginalCurrency,
		tx.Description,
		tx.RecurringID,
	}
}

// rowToTransaction parses one sheet row. The header and rows that were
// edited into an invalid shape report false.
func rowToTransaction(cols []string) (core.Transaction, bool) {
	if len(cols) < 7 {
		return core.Transaction{}, false
	}
	date, err := core.ParseDate(cols[1])
	if err != nil {
		return core.Transaction{}, false
	}
	amount, err := core.ParseAmount(cols[5])
	if err != nil {
		return core.Transaction{}, false
	}
	tx := core.Transaction{
		ID:               cols[0],
		Date:             date,
		Title:            cols[2],
		Type:             core.TransactionType(strings.ToLower(cols[3])),
		Category:         cols[4],
		Amount:           amount,
		OriginalCurrency: core.NormalizeCurrency(cols[6]),
		Description:      safeGet(cols, 7),
		RecurringID:      safeGet(cols, 8),
	}
	tx.IsRecurring = tx.RecurringID != ""
	if tx.ID == "" || !tx.Type.IsValid() {
		return core.Transaction{}, false
	}
	return tx, true
}

// buildRowIndex maps ids in column A to their 1-based row numbers.
func buildRowIndex(values [][]any) map[string]int {
	index := make(map[string]int, len(values))
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id == "" || (i == 0 && strings.EqualFold(id, "id")) {
			continue
		}
		if _, dup := index[id]; !dup {
			index[id] = i + 1
		}
	}
	return index
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
