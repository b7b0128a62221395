package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ExpenseSpike      NotificationKind = "expenseSpike"
	BudgetWarning     NotificationKind = "budgetWarning"
	BudgetExceeded    NotificationKind = "budgetExceeded"
	SavingsMilestone  NotificationKind = "savingsMilestone"
	RecurringReminder NotificationKind = "recurringReminder"
)

type NotificationKind string

func (k NotificationKind) IsValid() bool {
	switch k {
	case ExpenseSpike, BudgetWarning, BudgetExceeded, SavingsMilestone, RecurringReminder:
		return true
	}
	return false
}

// NotificationPayload carries the structured data of an event. Which fields
// are set depends on the kind; rendering text is left to the presentation
// layer.
type NotificationPayload struct {
	TransactionID string          `json:"transactionId,omitempty"`
	TemplateID    string          `json:"templateId,omitempty"`
	Title         string          `json:"title,omitempty"`
	Category      string          `json:"category,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	Amount        decimal.Decimal `json:"amount,omitzero"`
	Baseline      decimal.Decimal `json:"baseline,omitzero"`
	Spent         decimal.Decimal `json:"spent,omitzero"`
	Limit         decimal.Decimal `json:"limit,omitzero"`
	Milestone     decimal.Decimal `json:"milestone,omitzero"`
	Percentage    float64         `json:"percentage,omitempty"`
	Month         int             `json:"month,omitempty"`
	Year          int             `json:"year,omitempty"`
	DueDate       *Date           `json:"dueDate,omitempty"`
}

type Notification struct {
	ID        string              `json:"id"`
	Kind      NotificationKind    `json:"kind"`
	CreatedAt time.Time           `json:"createdAt"`
	IsRead    bool                `json:"isRead"`
	Payload   NotificationPayload `json:"payload"`
	// DedupKey identifies the condition (kind + subject + period) so it is
	// raised once.
	DedupKey string `json:"dedupKey"`
}
