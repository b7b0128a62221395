package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income     TransactionType = "income"
	Expense    TransactionType = "expense"
	Savings    TransactionType = "savings"
	Withdrawal TransactionType = "withdrawal"
)

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

const maxTitleLength = 200

type (
	TransactionType string

	Frequency string

	// Transaction is a single recorded money movement. Amount is expressed in
	// OriginalCurrency.
	Transaction struct {
		ID               string          `json:"id"`
		Title            string          `json:"title"`
		Amount           decimal.Decimal `json:"amount"`
		Category         string          `json:"category"`
		Type             TransactionType `json:"type"`
		Date             Date            `json:"date"`
		OriginalCurrency string          `json:"originalCurrency"`
		Description      string          `json:"description,omitempty"`
		IsRecurring      bool            `json:"isRecurring,omitempty"`
		RecurringID      string          `json:"recurringId,omitempty"` // lookup key only, never ownership
		CreatedAt        time.Time       `json:"createdAt"`
	}

	// RecurringTemplate generates future transactions. NextOccurrence is the
	// cursor: the next date to emit.
	RecurringTemplate struct {
		ID               string          `json:"id"`
		Title            string          `json:"title"`
		Amount           decimal.Decimal `json:"amount"`
		Category         string          `json:"category"`
		Type             TransactionType `json:"type"`
		Frequency        Frequency       `json:"frequency"`
		StartDate        Date            `json:"startDate"`
		EndDate          *Date           `json:"endDate,omitempty"`
		NextOccurrence   Date            `json:"nextOccurrence"`
		LastGenerated    *Date           `json:"lastGenerated,omitempty"`
		IsActive         bool            `json:"isActive"`
		OriginalCurrency string          `json:"originalCurrency"`
		Description      string          `json:"description,omitempty"`
	}

	CategoryBudget struct {
		ID             string          `json:"id"`
		Category       string          `json:"category"`
		MonthlyLimit   decimal.Decimal `json:"monthlyLimit"`
		AlertThreshold float64         `json:"alertThreshold"`
		IsActive       bool            `json:"isActive"`
		Currency       string          `json:"currency"`
	}

	Settings struct {
		Currency             string    `json:"currency"`
		NotificationsEnabled bool      `json:"notificationsEnabled"`
		UpdatedAt            time.Time `json:"updatedAt"`
	}

	// Snapshot is the portable export of the ledger state.
	Snapshot struct {
		Transactions          []Transaction       `json:"transactions"`
		Budgets               []CategoryBudget    `json:"budgets"`
		RecurringTransactions []RecurringTemplate `json:"recurringTransactions"`
		Settings              Settings            `json:"settings"`
	}
)

// IsValid reports whether t is one of the four known movement types.
func (t TransactionType) IsValid() bool {
	switch t {
	case Income, Expense, Savings, Withdrawal:
		return true
	}
	return false
}

// IsValid reports whether f is a supported recurrence frequency.
func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

// Next returns the date one frequency step after d. Month based steps clamp
// to the last day of the target month.
func (f Frequency) Next(d Date) Date {
	switch f {
	case Daily:
		return d.AddDays(1)
	case Weekly:
		return d.AddDays(7)
	case Biweekly:
		return d.AddDays(14)
	case Monthly:
		return d.AddMonths(1)
	case Quarterly:
		return d.AddMonths(3)
	case Yearly:
		return d.AddMonths(12)
	}
	return d
}

// NormalizeCurrency upper-cases and trims an ISO currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeCategory is the comparison form of a category label.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Err: ErrEmptyTitle}
	}
	if len(title) > maxTitleLength {
		return &ValidationError{Field: "title", Err: fmt.Errorf("too long (max %d characters)", maxTitleLength)}
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	}
	return nil
}

func validateCurrency(code string) error {
	code = NormalizeCurrency(code)
	if len(code) != 3 {
		return &ValidationError{Field: "currency", Err: ErrInvalidCurrency}
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := validateTitle(t.Title); err != nil {
		return err
	}
	if err := validateAmount(t.Amount); err != nil {
		return err
	}
	if !t.Type.IsValid() {
		return &ValidationError{Field: "type", Err: ErrInvalidType}
	}
	if err := t.Date.Validate(); err != nil {
		return &ValidationError{Field: "date", Err: err}
	}
	if strings.TrimSpace(t.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	return validateCurrency(t.OriginalCurrency)
}

// Fingerprint is the content key used to detect re-imports of records that
// lack a stable id.
func (t Transaction) Fingerprint() string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(t.Title)),
		t.Amount.String(),
		NormalizeCategory(t.Category),
		t.Date.String(),
		string(t.Type),
		NormalizeCurrency(t.OriginalCurrency),
	}, "|")
}

func (rt RecurringTemplate) Validate() error {
	if err := validateTitle(rt.Title); err != nil {
		return err
	}
	if err := validateAmount(rt.Amount); err != nil {
		return err
	}
	switch rt.Type {
	case Income, Expense, Savings:
	case Withdrawal:
		return &ValidationError{Field: "type", Err: fmt.Errorf("%w: withdrawal cannot recur", ErrInvalidType)}
	default:
		return &ValidationError{Field: "type", Err: ErrInvalidType}
	}
	if !rt.Frequency.IsValid() {
		return &ValidationError{Field: "frequency", Err: ErrInvalidFrequency}
	}
	if err := rt.StartDate.Validate(); err != nil {
		return &ValidationError{Field: "startDate", Err: err}
	}
	if rt.EndDate != nil && rt.EndDate.Before(rt.StartDate.Time) {
		return &ValidationError{Field: "endDate", Err: errors.New("end date must not be before start date")}
	}
	if strings.TrimSpace(rt.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	return validateCurrency(rt.OriginalCurrency)
}

// Finished reports whether the template can no longer emit entries.
func (rt RecurringTemplate) Finished() bool {
	if !rt.IsActive {
		return true
	}
	return rt.EndDate != nil && rt.NextOccurrence.After(rt.EndDate.Time)
}

func (b CategoryBudget) Validate() error {
	if strings.TrimSpace(b.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	if !b.MonthlyLimit.IsPositive() {
		return &ValidationError{Field: "monthlyLimit", Err: ErrInvalidAmount}
	}
	if b.AlertThreshold <= 0 || b.AlertThreshold > 1 {
		return &ValidationError{Field: "alertThreshold", Err: ErrInvalidThreshold}
	}
	return validateCurrency(b.Currency)
}

// Validate checks the shape of an imported snapshot before anything is
// applied.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Transactions))
	for i, t := range s.Transactions {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("%w: transaction %d has no id", ErrInvalidSnapshot, i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: duplicate transaction id %q", ErrInvalidSnapshot, t.ID)
		}
		seen[t.ID] = struct{}{}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: transaction %q: %v", ErrInvalidSnapshot, t.ID, err)
		}
	}
	for _, b := range s.Budgets {
		if strings.TrimSpace(b.ID) == "" {
			return fmt.Errorf("%w: budget without id", ErrInvalidSnapshot)
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w: budget %q: %v", ErrInvalidSnapshot, b.ID, err)
		}
	}
	for _, rt := range s.RecurringTransactions {
		if strings.TrimSpace(rt.ID) == "" {
			return fmt.Errorf("%w: recurring template without id", ErrInvalidSnapshot)
		}
		if err := rt.Validate(); err != nil {
			return fmt.Errorf("%w: recurring template %q: %v", ErrInvalidSnapshot, rt.ID, err)
		}
		if rt.NextOccurrence.IsZero() {
			return fmt.Errorf("%w: recurring template %q has no next occurrence", ErrInvalidSnapshot, rt.ID)
		}
	}
	if s.Settings.Currency != "" {
		if err := validateCurrency(s.Settings.Currency); err != nil {
			return fmt.Errorf("%w: settings: %v", ErrInvalidSnapshot, err)
		}
	}
	return nil
}
