package core

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient cash balance")
	ErrInvalidType         = errors.New("invalid transaction type")
	ErrInvalidFrequency    = errors.New("invalid frequency")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidDay          = errors.New("invalid day")
	ErrInvalidMonth        = errors.New("invalid month")
	ErrInvalidCurrency     = errors.New("invalid currency code")
	ErrInvalidThreshold    = errors.New("alert threshold must be in (0, 1]")
	ErrEmptyTitle          = errors.New("empty title")
	ErrEmptyCategory       = errors.New("empty category")
	ErrInvalidSnapshot     = errors.New("invalid snapshot")
)

// ValidationError is a business-rule rejection reported to the caller. No
// state is mutated when one is returned.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
