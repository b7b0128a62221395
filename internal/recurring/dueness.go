// Package recurring projects recurring templates into concrete ledger
// entries.
//
// This file implements the Strategy Pattern for stepping and dueness. Each
// frequency has a checker that knows how to move from one occurrence to the
// next and whether a template is due on a given day.
package recurring

import (
	"fmt"
	"sync"

	"finledger/internal/core"
)

// DuenessChecker is the strategy interface for one recurrence frequency.
type DuenessChecker interface {
	// Next returns the occurrence after current. start anchors the day of
	// month for month based frequencies.
	Next(current, start core.Date) core.Date
	// IsDue reports whether the template is due on today given the last
	// occurrence that was emitted (nil when none was).
	IsDue(last *core.Date, today, start core.Date) bool
}

// DayStepChecker steps a fixed number of days (daily, weekly, biweekly).
type DayStepChecker struct {
	Days int
}

func (c DayStepChecker) Next(current, _ core.Date) core.Date {
	return current.AddDays(c.Days)
}

func (c DayStepChecker) IsDue(last *core.Date, today, start core.Date) bool {
	return isDue(c, last, today, start)
}

// MonthStepChecker steps whole months (monthly, quarterly, yearly). The day
// of month follows the start date, clamped to the length of the target
// month, so Jan 31 goes to Feb 28 and then back to Mar 31.
type MonthStepChecker struct {
	Months int
}

func (c MonthStepChecker) Next(current, start core.Date) core.Date {
	next := current.AddMonths(c.Months)
	targetDay := start.Day()
	if start.IsZero() || targetDay <= next.Day() {
		return next
	}
	lastDay := core.EndOfMonth(next.Month(), next.Year()).Day()
	if targetDay > lastDay {
		targetDay = lastDay
	}
	return core.NewDate(next.Year(), next.Month(), targetDay)
}

func (c MonthStepChecker) IsDue(last *core.Date, today, start core.Date) bool {
	return isDue(c, last, today, start)
}

// isDue: never emitted means due from the start date on; otherwise due once
// the occurrence after the last one has been reached.
func isDue(c DuenessChecker, last *core.Date, today, start core.Date) bool {
	if last == nil || last.IsZero() {
		return !today.Before(start.Time)
	}
	return !c.Next(*last, start).After(today.Time)
}

var (
	strategiesMu sync.RWMutex
	// duenessStrategies maps each frequency to its checker.
	duenessStrategies = map[core.Frequency]DuenessChecker{
		core.Daily:     DayStepChecker{Days: 1},
		core.Weekly:    DayStepChecker{Days: 7},
		core.Biweekly:  DayStepChecker{Days: 14},
		core.Monthly:   MonthStepChecker{Months: 1},
		core.Quarterly: MonthStepChecker{Months: 3},
		core.Yearly:    MonthStepChecker{Months: 12},
	}
)

// GetDuenessChecker returns the checker for a frequency.
func GetDuenessChecker(frequency core.Frequency) (DuenessChecker, error) {
	strategiesMu.RLock()
	defer strategiesMu.RUnlock()
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidFrequency, frequency)
	}
	return checker, nil
}

// RegisterDuenessChecker installs or replaces the checker for a frequency.
func RegisterDuenessChecker(frequency core.Frequency, checker DuenessChecker) {
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	duenessStrategies[frequency] = checker
}

// ReminderDue reports whether rt needs a reminder on today and for which
// date.
func ReminderDue(rt core.RecurringTemplate, today core.Date) (core.Date, bool) {
	if !rt.IsActive {
		return core.Date{}, false
	}
	checker, err := GetDuenessChecker(rt.Frequency)
	if err != nil {
		return core.Date{}, false
	}
	if !checker.IsDue(rt.LastGenerated, today, rt.StartDate) {
		return core.Date{}, false
	}
	due := rt.StartDate
	if rt.LastGenerated != nil && !rt.LastGenerated.IsZero() {
		due = checker.Next(*rt.LastGenerated, rt.StartDate)
	}
	if rt.EndDate != nil && due.After(rt.EndDate.Time) {
		return core.Date{}, false
	}
	return due, true
}
