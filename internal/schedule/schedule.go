// Package schedule holds the calendar arithmetic for recurring expenses.
//
// Two dueness algorithms coexist on purpose. DueByScheduleAnchor answers
// "is this month on the grid laid down by the start date" and drives
// materialization and status projection. DueByLastOccurrenceAnchor answers
// "have enough months elapsed since the last real payment" and drives
// reconciliation matching, where cadence re-anchors to the last payment.
package schedule

import (
	"fmt"
	"time"
)

// monthIndex maps a (year, month) pair onto a single linear count so that
// month distance is plain subtraction. This is the only place months are
// 0-indexed; all exported APIs speak time.Month and YYYY-MM-01 keys.
func monthIndex(year int, month time.Month) int {
	return year*12 + int(month) - 1
}

// normalizeInterval defends against missing or corrupt interval data by
// falling back to monthly, so due checks never divide or mod by zero.
func normalizeInterval(intervalMonths int) int {
	if intervalMonths < 1 {
		return 1
	}
	return intervalMonths
}

// DueByScheduleAnchor reports whether the target month lies on the cadence
// anchored at the start date: never before the start month, then every
// intervalMonths months, the start month included.
func DueByScheduleAnchor(start time.Time, intervalMonths int, year int, month time.Month) bool {
	interval := normalizeInterval(intervalMonths)
	diff := monthIndex(year, month) - monthIndex(start.Year(), start.Month())
	return diff >= 0 && diff%interval == 0
}

// DueByLastOccurrenceAnchor reports whether at least intervalMonths whole
// months have elapsed between the last real occurrence and the target
// month. Unlike the schedule anchor this is a simple elapsed-time check,
// not aligned to the original start date.
func DueByLastOccurrenceAnchor(last time.Time, intervalMonths int, year int, month time.Month) bool {
	interval := normalizeInterval(intervalMonths)
	return monthIndex(year, month)-monthIndex(last.Year(), last.Month()) >= interval
}

// LastDayOfMonth returns the number of days in the given month.
func LastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay clamps a nominal day-of-month to the target month's length, so a
// day-31 expense lands on Feb 28/29 instead of overflowing into March.
func ClampDay(year int, month time.Month, day int) int {
	if day < 1 {
		return 1
	}
	if last := LastDayOfMonth(year, month); day > last {
		return last
	}
	return day
}

// MonthKey renders the external first-of-month key for a target month.
func MonthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d-01", year, int(month))
}

// ParseMonthKey parses a YYYY-MM-01 (or any first-of-month date) key back
// into its year and month.
func ParseMonthKey(key string) (int, time.Month, error) {
	t, err := time.Parse("2006-01-02", key)
	if err != nil {
		return 0, 0, fmt.Errorf("parse month key %q: %w", key, err)
	}
	return t.Year(), t.Month(), nil
}

// MonthBounds returns the half-open [first, nextFirst) UTC range covering
// the target month.
func MonthBounds(year int, month time.Month) (time.Time, time.Time) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, 0)
}

// EndedBefore reports whether an optional end date rules the target month
// out entirely. A nil end date never ends.
func EndedBefore(end *time.Time, year int, month time.Month) bool {
	if end == nil {
		return false
	}
	return monthIndex(end.Year(), end.Month()) < monthIndex(year, month)
}

// SameMonth reports whether two dates fall in the same calendar month.
func SameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
