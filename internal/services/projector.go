package services

import (
	"time"

	"github.com/shopspring/decimal"

	"mensile/internal/core"
	"mensile/internal/schedule"
)

// ExpenseStatus is the derived per-expense view of one month. It is
// recomputed on every request and never stored.
type ExpenseStatus struct {
	Expense           core.RecurringExpense
	EffectiveAmount   decimal.Decimal
	DueDay            int
	DueThisMonth      bool
	Skipped           bool
	ManuallyConfirmed bool
	Paid              bool
	CompletedPayment  bool
	DueDatePassed     bool
	DueToday          bool
	Overdue           bool
	Linked            *core.Transaction
}

// MonthSummary aggregates one month. TotalDue, Paid, Overdue and Pending
// cover due, non-skipped expenses only; MonthlyEquivalent is the amortized
// run-rate over all active expenses regardless of dueness.
type MonthSummary struct {
	TotalDue          decimal.Decimal
	Paid              decimal.Decimal
	Overdue           decimal.Decimal
	Pending           decimal.Decimal
	MonthlyEquivalent decimal.Decimal
}

// Project combines recurring definitions, per-month overrides and the
// month's transactions into status rows and aggregates, evaluated as of
// asOf at day granularity. Generated placeholders never count as payments;
// a payment signal is a linked real transaction or a manual confirmation.
func Project(expenses []core.RecurringExpense, overrides map[int64]core.Override, transactions []core.Transaction, year int, month time.Month, asOf time.Time) ([]ExpenseStatus, MonthSummary) {
	linked := make(map[int64]*core.Transaction, len(transactions))
	for i := range transactions {
		tx := &transactions[i]
		if tx.RecurringExpenseID == nil || tx.Generated {
			continue
		}
		if _, taken := linked[*tx.RecurringExpenseID]; !taken {
			linked[*tx.RecurringExpenseID] = tx
		}
	}

	summary := MonthSummary{
		TotalDue:          decimal.Zero,
		Paid:              decimal.Zero,
		Overdue:           decimal.Zero,
		Pending:           decimal.Zero,
		MonthlyEquivalent: decimal.Zero,
	}

	statuses := make([]ExpenseStatus, 0, len(expenses))
	for _, exp := range expenses {
		if !exp.Active {
			continue
		}

		var ovPtr *core.Override
		if ov, ok := overrides[exp.ID]; ok {
			ovClone := ov
			ovPtr = &ovClone
		}
		resolution := Resolve(exp, ovPtr)

		st := ExpenseStatus{
			Expense:           exp,
			EffectiveAmount:   resolution.Amount,
			DueDay:            schedule.ClampDay(year, month, exp.DayOfMonth),
			Skipped:           resolution.Skipped,
			ManuallyConfirmed: resolution.ManuallyConfirmed,
			Linked:            linked[exp.ID],
		}

		st.DueThisMonth = schedule.DueByScheduleAnchor(exp.StartDate, exp.IntervalMonths, year, month) &&
			!schedule.EndedBefore(exp.EndDate, year, month)

		// Either signal suffices: a linked real transaction or a manual
		// confirmation tick.
		st.Paid = st.Linked != nil || st.ManuallyConfirmed
		st.CompletedPayment = st.Linked != nil && st.Linked.PaymentStatus == core.PaymentCompleted

		st.DueDatePassed, st.DueToday = dueDayElapsed(year, month, st.DueDay, asOf)
		st.Overdue = st.DueThisMonth && st.DueDatePassed && !st.Paid && !st.Skipped

		interval := exp.IntervalMonths
		if interval < 1 {
			interval = 1
		}
		summary.MonthlyEquivalent = summary.MonthlyEquivalent.Add(exp.Amount.Div(decimal.NewFromInt(int64(interval))))

		if st.DueThisMonth && !st.Skipped {
			summary.TotalDue = summary.TotalDue.Add(st.EffectiveAmount)
			switch {
			case st.Paid:
				summary.Paid = summary.Paid.Add(st.EffectiveAmount)
			case st.Overdue:
				summary.Overdue = summary.Overdue.Add(st.EffectiveAmount)
			}
		}

		statuses = append(statuses, st)
	}

	summary.Pending = summary.TotalDue.Sub(summary.Paid).Sub(summary.Overdue)
	summary.MonthlyEquivalent = summary.MonthlyEquivalent.Round(2)

	return statuses, summary
}

// dueDayElapsed compares the clamped due day against asOf at (year, month,
// day) granularity. Past months are unconditionally passed, future months
// unconditionally not; within the same month an equal day is "due today"
// and not passed.
func dueDayElapsed(year int, month time.Month, dueDay int, asOf time.Time) (passed, today bool) {
	switch {
	case asOf.Year() > year:
		return true, false
	case asOf.Year() < year:
		return false, false
	case asOf.Month() > month:
		return true, false
	case asOf.Month() < month:
		return false, false
	case asOf.Day() > dueDay:
		return true, false
	case asOf.Day() == dueDay:
		return false, true
	default:
		return false, false
	}
}
