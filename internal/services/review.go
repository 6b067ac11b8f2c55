package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mensile/internal/core"
	"mensile/internal/schedule"
)

// MonthView is the month-scoped response consumed by budgets and
// dashboards: per-expense status rows, the aggregates, and the raw
// materialized/linked transaction list.
type MonthView struct {
	Year         int
	Month        time.Month
	MonthKey     string
	Statuses     []ExpenseStatus
	Summary      MonthSummary
	Transactions []core.Transaction
}

// MonthReview orchestrates one month read: materialize placeholders, load
// the month's state, project statuses.
type MonthReview struct {
	materializer *Materializer
	expenses     RecurringExpenseStore
	overrides    OverrideStore
	transactions TransactionStore
}

func NewMonthReview(materializer *Materializer, expenses RecurringExpenseStore, overrides OverrideStore, transactions TransactionStore) *MonthReview {
	return &MonthReview{
		materializer: materializer,
		expenses:     expenses,
		overrides:    overrides,
		transactions: transactions,
	}
}

// View ensures placeholders exist and returns the projected month. A failed
// materialization pass degrades to projecting whatever state already
// exists; since View runs on every month read, the next read is the retry.
func (r *MonthReview) View(ctx context.Context, userID int64, year int, month time.Month, asOf time.Time) (MonthView, error) {
	monthKey := schedule.MonthKey(year, month)

	if _, err := r.materializer.Ensure(ctx, userID, year, month); err != nil {
		slog.WarnContext(ctx, "Materialization failed, projecting existing state",
			"user_id", userID,
			"month", monthKey,
			"error", err)
	}

	active, err := r.expenses.ListActive(ctx, userID)
	if err != nil {
		return MonthView{}, fmt.Errorf("list active recurring expenses: %w", err)
	}

	overrides, err := r.overrides.ListOverridesForMonth(ctx, userID, monthKey)
	if err != nil {
		return MonthView{}, fmt.Errorf("list overrides for %s: %w", monthKey, err)
	}

	from, to := schedule.MonthBounds(year, month)
	transactions, err := r.transactions.ListTransactionsByMonth(ctx, userID, from, to)
	if err != nil {
		return MonthView{}, fmt.Errorf("list transactions for %s: %w", monthKey, err)
	}

	statuses, summary := Project(active, overrides, transactions, year, month, asOf)

	return MonthView{
		Year:         year,
		Month:        month,
		MonthKey:     monthKey,
		Statuses:     statuses,
		Summary:      summary,
		Transactions: transactions,
	}, nil
}
