package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mensile/internal/core"
	"mensile/internal/schedule"
)

// HoldingAccountExternalID is the sentinel external id of the per-user
// account that collects generated placeholder transactions.
const HoldingAccountExternalID = "mensile:generated"

// Materializer ensures each due recurring expense has exactly one generated
// placeholder transaction per month. It is idempotent and safe under
// concurrent invocation: the storage uniqueness constraint on
// (recurring_expense_id, generated_month) absorbs races, there is no
// application-level lock.
type Materializer struct {
	expenses     RecurringExpenseStore
	overrides    OverrideStore
	transactions TransactionStore
	accounts     AccountStore
}

func NewMaterializer(expenses RecurringExpenseStore, overrides OverrideStore, transactions TransactionStore, accounts AccountStore) *Materializer {
	return &Materializer{
		expenses:     expenses,
		overrides:    overrides,
		transactions: transactions,
		accounts:     accounts,
	}
}

// EnsureResult reports what one materialization pass did.
type EnsureResult struct {
	Generated      int
	AlreadyPresent int
	CleanedUp      int
}

// Ensure materializes missing placeholders for the user's due recurring
// expenses in the target month. Individual insert failures, including
// uniqueness violations from a concurrent call, degrade to "already
// present" and are never surfaced; a failed holding-account resolution
// aborts the pass with a zero result, since the next invocation is the
// natural retry.
func (m *Materializer) Ensure(ctx context.Context, userID int64, year int, month time.Month) (EnsureResult, error) {
	var res EnsureResult
	monthKey := schedule.MonthKey(year, month)

	active, err := m.expenses.ListActive(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("list active recurring expenses: %w", err)
	}
	if len(active) == 0 {
		return res, nil
	}

	overrides, err := m.overrides.ListOverridesForMonth(ctx, userID, monthKey)
	if err != nil {
		return res, fmt.Errorf("list overrides for %s: %w", monthKey, err)
	}

	materialized, err := m.transactions.GeneratedExpenseIDs(ctx, userID, monthKey)
	if err != nil {
		return res, fmt.Errorf("list generated placeholders for %s: %w", monthKey, err)
	}

	// Cleanup pass: a skip recorded after materialization reverses the
	// placeholder, provided it is still in planned status. Reconciled
	// transactions are never touched here.
	for id := range materialized {
		ov, ok := overrides[id]
		if !ok || !ov.Skipped {
			continue
		}
		removed, err := m.transactions.DeletePlannedPlaceholders(ctx, id, monthKey)
		if err != nil {
			slog.WarnContext(ctx, "Failed to remove skipped placeholder",
				"recurring_expense_id", id,
				"month", monthKey,
				"error", err)
			continue
		}
		if removed > 0 {
			delete(materialized, id)
			res.CleanedUp += int(removed)
		}
	}

	var due []core.RecurringExpense
	for _, exp := range active {
		if !schedule.DueByScheduleAnchor(exp.StartDate, exp.IntervalMonths, year, month) {
			continue
		}
		if schedule.EndedBefore(exp.EndDate, year, month) {
			continue
		}
		if _, done := materialized[exp.ID]; done {
			res.AlreadyPresent++
			continue
		}
		if ov, ok := overrides[exp.ID]; ok && ov.Skipped {
			continue
		}
		due = append(due, exp)
	}
	if len(due) == 0 {
		return res, nil
	}

	holding, err := m.accounts.GetOrCreateHoldingAccount(ctx, userID)
	if err != nil {
		// Abort quietly: callers re-invoke Ensure on every month read.
		slog.ErrorContext(ctx, "Failed to resolve holding account, skipping generation",
			"user_id", userID,
			"month", monthKey,
			"error", err)
		return EnsureResult{}, nil
	}

	for _, exp := range due {
		var ovPtr *core.Override
		if ov, ok := overrides[exp.ID]; ok {
			ovClone := ov
			ovPtr = &ovClone
		}
		resolution := Resolve(exp, ovPtr)

		day := schedule.ClampDay(year, month, exp.DayOfMonth)
		expenseID := exp.ID
		placeholder := core.Transaction{
			UserID:             userID,
			AccountID:          holding.ID,
			Amount:             resolution.Amount,
			Currency:           exp.Currency,
			Description:        exp.Name,
			CategoryID:         exp.CategoryID,
			RecurringExpenseID: &expenseID,
			Generated:          true,
			PaymentStatus:      core.PaymentPlanned,
			GeneratedMonth:     monthKey,
			Date:               time.Date(year, month, day, 0, 0, 0, 0, time.UTC),
		}

		_, err := m.transactions.InsertTransaction(ctx, placeholder)
		switch {
		case err == nil:
			res.Generated++
		case errors.Is(err, core.ErrDuplicatePlaceholder):
			// A concurrent Ensure won the insert race.
			res.AlreadyPresent++
		default:
			slog.WarnContext(ctx, "Placeholder insert failed, treating as already present",
				"recurring_expense_id", exp.ID,
				"month", monthKey,
				"error", err)
			res.AlreadyPresent++
		}
	}

	slog.InfoContext(ctx, "Materialization pass complete",
		"user_id", userID,
		"month", monthKey,
		"generated", res.Generated,
		"already_present", res.AlreadyPresent,
		"cleaned_up", res.CleanedUp)

	return res, nil
}
