package services

import (
	"context"
	"time"

	"mensile/internal/core"
)

// Ports for the persistent collaborators the engine reads and writes.
// The SQLite repository implements all of them; tests substitute in-memory
// fakes.
type (
	RecurringExpenseStore interface {
		// ListActive returns the user's active recurring definitions in
		// stable creation order. Matching relies on that order for its
		// first-match-wins tie-break.
		ListActive(ctx context.Context, userID int64) ([]core.RecurringExpense, error)

		// UpdateLastOccurrence anchors the definition's cadence to the
		// date of the latest reconciled real payment.
		UpdateLastOccurrence(ctx context.Context, id int64, on time.Time) error
	}

	OverrideStore interface {
		// GetOverride returns the override for one (expense, month) or
		// core.ErrNotFound when the month has no exception.
		GetOverride(ctx context.Context, expenseID int64, monthKey string) (*core.Override, error)

		// ListOverridesForMonth returns all of a user's overrides for the
		// month, keyed by recurring expense id.
		ListOverridesForMonth(ctx context.Context, userID int64, monthKey string) (map[int64]core.Override, error)
	}

	TransactionStore interface {
		// InsertTransaction returns core.ErrDuplicatePlaceholder when the
		// placeholder uniqueness constraint rejects the row.
		InsertTransaction(ctx context.Context, tx core.Transaction) (int64, error)

		// DeletePlannedPlaceholders removes generated placeholders still in
		// planned status for one expense and month, returning the count.
		DeletePlannedPlaceholders(ctx context.Context, expenseID int64, monthKey string) (int64, error)

		// GeneratedExpenseIDs returns the ids of recurring expenses that
		// already have a generated placeholder tagged with the month key.
		GeneratedExpenseIDs(ctx context.Context, userID int64, monthKey string) (map[int64]struct{}, error)

		// LinkedTransactionExists reports whether a real (non-generated)
		// transaction within [from, to) is already linked to the expense.
		LinkedTransactionExists(ctx context.Context, expenseID int64, from, to time.Time) (bool, error)

		// ListTransactionsByMonth returns the user's transactions dated
		// within [from, to).
		ListTransactionsByMonth(ctx context.Context, userID int64, from, to time.Time) ([]core.Transaction, error)
	}

	AccountStore interface {
		// GetOrCreateHoldingAccount resolves the per-user account that
		// holds generated placeholders, creating it on first use.
		GetOrCreateHoldingAccount(ctx context.Context, userID int64) (core.Account, error)
	}

	RuleStore interface {
		// ListRules returns system-wide rules followed by the user's own,
		// in creation order.
		ListRules(ctx context.Context, userID int64) ([]core.Rule, error)
	}
)
