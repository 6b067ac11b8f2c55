package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mensile/internal/cache"
	"mensile/internal/core"
)

// Resolution is the effective per-month state of a recurring expense after
// applying its optional override.
type Resolution struct {
	Amount            decimal.Decimal
	Skipped           bool
	ManuallyConfirmed bool
}

// Resolve applies an optional override to a recurring expense. A nil
// override means defaults: the nominal amount, not skipped, not confirmed.
func Resolve(expense core.RecurringExpense, override *core.Override) Resolution {
	res := Resolution{Amount: expense.Amount}
	if override == nil {
		return res
	}
	if override.Amount != nil {
		res.Amount = *override.Amount
	}
	res.Skipped = override.Skipped
	res.ManuallyConfirmed = override.ManuallyConfirmed
	return res
}

// OverrideResolver looks up overrides and memoizes them per (expense,
// month), so a batch touching the same expense repeatedly hits storage
// once.
type OverrideResolver struct {
	overrides OverrideStore
	memo      *cache.LRU[*core.Override]
}

func NewOverrideResolver(overrides OverrideStore) *OverrideResolver {
	return &OverrideResolver{
		overrides: overrides,
		memo:      cache.NewLRU[*core.Override](2048, time.Minute),
	}
}

// Lookup returns the override for (expense, month), nil when none exists.
func (r *OverrideResolver) Lookup(ctx context.Context, expenseID int64, monthKey string) (*core.Override, error) {
	key := fmt.Sprintf("%d|%s", expenseID, monthKey)
	if ov, ok := r.memo.Get(key); ok {
		return ov, nil
	}

	ov, err := r.overrides.GetOverride(ctx, expenseID, monthKey)
	if errors.Is(err, core.ErrNotFound) {
		ov, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}

	r.memo.Set(key, ov)
	return ov, nil
}

// ResolveFor combines Lookup and Resolve for one (expense, month).
func (r *OverrideResolver) ResolveFor(ctx context.Context, expense core.RecurringExpense, monthKey string) (Resolution, error) {
	ov, err := r.Lookup(ctx, expense.ID, monthKey)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(expense, ov), nil
}

// Invalidate drops the memoized entry for one (expense, month), used after
// an override is written.
func (r *OverrideResolver) Invalidate(expenseID int64, monthKey string) {
	r.memo.Delete(fmt.Sprintf("%d|%s", expenseID, monthKey))
}
