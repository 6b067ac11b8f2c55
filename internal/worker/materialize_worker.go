package worker

import (
	"context"
	"log/slog"
	"time"

	"mensile/internal/services"
)

// UserLister enumerates users that own active recurring expenses.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// MaterializeWorker periodically ensures the current month's placeholders
// exist for every user. Each pass is idempotent, so the interval is a
// freshness knob, not a correctness one.
type MaterializeWorker struct {
	materializer *services.Materializer
	users        UserLister
	interval     time.Duration
}

func NewMaterializeWorker(materializer *services.Materializer, users UserLister, interval time.Duration) *MaterializeWorker {
	return &MaterializeWorker{
		materializer: materializer,
		users:        users,
		interval:     interval,
	}
}

// Run materializes once immediately, then on every tick until the context
// is cancelled.
func (w *MaterializeWorker) Run(ctx context.Context) error {
	w.runOnce(ctx, time.Now())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			w.runOnce(ctx, now)
		}
	}
}

func (w *MaterializeWorker) runOnce(ctx context.Context, now time.Time) {
	users, err := w.users.ListUserIDs(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list users for materialization", "error", err)
		return
	}

	year, month := now.Year(), now.Month()
	generated := 0
	for _, userID := range users {
		res, err := w.materializer.Ensure(ctx, userID, year, month)
		if err != nil {
			slog.ErrorContext(ctx, "Materialization pass failed",
				"user_id", userID,
				"error", err)
			continue
		}
		generated += res.Generated
	}

	slog.InfoContext(ctx, "Materialization sweep complete",
		"users", len(users),
		"generated", generated,
		"next_check", now.Add(w.interval).Format("15:04:05"))
}
