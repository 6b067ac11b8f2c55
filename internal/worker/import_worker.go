// Package worker hosts the background processors: statement-batch import
// and periodic materialization.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"mensile/internal/amqp"
	"mensile/internal/core"
	"mensile/internal/schedule"
	"mensile/internal/services"
)

// ImportWorker reconciles incoming statement batches against recurring
// expense definitions and writes the resulting transactions.
type ImportWorker struct {
	matcher      *services.Matcher
	expenses     services.RecurringExpenseStore
	transactions services.TransactionStore
}

func NewImportWorker(matcher *services.Matcher, expenses services.RecurringExpenseStore, transactions services.TransactionStore) *ImportWorker {
	return &ImportWorker{
		matcher:      matcher,
		expenses:     expenses,
		transactions: transactions,
	}
}

// BatchResult reports what one batch produced.
type BatchResult struct {
	Imported    int
	Linked      int
	Categorized int
	Failed      int
}

// HandleBatch processes a batch's lines strictly in order. Matches made
// earlier in the batch are tracked in memory and excluded from later
// lines, on top of the storage already-linked check. Line-level failures
// are logged and skipped; the batch itself only fails when nothing can be
// read at all.
func (w *ImportWorker) HandleBatch(ctx context.Context, msg *amqp.StatementBatchMessage) (BatchResult, error) {
	var res BatchResult

	// (expense id, month key) pairs already linked within this batch.
	matchedInBatch := make(map[string]struct{})

	for i, line := range msg.Lines {
		monthKey := schedule.MonthKey(line.Date.Year(), line.Date.Month())

		candidate := services.Candidate{
			Merchant:    line.Merchant,
			Description: line.Description,
			Date:        line.Date,
			Amount:      line.Amount.Abs(),
		}

		match, err := w.matcher.MatchExcluding(ctx, msg.UserID, candidate, func(expenseID int64) bool {
			_, taken := matchedInBatch[batchKey(expenseID, monthKey)]
			return taken
		})
		if err != nil {
			slog.ErrorContext(ctx, "Match failed, importing line uncategorized",
				"batch_id", msg.BatchID,
				"line", i,
				"error", err)
			match = core.MatchResult{}
		}

		tx := core.Transaction{
			UserID:             msg.UserID,
			AccountID:          line.AccountID,
			Amount:             line.Amount.Abs(),
			Currency:           line.Currency,
			Description:        line.Description,
			Merchant:           line.Merchant,
			CategoryID:         match.CategoryID,
			RecurringExpenseID: match.RecurringExpenseID,
			Date:               line.Date,
		}
		if line.ExternalID != "" {
			externalID := line.ExternalID
			tx.ExternalID = &externalID
		}
		if match.RecurringExpenseID != nil {
			tx.PaymentStatus = core.PaymentCompleted
		}

		if _, err := w.transactions.InsertTransaction(ctx, tx); err != nil {
			slog.ErrorContext(ctx, "Failed to insert imported transaction",
				"batch_id", msg.BatchID,
				"line", i,
				"error", err)
			res.Failed++
			continue
		}
		res.Imported++

		if match.RecurringExpenseID != nil {
			res.Linked++
			matchedInBatch[batchKey(*match.RecurringExpenseID, monthKey)] = struct{}{}

			// The matcher signals this side effect but does not perform
			// it: anchor the next due check to this payment.
			if err := w.expenses.UpdateLastOccurrence(ctx, *match.RecurringExpenseID, line.Date); err != nil {
				slog.ErrorContext(ctx, "Failed to update last occurrence",
					"recurring_expense_id", *match.RecurringExpenseID,
					"error", err)
			}
		} else if match.CategoryID != nil {
			res.Categorized++
		}
	}

	slog.InfoContext(ctx, "Statement batch reconciled",
		"batch_id", msg.BatchID,
		"user_id", msg.UserID,
		"imported", res.Imported,
		"linked", res.Linked,
		"categorized", res.Categorized,
		"failed", res.Failed)

	return res, nil
}

func batchKey(expenseID int64, monthKey string) string {
	return fmt.Sprintf("%d|%s", expenseID, monthKey)
}
