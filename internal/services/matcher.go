package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"mensile/internal/core"
	"mensile/internal/schedule"
)

// Candidate is one freshly imported statement line offered for
// reconciliation. Amount is carried for context and logging only; matching
// uses keywords and timing, not amounts.
type Candidate struct {
	Merchant    string
	Description string
	Date        time.Time
	Amount      decimal.Decimal
}

// Matcher decides whether an imported transaction corresponds to a
// recurring expense definition, falling back to flat keyword rules when it
// does not. Match is read-only: the caller commits the last-occurrence
// update after persisting the matched transaction.
type Matcher struct {
	expenses     RecurringExpenseStore
	transactions TransactionStore
	rules        RuleStore
	resolver     *OverrideResolver
}

func NewMatcher(expenses RecurringExpenseStore, transactions TransactionStore, rules RuleStore, resolver *OverrideResolver) *Matcher {
	return &Matcher{
		expenses:     expenses,
		transactions: transactions,
		rules:        rules,
		resolver:     resolver,
	}
}

// Match reconciles one candidate. Definitions are tried in load order and
// the first one passing keyword, dueness, skip and not-already-linked
// checks wins; on a recurring match the definition's category, if any,
// overrides flat-rule categorization. No match is the common case, not an
// error.
func (m *Matcher) Match(ctx context.Context, userID int64, c Candidate) (core.MatchResult, error) {
	return m.MatchExcluding(ctx, userID, c, nil)
}

// MatchExcluding is Match with an extra guard: expense ids for which
// exclude returns true are treated as already linked this month. Batch
// imports pass their in-memory matched set here, layered on top of the
// storage existence check, so two lines in one batch cannot both link the
// same definition.
func (m *Matcher) MatchExcluding(ctx context.Context, userID int64, c Candidate, exclude func(expenseID int64) bool) (core.MatchResult, error) {
	text := normalizeText(c.Merchant + " " + c.Description)

	if text != "" {
		matched, err := m.matchRecurring(ctx, userID, c, text, exclude)
		if err != nil {
			return core.MatchResult{}, err
		}
		if matched != nil {
			result := core.MatchResult{RecurringExpenseID: &matched.ID}
			if matched.CategoryID != nil {
				categoryID := *matched.CategoryID
				result.CategoryID = &categoryID
			}
			return result, nil
		}
	}

	return m.matchRules(ctx, userID, text)
}

func (m *Matcher) matchRecurring(ctx context.Context, userID int64, c Candidate, text string, exclude func(expenseID int64) bool) (*core.RecurringExpense, error) {
	active, err := m.expenses.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list active recurring expenses: %w", err)
	}

	year, month := c.Date.Year(), c.Date.Month()
	monthKey := schedule.MonthKey(year, month)
	from, to := schedule.MonthBounds(year, month)

	for i := range active {
		exp := &active[i]
		if len(exp.Keywords) == 0 || !keywordHit(text, exp.Keywords) {
			continue
		}

		// After the first real payment the cadence anchors to the last
		// occurrence; before that, to the start date.
		var due bool
		if exp.LastOccurrence != nil {
			due = schedule.DueByLastOccurrenceAnchor(*exp.LastOccurrence, exp.IntervalMonths, year, month)
		} else {
			due = schedule.DueByScheduleAnchor(exp.StartDate, exp.IntervalMonths, year, month)
		}
		if !due || schedule.EndedBefore(exp.EndDate, year, month) {
			continue
		}

		if exclude != nil && exclude(exp.ID) {
			continue
		}

		if m.resolver != nil {
			ov, err := m.resolver.Lookup(ctx, exp.ID, monthKey)
			if err != nil {
				return nil, err
			}
			if ov != nil && ov.Skipped {
				continue
			}
		}

		linked, err := m.transactions.LinkedTransactionExists(ctx, exp.ID, from, to)
		if err != nil {
			return nil, fmt.Errorf("check linked transactions: %w", err)
		}
		if linked {
			// One real payment per definition per month; further lines
			// fall through to flat categorization.
			slog.DebugContext(ctx, "Recurring expense already matched this month",
				"recurring_expense_id", exp.ID,
				"month", monthKey)
			continue
		}

		return exp, nil
	}

	return nil, nil
}

func (m *Matcher) matchRules(ctx context.Context, userID int64, text string) (core.MatchResult, error) {
	rules, err := m.rules.ListRules(ctx, userID)
	if err != nil {
		return core.MatchResult{}, fmt.Errorf("list categorization rules: %w", err)
	}
	if text == "" {
		return core.MatchResult{}, nil
	}
	for _, rule := range rules {
		kw := strings.ToLower(strings.TrimSpace(rule.Keyword))
		if kw == "" {
			continue
		}
		if strings.Contains(text, kw) {
			categoryID := rule.CategoryID
			return core.MatchResult{CategoryID: &categoryID}, nil
		}
	}
	return core.MatchResult{}, nil
}

func keywordHit(text string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// normalizeText lowercases, strips everything outside [a-z0-9 whitespace]
// and collapses runs of whitespace. An empty merchant+description
// normalizes to "" and can never match a non-empty keyword.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
