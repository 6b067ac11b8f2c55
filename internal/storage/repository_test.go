package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mensile/internal/core"
	"mensile/internal/schedule"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "mensile.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedExpense(t *testing.T, repo *SQLiteRepository, userID int64, name string) core.RecurringExpense {
	t.Helper()
	exp := core.RecurringExpense{
		UserID:         userID,
		Name:           name,
		Amount:         decimal.RequireFromString("15.99"),
		Currency:       "EUR",
		DayOfMonth:     15,
		IntervalMonths: 1,
		StartDate:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Keywords:       []string{name},
		Active:         true,
	}
	id, err := repo.CreateRecurringExpense(context.Background(), exp)
	if err != nil {
		t.Fatalf("create recurring expense: %v", err)
	}
	exp.ID = id
	return exp
}

func seedAccount(t *testing.T, repo *SQLiteRepository, userID int64) core.Account {
	t.Helper()
	acc, err := repo.GetOrCreateHoldingAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("get or create holding account: %v", err)
	}
	return acc
}

func TestRecurringExpenseRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	end := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	categoryID, err := repo.CreateCategory(ctx, "subscriptions")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	in := core.RecurringExpense{
		UserID:         1,
		Name:           "netflix",
		Amount:         decimal.RequireFromString("15.99"),
		Currency:       "EUR",
		CategoryID:     &categoryID,
		DayOfMonth:     15,
		IntervalMonths: 1,
		StartDate:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		EndDate:        &end,
		Keywords:       []string{"netflix", "nflx"},
		Active:         true,
	}

	id, err := repo.CreateRecurringExpense(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetRecurringExpense(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != in.Name || !got.Amount.Equal(in.Amount) || got.Currency != in.Currency {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.CategoryID == nil || *got.CategoryID != categoryID {
		t.Errorf("category id = %v, want %d", got.CategoryID, categoryID)
	}
	if !got.StartDate.Equal(in.StartDate) {
		t.Errorf("start date = %v, want %v", got.StartDate, in.StartDate)
	}
	if got.EndDate == nil || !got.EndDate.Equal(end) {
		t.Errorf("end date = %v, want %v", got.EndDate, end)
	}
	if len(got.Keywords) != 2 || got.Keywords[0] != "netflix" || got.Keywords[1] != "nflx" {
		t.Errorf("keywords = %v", got.Keywords)
	}
	if got.LastOccurrence != nil {
		t.Errorf("fresh expense has last occurrence %v", got.LastOccurrence)
	}
}

func TestGetRecurringExpenseNotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetRecurringExpense(context.Background(), 1234)
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("err = %v, want core.ErrNotFound", err)
	}
}

func TestCreateRecurringExpenseRejectsInvalid(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.CreateRecurringExpense(context.Background(), core.RecurringExpense{
		UserID: 1,
		Name:   "bad",
		Amount: decimal.RequireFromString("-5"),
	})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("err = %v, want core.ErrInvalidAmount", err)
	}
}

func TestListActiveFiltersAndOrders(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first := seedExpense(t, repo, 1, "netflix")
	second := seedExpense(t, repo, 1, "gym")
	seedExpense(t, repo, 2, "other user")

	inactive := seedExpense(t, repo, 1, "stale")
	if err := repo.DeleteRecurringExpense(ctx, inactive.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := repo.ListActive(ctx, 1)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d expenses, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("order = [%d %d], want creation order [%d %d]", got[0].ID, got[1].ID, first.ID, second.ID)
	}
}

func TestUpdateLastOccurrence(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	exp := seedExpense(t, repo, 1, "netflix")

	on := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)
	if err := repo.UpdateLastOccurrence(ctx, exp.ID, on); err != nil {
		t.Fatalf("update last occurrence: %v", err)
	}

	got, err := repo.GetRecurringExpense(ctx, exp.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastOccurrence == nil || !got.LastOccurrence.Equal(on) {
		t.Errorf("last occurrence = %v, want %v", got.LastOccurrence, on)
	}
}

func TestOverrideUpsertAndLookup(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	exp := seedExpense(t, repo, 1, "gym")

	if _, err := repo.GetOverride(ctx, exp.ID, "2024-06-01"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing override err = %v, want core.ErrNotFound", err)
	}

	amount := decimal.RequireFromString("25.00")
	ov := core.Override{
		RecurringExpenseID: exp.ID,
		Month:              "2024-06-01",
		Amount:             &amount,
		Note:               "summer discount",
	}
	if err := repo.UpsertOverride(ctx, ov); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.GetOverride(ctx, exp.ID, "2024-06-01")
	if err != nil {
		t.Fatalf("get override: %v", err)
	}
	if got.Amount == nil || !got.Amount.Equal(amount) || got.Note != "summer discount" {
		t.Errorf("override = %+v", got)
	}

	// Second upsert replaces, never duplicates.
	ov.Amount = nil
	ov.Skipped = true
	if err := repo.UpsertOverride(ctx, ov); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = repo.GetOverride(ctx, exp.ID, "2024-06-01")
	if err != nil {
		t.Fatalf("get after second upsert: %v", err)
	}
	if !got.Skipped || got.Amount != nil {
		t.Errorf("override after replace = %+v", got)
	}

	byExpense, err := repo.ListOverridesForMonth(ctx, 1, "2024-06-01")
	if err != nil {
		t.Fatalf("list overrides: %v", err)
	}
	if len(byExpense) != 1 || !byExpense[exp.ID].Skipped {
		t.Errorf("overrides for month = %+v", byExpense)
	}
}

func TestInsertTransactionDuplicatePlaceholder(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	exp := seedExpense(t, repo, 1, "netflix")
	acc := seedAccount(t, repo, 1)

	expenseID := exp.ID
	placeholder := core.Transaction{
		UserID:             1,
		AccountID:          acc.ID,
		Amount:             decimal.RequireFromString("15.99"),
		Currency:           "EUR",
		Description:        "netflix",
		RecurringExpenseID: &expenseID,
		Generated:          true,
		PaymentStatus:      core.PaymentPlanned,
		GeneratedMonth:     "2024-03-01",
		Date:               time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}

	if _, err := repo.InsertTransaction(ctx, placeholder); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := repo.InsertTransaction(ctx, placeholder); !errors.Is(err, core.ErrDuplicatePlaceholder) {
		t.Fatalf("second insert err = %v, want core.ErrDuplicatePlaceholder", err)
	}

	// A different month is a different placeholder.
	placeholder.GeneratedMonth = "2024-04-01"
	placeholder.Date = time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	if _, err := repo.InsertTransaction(ctx, placeholder); err != nil {
		t.Fatalf("next month insert: %v", err)
	}

	// Real transactions for the same expense and month are not constrained.
	real := placeholder
	real.Generated = false
	real.GeneratedMonth = ""
	real.PaymentStatus = core.PaymentCompleted
	if _, err := repo.InsertTransaction(ctx, real); err != nil {
		t.Fatalf("real transaction insert: %v", err)
	}
	if _, err := repo.InsertTransaction(ctx, real); err != nil {
		t.Fatalf("second real transaction insert: %v", err)
	}
}

func TestDeletePlannedPlaceholdersLeavesReconciled(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	planned := seedExpense(t, repo, 1, "gym")
	reconciled := seedExpense(t, repo, 1, "rent")
	acc := seedAccount(t, repo, 1)

	plannedID, reconciledID := planned.ID, reconciled.ID
	base := core.Transaction{
		UserID:    1,
		AccountID: acc.ID,
		Amount:    decimal.RequireFromString("30.00"),
		Currency:  "EUR",
		Generated: true,
		Date:      time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	plannedTx := base
	plannedTx.RecurringExpenseID = &plannedID
	plannedTx.PaymentStatus = core.PaymentPlanned
	plannedTx.GeneratedMonth = "2024-06-01"
	if _, err := repo.InsertTransaction(ctx, plannedTx); err != nil {
		t.Fatalf("insert planned: %v", err)
	}

	reconciledTx := base
	reconciledTx.RecurringExpenseID = &reconciledID
	reconciledTx.PaymentStatus = core.PaymentCompleted
	reconciledTx.GeneratedMonth = "2024-06-01"
	if _, err := repo.InsertTransaction(ctx, reconciledTx); err != nil {
		t.Fatalf("insert reconciled: %v", err)
	}

	removed, err := repo.DeletePlannedPlaceholders(ctx, plannedID, "2024-06-01")
	if err != nil {
		t.Fatalf("delete planned: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}

	removed, err = repo.DeletePlannedPlaceholders(ctx, reconciledID, "2024-06-01")
	if err != nil {
		t.Fatalf("delete reconciled: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed %d reconciled rows, want 0", removed)
	}
}

func TestGeneratedExpenseIDs(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	exp := seedExpense(t, repo, 1, "netflix")
	acc := seedAccount(t, repo, 1)

	expenseID := exp.ID
	tx := core.Transaction{
		UserID:             1,
		AccountID:          acc.ID,
		Amount:             decimal.RequireFromString("15.99"),
		Currency:           "EUR",
		RecurringExpenseID: &expenseID,
		Generated:          true,
		PaymentStatus:      core.PaymentPlanned,
		GeneratedMonth:     "2024-03-01",
		Date:               time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	if _, err := repo.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ids, err := repo.GeneratedExpenseIDs(ctx, 1, "2024-03-01")
	if err != nil {
		t.Fatalf("generated expense ids: %v", err)
	}
	if _, ok := ids[exp.ID]; !ok || len(ids) != 1 {
		t.Errorf("ids = %v, want {%d}", ids, exp.ID)
	}

	ids, err = repo.GeneratedExpenseIDs(ctx, 1, "2024-04-01")
	if err != nil {
		t.Fatalf("generated expense ids next month: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("next month ids = %v, want empty", ids)
	}
}

func TestLinkedTransactionExistsIgnoresPlaceholders(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	exp := seedExpense(t, repo, 1, "netflix")
	acc := seedAccount(t, repo, 1)
	from, to := schedule.MonthBounds(2024, time.March)

	expenseID := exp.ID
	placeholder := core.Transaction{
		UserID:             1,
		AccountID:          acc.ID,
		Amount:             decimal.RequireFromString("15.99"),
		Currency:           "EUR",
		RecurringExpenseID: &expenseID,
		Generated:          true,
		PaymentStatus:      core.PaymentPlanned,
		GeneratedMonth:     "2024-03-01",
		Date:               time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	if _, err := repo.InsertTransaction(ctx, placeholder); err != nil {
		t.Fatalf("insert placeholder: %v", err)
	}

	linked, err := repo.LinkedTransactionExists(ctx, exp.ID, from, to)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if linked {
		t.Fatalf("placeholder counted as linked transaction")
	}

	real := placeholder
	real.Generated = false
	real.GeneratedMonth = ""
	real.PaymentStatus = core.PaymentCompleted
	if _, err := repo.InsertTransaction(ctx, real); err != nil {
		t.Fatalf("insert real: %v", err)
	}

	linked, err = repo.LinkedTransactionExists(ctx, exp.ID, from, to)
	if err != nil {
		t.Fatalf("check after real: %v", err)
	}
	if !linked {
		t.Fatalf("real linked transaction not found")
	}

	// Outside the month bounds.
	nextFrom, nextTo := schedule.MonthBounds(2024, time.April)
	linked, err = repo.LinkedTransactionExists(ctx, exp.ID, nextFrom, nextTo)
	if err != nil {
		t.Fatalf("check next month: %v", err)
	}
	if linked {
		t.Fatalf("march payment leaked into april bounds")
	}
}

func TestListTransactionsByMonth(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	acc := seedAccount(t, repo, 1)
	from, to := schedule.MonthBounds(2024, time.March)

	dates := []time.Time{
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, d := range dates {
		if _, err := repo.InsertTransaction(ctx, core.Transaction{
			UserID:    1,
			AccountID: acc.ID,
			Amount:    decimal.RequireFromString("10.00"),
			Currency:  "EUR",
			Date:      d,
		}); err != nil {
			t.Fatalf("insert %s: %v", d, err)
		}
	}

	got, err := repo.ListTransactionsByMonth(ctx, 1, from, to)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d transactions, want the 2 march ones", len(got))
	}
	if !got[0].Date.Before(got[1].Date) {
		t.Errorf("not ordered by date: %v, %v", got[0].Date, got[1].Date)
	}
}

func TestGetOrCreateHoldingAccountIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.GetOrCreateHoldingAccount(ctx, 1)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := repo.GetOrCreateHoldingAccount(ctx, 1)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %d vs %d", first.ID, second.ID)
	}

	other, err := repo.GetOrCreateHoldingAccount(ctx, 2)
	if err != nil {
		t.Fatalf("other user: %v", err)
	}
	if other.ID == first.ID {
		t.Errorf("users share a holding account")
	}
}

func TestListRulesSystemFirstThenUser(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	categoryID, err := repo.CreateCategory(ctx, "groceries")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}

	userID := int64(1)
	if _, err := repo.CreateRule(ctx, core.Rule{UserID: &userID, Keyword: "lidl", CategoryID: categoryID}); err != nil {
		t.Fatalf("create user rule: %v", err)
	}
	if _, err := repo.CreateRule(ctx, core.Rule{Keyword: "aldi", CategoryID: categoryID}); err != nil {
		t.Fatalf("create system rule: %v", err)
	}

	otherUser := int64(2)
	if _, err := repo.CreateRule(ctx, core.Rule{UserID: &otherUser, Keyword: "spar", CategoryID: categoryID}); err != nil {
		t.Fatalf("create other user rule: %v", err)
	}

	rules, err := repo.ListRules(ctx, 1)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].UserID != nil || rules[0].Keyword != "aldi" {
		t.Errorf("first rule = %+v, want the system one", rules[0])
	}
	if rules[1].UserID == nil || *rules[1].UserID != userID || rules[1].Keyword != "lidl" {
		t.Errorf("second rule = %+v, want the user one", rules[1])
	}
}

func TestListUserIDs(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedExpense(t, repo, 2, "a")
	seedExpense(t, repo, 1, "b")
	seedExpense(t, repo, 1, "c")

	ids, err := repo.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("list user ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("ids = %v, want [1 2]", ids)
	}
}
