package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"mensile/internal/core"
	"mensile/internal/services"
)

const dateFormat = "2006-01-02"

// SQLiteRepository is the persistent store behind all service ports.
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure port conformance.
var (
	_ services.RecurringExpenseStore = (*SQLiteRepository)(nil)
	_ services.OverrideStore         = (*SQLiteRepository)(nil)
	_ services.TransactionStore      = (*SQLiteRepository)(nil)
	_ services.AccountStore          = (*SQLiteRepository)(nil)
	_ services.RuleStore             = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ListUserIDs returns every user owning at least one active recurring
// expense; the worker materializes per user.
func (r *SQLiteRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM recurring_expenses WHERE active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- recurring expenses ---

const recurringExpenseColumns = `id, user_id, name, amount, currency, category_id, day_of_month,
	interval_months, start_date, end_date, keywords, active, last_occurrence_date`

func (r *SQLiteRepository) ListActive(ctx context.Context, userID int64) ([]core.RecurringExpense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recurringExpenseColumns+`
		 FROM recurring_expenses
		 WHERE user_id = ? AND active = 1
		 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active recurring expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.RecurringExpense
	for rows.Next() {
		exp, err := scanRecurringExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, exp)
	}
	return expenses, rows.Err()
}

func (r *SQLiteRepository) GetRecurringExpense(ctx context.Context, id int64) (core.RecurringExpense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recurringExpenseColumns+` FROM recurring_expenses WHERE id = ?`, id)
	exp, err := scanRecurringExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringExpense{}, core.ErrNotFound
	}
	return exp, err
}

func (r *SQLiteRepository) CreateRecurringExpense(ctx context.Context, exp core.RecurringExpense) (int64, error) {
	if err := exp.Validate(); err != nil {
		return 0, err
	}

	keywords, err := json.Marshal(exp.Keywords)
	if err != nil {
		return 0, fmt.Errorf("marshal keywords: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO recurring_expenses
		 (user_id, name, amount, currency, category_id, day_of_month, interval_months,
		  start_date, end_date, keywords, active, last_occurrence_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.UserID, exp.Name, exp.Amount.String(), exp.Currency, nullInt64(exp.CategoryID),
		exp.DayOfMonth, exp.IntervalMonths, exp.StartDate.Format(dateFormat),
		nullDate(exp.EndDate), string(keywords), exp.Active, nullDate(exp.LastOccurrence))
	if err != nil {
		return 0, fmt.Errorf("insert recurring expense: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	slog.InfoContext(ctx, "Recurring expense saved",
		"id", id,
		"name", exp.Name,
		"interval_months", exp.IntervalMonths)
	return id, nil
}

// DeleteRecurringExpense removes a definition; linked transactions keep
// their rows and get their recurring reference nulled by the schema.
func (r *SQLiteRepository) DeleteRecurringExpense(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM recurring_expenses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete recurring expense: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateLastOccurrence(ctx context.Context, id int64, on time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recurring_expenses
		 SET last_occurrence_date = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		on.Format(dateFormat), id)
	if err != nil {
		return fmt.Errorf("update last occurrence: %w", err)
	}
	return nil
}

// --- overrides ---

func (r *SQLiteRepository) GetOverride(ctx context.Context, expenseID int64, monthKey string) (*core.Override, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, recurring_expense_id, override_month, override_amount,
		        is_skipped, is_manually_confirmed, note
		 FROM recurring_overrides
		 WHERE recurring_expense_id = ? AND override_month = ?`,
		expenseID, monthKey)

	ov, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ov, nil
}

func (r *SQLiteRepository) ListOverridesForMonth(ctx context.Context, userID int64, monthKey string) (map[int64]core.Override, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT o.id, o.recurring_expense_id, o.override_month, o.override_amount,
		        o.is_skipped, o.is_manually_confirmed, o.note
		 FROM recurring_overrides o
		 JOIN recurring_expenses e ON e.id = o.recurring_expense_id
		 WHERE e.user_id = ? AND o.override_month = ?`,
		userID, monthKey)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[int64]core.Override)
	for rows.Next() {
		ov, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides[ov.RecurringExpenseID] = ov
	}
	return overrides, rows.Err()
}

// UpsertOverride creates or replaces the single override for one (expense,
// month).
func (r *SQLiteRepository) UpsertOverride(ctx context.Context, ov core.Override) error {
	if err := ov.Validate(); err != nil {
		return err
	}

	var amount any
	if ov.Amount != nil {
		amount = ov.Amount.String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recurring_overrides
		 (recurring_expense_id, override_month, override_amount, is_skipped, is_manually_confirmed, note)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (recurring_expense_id, override_month) DO UPDATE SET
		   override_amount = excluded.override_amount,
		   is_skipped = excluded.is_skipped,
		   is_manually_confirmed = excluded.is_manually_confirmed,
		   note = excluded.note,
		   updated_at = datetime('now')`,
		ov.RecurringExpenseID, ov.Month, amount, ov.Skipped, ov.ManuallyConfirmed, ov.Note)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

// --- transactions ---

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions
		 (user_id, account_id, external_id, amount, currency, description, merchant,
		  category_id, recurring_expense_id, is_recurring_generated, payment_status,
		  generated_month, excluded, transaction_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.UserID, tx.AccountID, nullString(tx.ExternalID), tx.Amount.String(), tx.Currency,
		tx.Description, emptyNull(tx.Merchant), nullInt64(tx.CategoryID),
		nullInt64(tx.RecurringExpenseID), tx.Generated, emptyNull(string(tx.PaymentStatus)),
		emptyNull(tx.GeneratedMonth), tx.Excluded, tx.Date.Format(dateFormat))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, core.ErrDuplicatePlaceholder
		}
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) DeletePlannedPlaceholders(ctx context.Context, expenseID int64, monthKey string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions
		 WHERE recurring_expense_id = ?
		   AND generated_month = ?
		   AND is_recurring_generated = 1
		   AND payment_status = ?`,
		expenseID, monthKey, string(core.PaymentPlanned))
	if err != nil {
		return 0, fmt.Errorf("delete planned placeholders: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) GeneratedExpenseIDs(ctx context.Context, userID int64, monthKey string) (map[int64]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT recurring_expense_id
		 FROM transactions
		 WHERE user_id = ?
		   AND generated_month = ?
		   AND is_recurring_generated = 1
		   AND recurring_expense_id IS NOT NULL`,
		userID, monthKey)
	if err != nil {
		return nil, fmt.Errorf("list generated expense ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan generated expense id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) LinkedTransactionExists(ctx context.Context, expenseID int64, from, to time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM transactions
		   WHERE recurring_expense_id = ?
		     AND is_recurring_generated = 0
		     AND transaction_date >= ? AND transaction_date < ?)`,
		expenseID, from.Format(dateFormat), to.Format(dateFormat)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check linked transaction: %w", err)
	}
	return exists, nil
}

func (r *SQLiteRepository) ListTransactionsByMonth(ctx context.Context, userID int64, from, to time.Time) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, account_id, external_id, amount, currency, description,
		        merchant, category_id, recurring_expense_id, is_recurring_generated,
		        payment_status, generated_month, excluded, transaction_date
		 FROM transactions
		 WHERE user_id = ? AND transaction_date >= ? AND transaction_date < ?
		 ORDER BY transaction_date, id`,
		userID, from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// --- accounts ---

func (r *SQLiteRepository) GetOrCreateHoldingAccount(ctx context.Context, userID int64) (core.Account, error) {
	account, err := r.getAccountByExternalID(ctx, userID, services.HoldingAccountExternalID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Account{}, err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, name, external_id) VALUES (?, ?, ?)`,
		userID, "Generated transactions", services.HoldingAccountExternalID)
	if err != nil && !isUniqueViolation(err) {
		return core.Account{}, fmt.Errorf("create holding account: %w", err)
	}

	// On a unique violation a concurrent call created it; reread either way.
	return r.getAccountByExternalID(ctx, userID, services.HoldingAccountExternalID)
}

func (r *SQLiteRepository) getAccountByExternalID(ctx context.Context, userID int64, externalID string) (core.Account, error) {
	var acc core.Account
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, external_id FROM accounts WHERE user_id = ? AND external_id = ?`,
		userID, externalID).Scan(&acc.ID, &acc.UserID, &acc.Name, &acc.ExternalID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// --- categorization rules ---

func (r *SQLiteRepository) ListRules(ctx context.Context, userID int64) ([]core.Rule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, keyword, category_id
		 FROM categorization_rules
		 WHERE user_id IS NULL OR user_id = ?
		 ORDER BY user_id IS NOT NULL, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list categorization rules: %w", err)
	}
	defer rows.Close()

	var rules []core.Rule
	for rows.Next() {
		var rule core.Rule
		var ruleUser sql.NullInt64
		if err := rows.Scan(&rule.ID, &ruleUser, &rule.Keyword, &rule.CategoryID); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if ruleUser.Valid {
			rule.UserID = &ruleUser.Int64
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.Rule) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categorization_rules (user_id, keyword, category_id) VALUES (?, ?, ?)`,
		nullInt64(rule.UserID), rule.Keyword, rule.CategoryID)
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("insert category: %w", err)
	}
	return res.LastInsertId()
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecurringExpense(row rowScanner) (core.RecurringExpense, error) {
	var (
		exp        core.RecurringExpense
		amount     string
		categoryID sql.NullInt64
		startDate  string
		endDate    sql.NullString
		keywords   string
		lastSeen   sql.NullString
	)
	err := row.Scan(&exp.ID, &exp.UserID, &exp.Name, &amount, &exp.Currency, &categoryID,
		&exp.DayOfMonth, &exp.IntervalMonths, &startDate, &endDate, &keywords,
		&exp.Active, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return exp, err
		}
		return exp, fmt.Errorf("scan recurring expense: %w", err)
	}

	if exp.Amount, err = decimal.NewFromString(amount); err != nil {
		return exp, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if categoryID.Valid {
		exp.CategoryID = &categoryID.Int64
	}
	if exp.StartDate, err = time.Parse(dateFormat, startDate); err != nil {
		return exp, fmt.Errorf("parse start date %q: %w", startDate, err)
	}
	if exp.EndDate, err = parseNullDate(endDate); err != nil {
		return exp, err
	}
	if exp.LastOccurrence, err = parseNullDate(lastSeen); err != nil {
		return exp, err
	}
	if err := json.Unmarshal([]byte(keywords), &exp.Keywords); err != nil {
		return exp, fmt.Errorf("parse keywords %q: %w", keywords, err)
	}
	return exp, nil
}

func scanOverride(row rowScanner) (core.Override, error) {
	var (
		ov     core.Override
		amount sql.NullString
	)
	err := row.Scan(&ov.ID, &ov.RecurringExpenseID, &ov.Month, &amount,
		&ov.Skipped, &ov.ManuallyConfirmed, &ov.Note)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ov, err
		}
		return ov, fmt.Errorf("scan override: %w", err)
	}
	if amount.Valid {
		dec, err := decimal.NewFromString(amount.String)
		if err != nil {
			return ov, fmt.Errorf("parse override amount %q: %w", amount.String, err)
		}
		ov.Amount = &dec
	}
	return ov, nil
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx             core.Transaction
		externalID     sql.NullString
		amount         string
		merchant       sql.NullString
		categoryID     sql.NullInt64
		recurringID    sql.NullInt64
		paymentStatus  sql.NullString
		generatedMonth sql.NullString
		date           string
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.AccountID, &externalID, &amount, &tx.Currency,
		&tx.Description, &merchant, &categoryID, &recurringID, &tx.Generated,
		&paymentStatus, &generatedMonth, &tx.Excluded, &date)
	if err != nil {
		return tx, fmt.Errorf("scan transaction: %w", err)
	}

	if externalID.Valid {
		tx.ExternalID = &externalID.String
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	tx.Merchant = merchant.String
	if categoryID.Valid {
		tx.CategoryID = &categoryID.Int64
	}
	if recurringID.Valid {
		tx.RecurringExpenseID = &recurringID.Int64
	}
	tx.PaymentStatus = core.PaymentStatus(paymentStatus.String)
	tx.GeneratedMonth = generatedMonth.String
	if tx.Date, err = time.Parse(dateFormat, date); err != nil {
		return tx, fmt.Errorf("parse transaction date %q: %w", date, err)
	}
	return tx, nil
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dateFormat, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s.String, err)
	}
	return &t, nil
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateFormat)
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func emptyNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
