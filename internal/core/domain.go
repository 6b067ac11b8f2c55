package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payment status of a transaction. The empty string means "not applicable"
// (plain ledger entries that are neither planned nor reconciled).
const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentPlanned   PaymentStatus = "planned"
	PaymentSkipped   PaymentStatus = "skipped"
)

type (
	PaymentStatus string

	// RecurringExpense is a user-defined obligation recurring every
	// IntervalMonths months from StartDate. LastOccurrence is set only by
	// the reconciliation path when a real transaction is linked.
	RecurringExpense struct {
		ID             int64
		UserID         int64
		Name           string
		Amount         decimal.Decimal
		Currency       string
		CategoryID     *int64
		DayOfMonth     int // expected day within the month, clamped to month length
		IntervalMonths int
		StartDate      time.Time
		EndDate        *time.Time
		Keywords       []string
		Active         bool
		LastOccurrence *time.Time
	}

	// Override is a per-(expense, calendar month) exception. Month is the
	// first-of-month key in YYYY-MM-01 form; at most one override exists
	// per (expense, month).
	Override struct {
		ID                 int64
		RecurringExpenseID int64
		Month              string
		Amount             *decimal.Decimal
		Skipped            bool
		ManuallyConfirmed  bool
		Note               string
	}

	// Transaction is a ledger entry. Amounts are stored positive.
	// Generated placeholders carry a nil ExternalID, Generated=true and a
	// GeneratedMonth tag used solely for the uniqueness constraint.
	Transaction struct {
		ID                 int64
		UserID             int64
		AccountID          int64
		ExternalID         *string
		Amount             decimal.Decimal
		Currency           string
		Description        string
		Merchant           string
		CategoryID         *int64
		RecurringExpenseID *int64
		Generated          bool
		PaymentStatus      PaymentStatus
		GeneratedMonth     string
		Excluded           bool
		Date               time.Time
		CreatedAt          time.Time
		UpdatedAt          time.Time
	}

	// Account groups transactions. The materializer keeps its placeholders
	// in a per-user holding account identified by a fixed external id.
	Account struct {
		ID         int64
		UserID     int64
		Name       string
		ExternalID string
	}

	// Rule is a flat keyword categorization rule. A nil UserID marks a
	// system-wide rule.
	Rule struct {
		ID         int64
		UserID     *int64
		Keyword    string
		CategoryID int64
	}

	// MatchResult is the outcome of reconciling one imported line. Both
	// fields may be nil when neither a recurring definition nor a flat
	// rule matched.
	MatchResult struct {
		RecurringExpenseID *int64
		CategoryID         *int64
	}
)

var (
	ErrEmptyName       = errors.New("empty name")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidDay      = errors.New("invalid day of month")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidStart    = errors.New("invalid start date")

	// ErrDuplicatePlaceholder reports that a placeholder for the same
	// (recurring expense, month) already exists. Expected under concurrent
	// materialization and always treated as a benign no-op.
	ErrDuplicatePlaceholder = errors.New("placeholder already exists for month")

	// ErrNotFound is the storage-agnostic missing-row sentinel.
	ErrNotFound = errors.New("not found")
)

func (re RecurringExpense) Validate() error {
	if strings.TrimSpace(re.Name) == "" {
		return ErrEmptyName
	}
	if len(re.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if re.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if re.DayOfMonth < 1 || re.DayOfMonth > 31 {
		return ErrInvalidDay
	}
	if re.IntervalMonths < 1 {
		return ErrInvalidInterval
	}
	if re.StartDate.IsZero() {
		return ErrInvalidStart
	}
	if re.EndDate != nil && re.EndDate.Before(re.StartDate) {
		return errors.New("end date must not precede start date")
	}
	return nil
}

func (o Override) Validate() error {
	if o.RecurringExpenseID <= 0 {
		return errors.New("missing recurring expense id")
	}
	if o.Month == "" {
		return errors.New("missing override month")
	}
	if o.Amount != nil && o.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if t.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if t.Date.IsZero() {
		return errors.New("missing transaction date")
	}
	return nil
}

// IsPlaceholder reports whether the transaction is a generated placeholder
// still awaiting reconciliation.
func (t Transaction) IsPlaceholder() bool {
	return t.Generated && t.PaymentStatus == PaymentPlanned
}

// MatchText is the raw text a recurring keyword or flat rule is matched
// against: merchant and description concatenated.
func (t Transaction) MatchText() string {
	return strings.TrimSpace(t.Merchant + " " + t.Description)
}
