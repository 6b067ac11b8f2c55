package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mensile/internal/core"
)

// fakeStore is an in-memory implementation of all five ports, with the
// placeholder uniqueness constraint enforced the way the schema does it.
type fakeStore struct {
	mu sync.Mutex

	expenses     []core.RecurringExpense
	overrides    map[string]core.Override // expenseID|monthKey
	transactions []core.Transaction
	rules        []core.Rule
	accounts     map[int64]core.Account

	nextID int64

	overrideReads int
	failAccount   bool

	// staleGeneratedReads simulates concurrent materialization: while
	// positive, GeneratedExpenseIDs reports an empty set even though
	// placeholders were written, the way two parallel calls both read
	// before either inserts.
	staleGeneratedReads int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		overrides: make(map[string]core.Override),
		accounts:  make(map[int64]core.Account),
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) addExpense(exp core.RecurringExpense) core.RecurringExpense {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp.ID = s.id()
	s.expenses = append(s.expenses, exp)
	return exp
}

func (s *fakeStore) setOverride(ov core.Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ov.ID = s.id()
	s.overrides[overrideKey(ov.RecurringExpenseID, ov.Month)] = ov
}

func (s *fakeStore) addRule(rule core.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.ID = s.id()
	s.rules = append(s.rules, rule)
}

func overrideKey(expenseID int64, monthKey string) string {
	return fmt.Sprintf("%d|%s", expenseID, monthKey)
}

// --- RecurringExpenseStore ---

func (s *fakeStore) ListActive(_ context.Context, userID int64) ([]core.RecurringExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurringExpense
	for _, exp := range s.expenses {
		if exp.UserID == userID && exp.Active {
			out = append(out, exp)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateLastOccurrence(_ context.Context, id int64, on time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.expenses {
		if s.expenses[i].ID == id {
			occurred := on
			s.expenses[i].LastOccurrence = &occurred
			return nil
		}
	}
	return core.ErrNotFound
}

// --- OverrideStore ---

func (s *fakeStore) GetOverride(_ context.Context, expenseID int64, monthKey string) (*core.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrideReads++
	ov, ok := s.overrides[overrideKey(expenseID, monthKey)]
	if !ok {
		return nil, core.ErrNotFound
	}
	ovCopy := ov
	return &ovCopy, nil
}

func (s *fakeStore) ListOverridesForMonth(_ context.Context, userID int64, monthKey string) (map[int64]core.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := make(map[int64]bool)
	for _, exp := range s.expenses {
		if exp.UserID == userID {
			owned[exp.ID] = true
		}
	}
	out := make(map[int64]core.Override)
	for _, ov := range s.overrides {
		if ov.Month == monthKey && owned[ov.RecurringExpenseID] {
			out[ov.RecurringExpenseID] = ov
		}
	}
	return out, nil
}

// --- TransactionStore ---

func (s *fakeStore) InsertTransaction(_ context.Context, tx core.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.Generated && tx.RecurringExpenseID != nil {
		for _, existing := range s.transactions {
			if existing.Generated && existing.RecurringExpenseID != nil &&
				*existing.RecurringExpenseID == *tx.RecurringExpenseID &&
				existing.GeneratedMonth == tx.GeneratedMonth {
				return 0, core.ErrDuplicatePlaceholder
			}
		}
	}
	tx.ID = s.id()
	s.transactions = append(s.transactions, tx)
	return tx.ID, nil
}

func (s *fakeStore) DeletePlannedPlaceholders(_ context.Context, expenseID int64, monthKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []core.Transaction
	var removed int64
	for _, tx := range s.transactions {
		if tx.Generated && tx.PaymentStatus == core.PaymentPlanned &&
			tx.RecurringExpenseID != nil && *tx.RecurringExpenseID == expenseID &&
			tx.GeneratedMonth == monthKey {
			removed++
			continue
		}
		kept = append(kept, tx)
	}
	s.transactions = kept
	return removed, nil
}

func (s *fakeStore) GeneratedExpenseIDs(_ context.Context, userID int64, monthKey string) (map[int64]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[int64]struct{})
	if s.staleGeneratedReads > 0 {
		s.staleGeneratedReads--
		return ids, nil
	}
	for _, tx := range s.transactions {
		if tx.UserID == userID && tx.Generated && tx.GeneratedMonth == monthKey && tx.RecurringExpenseID != nil {
			ids[*tx.RecurringExpenseID] = struct{}{}
		}
	}
	return ids, nil
}

func (s *fakeStore) LinkedTransactionExists(_ context.Context, expenseID int64, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.transactions {
		if !tx.Generated && tx.RecurringExpenseID != nil && *tx.RecurringExpenseID == expenseID &&
			!tx.Date.Before(from) && tx.Date.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) ListTransactionsByMonth(_ context.Context, userID int64, from, to time.Time) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.transactions {
		if tx.UserID == userID && !tx.Date.Before(from) && tx.Date.Before(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// --- AccountStore ---

func (s *fakeStore) GetOrCreateHoldingAccount(_ context.Context, userID int64) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAccount {
		return core.Account{}, errors.New("account store unavailable")
	}
	if acc, ok := s.accounts[userID]; ok {
		return acc, nil
	}
	acc := core.Account{
		ID:         s.id(),
		UserID:     userID,
		Name:       "Generated transactions",
		ExternalID: HoldingAccountExternalID,
	}
	s.accounts[userID] = acc
	return acc, nil
}

// --- RuleStore ---

func (s *fakeStore) ListRules(_ context.Context, userID int64) ([]core.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Rule
	for _, rule := range s.rules {
		if rule.UserID == nil {
			out = append(out, rule)
		}
	}
	for _, rule := range s.rules {
		if rule.UserID != nil && *rule.UserID == userID {
			out = append(out, rule)
		}
	}
	return out, nil
}

// placeholdersFor returns the generated placeholders for one expense and
// month, for assertions.
func (s *fakeStore) placeholdersFor(expenseID int64, monthKey string) []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.transactions {
		if tx.Generated && tx.RecurringExpenseID != nil && *tx.RecurringExpenseID == expenseID &&
			tx.GeneratedMonth == monthKey {
			out = append(out, tx)
		}
	}
	return out
}
