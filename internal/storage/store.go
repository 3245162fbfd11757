// Package storage provides abstractions for persistent ledger storage.
package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a record with the same identity exists,
	// including a second PENDING settlement for the same key.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when a compare-and-swap write finds a different version.
	ErrConflict = errors.New("version conflict")
)

// ExpenseStore persists expenses with their embedded splits.
type ExpenseStore interface {
	// CreateExpense persists a new expense with Version 1. The ID must be set by the caller.
	CreateExpense(ctx context.Context, expense *models.Expense) error

	// GetExpense returns ErrNotFound if the expense does not exist.
	GetExpense(ctx context.Context, expenseID string) (*models.Expense, error)

	// UpdateExpense replaces the stored expense, including its splits, if the stored
	// version equals expense.Version and bumps expense.Version. It returns ErrConflict otherwise.
	UpdateExpense(ctx context.Context, expense *models.Expense) error

	DeleteExpense(ctx context.Context, expenseID string) error

	// ListExpenses returns the expenses of a group, or of every group when groupID
	// is empty, most recent first.
	ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error)
}

// GroupStore persists groups and owns the TotalExpenses counter.
type GroupStore interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// ListGroups returns the groups with the given ids, or all groups when none are given.
	// Unknown ids are ignored.
	ListGroups(ctx context.Context, groupIDs ...string) ([]*models.Group, error)

	// UpdateGroup writes the group's name, description and category. Members and
	// TotalExpenses are left as stored.
	UpdateGroup(ctx context.Context, group *models.Group) error

	// AdjustGroupTotal atomically adds delta to the group's TotalExpenses and
	// returns the new total.
	AdjustGroupTotal(ctx context.Context, groupID string, delta decimal.Decimal) (decimal.Decimal, error)
}

// SettlementStore persists settlements. Writes are compare-and-swap on Version.
type SettlementStore interface {
	// CreateSettlement persists a new settlement with Version 1. It returns
	// ErrAlreadyExists when a PENDING settlement already exists for the same key.
	CreateSettlement(ctx context.Context, settlement *models.Settlement) error

	GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error)

	// FindPendingSettlement returns the single PENDING settlement for key,
	// or ErrNotFound.
	FindPendingSettlement(ctx context.Context, key models.SettlementKey) (*models.Settlement, error)

	// UpdateSettlement writes the settlement if the stored version equals
	// settlement.Version and bumps settlement.Version. It returns ErrConflict otherwise.
	UpdateSettlement(ctx context.Context, settlement *models.Settlement) error

	// DeleteSettlement removes the settlement if its stored version equals version.
	DeleteSettlement(ctx context.Context, settlementID string, version int64) error

	// ListSettlements returns matching settlements, most recent first.
	ListSettlements(ctx context.Context, filter SettlementFilter) ([]*models.Settlement, error)
}

// JournalStore persists the per-expense contributions behind settlements.
type JournalStore interface {
	// AppendJournalLine returns ErrAlreadyExists if a line with the same ID exists.
	AppendJournalLine(ctx context.Context, line *models.JournalLine) error

	GetJournalLine(ctx context.Context, lineID string) (*models.JournalLine, error)

	DeleteJournalLine(ctx context.Context, lineID string) error

	// ListJournalLines returns matching lines, oldest first.
	ListJournalLines(ctx context.Context, filter JournalFilter) ([]*models.JournalLine, error)

	// SettleJournalLines marks every unsettled line feeding settlementID as settled
	// and returns how many lines changed.
	SettleJournalLines(ctx context.Context, settlementID string) (int, error)
}

// Store is the complete ledger storage backend.
// This abstraction allows swapping storage backends (memory, SQLite, MongoDB)
// without changing the ledger or service layer.
type Store interface {
	ExpenseStore
	GroupStore
	SettlementStore
	JournalStore

	// Close releases any resources held by the store.
	Close() error
}

// SettlementFilter narrows settlement listings. Empty fields match everything.
// UserID matches settlements where the user is either debtor or creditor.
type SettlementFilter struct {
	GroupID string
	UserID  string
	Status  models.SettlementStatus
}

// Matches reports whether s satisfies the filter.
func (f SettlementFilter) Matches(s *models.Settlement) bool {
	if f.GroupID != "" && s.GroupID != f.GroupID {
		return false
	}
	if f.UserID != "" && s.FromUserID != f.UserID && s.ToUserID != f.UserID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}

// JournalFilter narrows journal listings. Empty fields match everything.
type JournalFilter struct {
	ExpenseID     string
	GroupID       string
	SettlementID  string
	UnsettledOnly bool
}

// Matches reports whether l satisfies the filter.
func (f JournalFilter) Matches(l *models.JournalLine) bool {
	if f.ExpenseID != "" && l.ExpenseID != f.ExpenseID {
		return false
	}
	if f.GroupID != "" && l.GroupID != f.GroupID {
		return false
	}
	if f.SettlementID != "" && l.SettlementID != f.SettlementID {
		return false
	}
	if f.UnsettledOnly && l.Settled {
		return false
	}
	return true
}
