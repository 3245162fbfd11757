package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCategory is used when an expense is created without a category.
const DefaultCategory = "OTHER"

// ErrInvalidExpense is wrapped by every expense validation failure.
var ErrInvalidExpense = errors.New("invalid expense")

// Expense is an amount paid by one group member and shared among several members.
type Expense struct {
	// ID is the unique identifier for the expense ("exp_" prefix).
	ID string `json:"id"`

	// Title is the human-readable name, never empty.
	Title string `json:"title"`

	// Description is an optional longer text.
	Description string `json:"description,omitempty"`

	// Amount is the total paid. Always positive.
	Amount decimal.Decimal `json:"amount"`

	// Category is an enum-like tag (FOOD, TRAVEL, ...). Defaults to OTHER.
	Category string `json:"category"`

	// GroupID is the group owning this expense.
	GroupID string `json:"group_id"`

	// PaidBy is the member who paid.
	PaidBy string `json:"paid_by"`

	// Date is when the expense occurred.
	Date time.Time `json:"date"`

	// Splits lists who owes what. The sum should equal Amount.
	Splits []Split `json:"splits"`

	// Notes is optional free text.
	Notes string `json:"notes,omitempty"`

	// Version starts at 1 and is bumped by every stored update.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields required for an expense to enter the ledger.
func (e *Expense) Validate() error {
	switch {
	case strings.TrimSpace(e.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidExpense)
	case !e.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidExpense)
	case e.GroupID == "":
		return fmt.Errorf("%w: group is required", ErrInvalidExpense)
	case e.PaidBy == "":
		return fmt.Errorf("%w: paid_by is required", ErrInvalidExpense)
	case len(e.Splits) == 0:
		return fmt.Errorf("%w: at least one split is required", ErrInvalidExpense)
	}
	for _, s := range e.Splits {
		if s.UserID == "" {
			return fmt.Errorf("%w: split without member", ErrInvalidExpense)
		}
		if s.Amount.IsNegative() {
			return fmt.Errorf("%w: split amount for %s is negative", ErrInvalidExpense, s.UserID)
		}
	}
	return nil
}

// Clone returns a deep copy of the expense.
func (e *Expense) Clone() *Expense {
	c := *e
	c.Splits = slices.Clone(e.Splits)
	return &c
}

// AffectsLedger reports whether moving from e to other changes any debt
// derived from the expense.
func (e *Expense) AffectsLedger(other *Expense) bool {
	if e.GroupID != other.GroupID || e.PaidBy != other.PaidBy || !e.Amount.Equal(other.Amount) {
		return true
	}
	if len(e.Splits) != len(other.Splits) {
		return true
	}
	for i := range e.Splits {
		if e.Splits[i].UserID != other.Splits[i].UserID || !e.Splits[i].Amount.Equal(other.Splits[i].Amount) {
			return true
		}
	}
	return false
}

// UpdateExpense enumerates the mutable fields of an expense.
// Nil fields are left unchanged. Group membership of an expense cannot change.
type UpdateExpense struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Category    *string          `json:"category,omitempty"`
	PaidBy      *string          `json:"paid_by,omitempty"`
	Date        *time.Time       `json:"date,omitempty"`
	Notes       *string          `json:"notes,omitempty"`
	Splits      []Split          `json:"splits,omitempty"`
}

// Apply returns a validated copy of e with the command's fields applied.
func (u UpdateExpense) Apply(e *Expense) (*Expense, error) {
	next := e.Clone()
	if u.Title != nil {
		next.Title = *u.Title
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.Amount != nil {
		next.Amount = *u.Amount
	}
	if u.Category != nil {
		next.Category = *u.Category
	}
	if u.PaidBy != nil {
		next.PaidBy = *u.PaidBy
	}
	if u.Date != nil {
		next.Date = *u.Date
	}
	if u.Notes != nil {
		next.Notes = *u.Notes
	}
	if u.Splits != nil {
		next.Splits = slices.Clone(u.Splits)
	}
	if next.Category == "" {
		next.Category = DefaultCategory
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}
