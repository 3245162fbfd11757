package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JournalLine records that one expense contributed Amount to the debt From owes To.
// There is at most one line per (ExpenseID, From, To). Lines are appended when an
// expense is applied and removed when it is reversed, so a pending settlement's
// amount equals the sum of the lines feeding it.
type JournalLine struct {
	// ID is a fingerprint of (ExpenseID, From, To).
	ID string `json:"id"`

	ExpenseID string          `json:"expense_id"`
	GroupID   string          `json:"group_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`

	// SettlementID is the settlement this line was merged into.
	SettlementID string `json:"settlement_id"`

	// Settled is set once that settlement was marked COMPLETED.
	Settled bool `json:"settled"`

	CreatedAt time.Time `json:"created_at"`
}

// Key returns the settlement key the line contributes to.
func (l *JournalLine) Key() SettlementKey {
	return SettlementKey{GroupID: l.GroupID, From: l.From, To: l.To}
}
