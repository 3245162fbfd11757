package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus is the lifecycle state of a settlement.
type SettlementStatus string

const (
	StatusPending   SettlementStatus = "PENDING"
	StatusCompleted SettlementStatus = "COMPLETED"
)

// DefaultPaymentMethod is recorded on settlements created by the reconciler.
const DefaultPaymentMethod = "UPI"

// SettlementKey identifies the direction of a debt inside a group.
// At most one PENDING settlement exists per key.
type SettlementKey struct {
	GroupID string
	From    string
	To      string
}

// Settlement is a directed debt: From owes To the Amount inside GroupID.
type Settlement struct {
	// ID is the unique identifier for the settlement ("stl_" prefix).
	ID string `json:"id"`

	// GroupID is the group this debt belongs to.
	GroupID string `json:"group_id"`

	// FromUserID is the debtor.
	FromUserID string `json:"from"`

	// ToUserID is the creditor.
	ToUserID string `json:"to"`

	// Amount stays positive while the settlement is pending.
	Amount decimal.Decimal `json:"amount"`

	PaymentMethod string           `json:"payment_method"`
	Status        SettlementStatus `json:"status"`
	Notes         string           `json:"notes,omitempty"`

	// Proof is an optional reference to a payment attachment.
	Proof string `json:"proof,omitempty"`

	Active bool `json:"active"`

	// Version is bumped on every write and used for compare-and-swap updates.
	Version int64 `json:"version"`

	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the direction key of the settlement.
func (s *Settlement) Key() SettlementKey {
	return SettlementKey{GroupID: s.GroupID, From: s.FromUserID, To: s.ToUserID}
}

// IsPending reports whether the debt is still outstanding.
func (s *Settlement) IsPending() bool {
	return s.Status != StatusCompleted
}

// Clone returns a copy of the settlement.
func (s *Settlement) Clone() *Settlement {
	c := *s
	return &c
}
