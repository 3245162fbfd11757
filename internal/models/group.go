package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Member roles inside a group.
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// Group owns expenses and the debts derived from them.
// Membership is managed by the group service; the ledger only reads names
// for display and writes TotalExpenses.
type Group struct {
	// ID is the unique identifier for the group ("grp_" prefix).
	ID string `json:"id"`

	// Name is the display name of the group (e.g., "Goa Trip", "Flat 4B").
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// Category is a tag such as TRIP, HOME or OFFICE. Defaults to OTHER.
	Category string `json:"category"`

	// CreatedBy is the member who created the group.
	CreatedBy string `json:"created_by"`

	Members []Member `json:"members"`

	Active bool `json:"active"`

	// TotalExpenses is a running sum of expense amounts in the group.
	// Only the ledger's group-total adjustment writes it.
	TotalExpenses decimal.Decimal `json:"total_expenses"`

	CreatedAt time.Time `json:"created_at"`
}

// Member is a user's membership in a group.
type Member struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID holds the ADMIN role in the group.
func (g *Group) IsAdmin(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m.Role == RoleAdmin
		}
	}
	return false
}
