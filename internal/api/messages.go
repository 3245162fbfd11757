package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
)

// CreateExpenseRequest carries either explicit Splits or a Strategy with Shares
// for the split calculator.
type CreateExpenseRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category,omitempty"`
	GroupID     string          `json:"group_id"`
	PaidBy      string          `json:"paid_by"`
	// Date defaults to now.
	Date  *time.Time `json:"date,omitempty"`
	Notes string     `json:"notes,omitempty"`

	Splits   []models.Split     `json:"splits,omitempty"`
	Strategy string             `json:"strategy,omitempty"`
	Shares   []calculator.Share `json:"shares,omitempty"`
}

type CreateExpenseResponse struct {
	Expense *models.Expense    `json:"expense"`
	Ledger  ledger.ApplyResult `json:"ledger"`
}

type GetExpenseRequest struct {
	ExpenseID string `json:"expense_id"`
}

type GetExpenseResponse struct {
	Expense *models.Expense `json:"expense"`
}

type ListGroupExpensesRequest struct {
	GroupID string `json:"group_id"`
}

type ListGroupExpensesResponse struct {
	Expenses []*models.Expense `json:"expenses"`
}

// UpdateExpenseRequest changes the fields set in Update. When Strategy is set the
// splits are recomputed from Shares and the (possibly updated) amount.
type UpdateExpenseRequest struct {
	ExpenseID string               `json:"expense_id"`
	Update    models.UpdateExpense `json:"update"`

	// Version, when set, must equal the stored version or the edit is aborted.
	Version int64 `json:"version,omitempty"`

	Strategy string             `json:"strategy,omitempty"`
	Shares   []calculator.Share `json:"shares,omitempty"`
}

type UpdateExpenseResponse struct {
	Expense *models.Expense     `json:"expense"`
	Ledger  ledger.UpdateResult `json:"ledger"`
}

type DeleteExpenseRequest struct {
	ExpenseID string `json:"expense_id"`
}

type DeleteExpenseResponse struct {
	Ledger ledger.ReverseResult `json:"ledger"`
}

// ListUserSettlementsRequest lists settlements where the user is debtor or creditor.
// UserID defaults to the caller.
type ListUserSettlementsRequest struct {
	UserID string `json:"user_id,omitempty"`
	Status string `json:"status,omitempty"`
}

type ListGroupSettlementsRequest struct {
	GroupID string `json:"group_id"`
	Status  string `json:"status,omitempty"`
}

type ListSettlementsResponse struct {
	Settlements []*models.Settlement `json:"settlements"`
}

type GetSettlementRequest struct {
	SettlementID string `json:"settlement_id"`
}

type GetSettlementResponse struct {
	Settlement *models.Settlement `json:"settlement"`
	// ProofURL is a short-lived download link when a proof is attached and uploads are enabled.
	ProofURL string `json:"proof_url,omitempty"`
}

// MarkSettlementPaidRequest completes a settlement. Proof is an existing reference;
// ProofData uploads a new attachment instead.
type MarkSettlementPaidRequest struct {
	SettlementID     string `json:"settlement_id"`
	PaymentMethod    string `json:"payment_method,omitempty"`
	Notes            string `json:"notes,omitempty"`
	Proof            string `json:"proof,omitempty"`
	ProofContentType string `json:"proof_content_type,omitempty"`
	ProofData        []byte `json:"proof_data,omitempty"`
}

type MarkSettlementPaidResponse struct {
	Settlement *models.Settlement `json:"settlement"`
}

type DeleteSettlementRequest struct {
	SettlementID string `json:"settlement_id"`
}

type DeleteSettlementResponse struct {
	RemovedLines int `json:"removed_lines"`
}

// GetUserBalancesRequest defaults UserID to the caller.
type GetUserBalancesRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type GetUserBalancesResponse struct {
	Balance calculator.UserBalance `json:"balance"`
}

type GetGroupBalancesRequest struct {
	GroupID string `json:"group_id"`
}

// GetGroupBalancesResponse holds historical gross balances derived from expenses.
type GetGroupBalancesResponse struct {
	Balances map[string]decimal.Decimal `json:"balances"`
}

type GetGroupSettlementBalancesRequest struct {
	GroupID string `json:"group_id"`
}

// GetGroupSettlementBalancesResponse holds outstanding balances derived from pending settlements.
type GetGroupSettlementBalancesResponse struct {
	Balances []calculator.MemberBalance `json:"balances"`
}

// CreateGroupRequest creates a group. The caller is added as an admin member.
type CreateGroupRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Members     []models.Member `json:"members,omitempty"`
}

type CreateGroupResponse struct {
	Group *models.Group `json:"group"`
}

type GetGroupRequest struct {
	GroupID string `json:"group_id"`
}

type GetGroupResponse struct {
	Group *models.Group `json:"group"`
}

// ListGroupsRequest lists the groups the caller belongs to.
type ListGroupsRequest struct{}

type ListGroupsResponse struct {
	Groups []*models.Group `json:"groups"`
}

// UpdateGroupRequest edits a group's details. Nil fields are left unchanged.
type UpdateGroupRequest struct {
	GroupID     string  `json:"group_id"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}

type UpdateGroupResponse struct {
	Group *models.Group `json:"group"`
}

type ReconstructSettlementsRequest struct {
	GroupID string `json:"group_id,omitempty"`
	Reset   bool   `json:"reset,omitempty"`
}

type ReconstructSettlementsResponse struct {
	Result ledger.ReconstructResult `json:"result"`
}

type LedgerStatusRequest struct{}

type LedgerStatusResponse struct {
	Status ledger.Status `json:"status"`
}
