package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Status summarizes the ledger for operators.
type Status struct {
	Expenses             int `json:"expenses"`
	Groups               int `json:"groups"`
	PendingSettlements   int `json:"pending_settlements"`
	CompletedSettlements int `json:"completed_settlements"`
	JournalLines         int `json:"journal_lines"`
	UnsettledLines       int `json:"unsettled_lines"`

	// Drifted lists pending settlements whose amount differs from the sum of their journal lines.
	Drifted []string `json:"drifted,omitempty"`

	// Mismatched lists expenses whose journal lines record other debts than the expense,
	// including lines left behind by expenses that no longer exist.
	Mismatched []string `json:"mismatched,omitempty"`
}

// Consistent reports whether the check found neither drift nor mismatches.
func (s Status) Consistent() bool {
	return len(s.Drifted) == 0 && len(s.Mismatched) == 0
}

// Status counts ledger records and checks every pending settlement against its journal lines.
func (r *Reconciler) Status(ctx context.Context) (Status, error) {
	var s Status

	expenses, err := r.store.ListExpenses(ctx, "")
	if err != nil {
		return s, fmt.Errorf("failed to list expenses: %w", err)
	}
	s.Expenses = len(expenses)

	groups, err := r.store.ListGroups(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to list groups: %w", err)
	}
	s.Groups = len(groups)

	lines, err := r.store.ListJournalLines(ctx, storage.JournalFilter{})
	if err != nil {
		return s, fmt.Errorf("failed to list journal lines: %w", err)
	}
	s.JournalLines = len(lines)

	sums := make(map[string]decimal.Decimal)
	byExpense := make(map[string][]*models.JournalLine)
	for _, l := range lines {
		byExpense[l.ExpenseID] = append(byExpense[l.ExpenseID], l)
		if l.Settled {
			continue
		}
		s.UnsettledLines++
		sums[l.SettlementID] = sums[l.SettlementID].Add(l.Amount)
	}

	known := make(map[string]bool, len(expenses))
	for _, e := range expenses {
		known[e.ID] = true
		if err := checkJournal(e, byExpense[e.ID]); err != nil {
			s.Mismatched = append(s.Mismatched, e.ID)
		}
	}
	orphaned := make([]string, 0)
	for expenseID := range byExpense {
		if !known[expenseID] {
			orphaned = append(orphaned, expenseID)
		}
	}
	slices.Sort(orphaned)
	s.Mismatched = append(s.Mismatched, orphaned...)

	settlements, err := r.store.ListSettlements(ctx, storage.SettlementFilter{})
	if err != nil {
		return s, fmt.Errorf("failed to list settlements: %w", err)
	}
	for _, st := range settlements {
		if st.Status == models.StatusCompleted {
			s.CompletedSettlements++
			continue
		}
		s.PendingSettlements++
		if !sums[st.ID].Equal(st.Amount) {
			s.Drifted = append(s.Drifted, st.ID)
		}
	}
	return s, nil
}
