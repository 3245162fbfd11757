package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// ReconstructOptions scopes a rebuild.
type ReconstructOptions struct {
	// GroupID limits the rebuild to one group. Empty means every group.
	GroupID string

	// Reset deletes pending settlements and their journal lines in scope before
	// replaying expenses, so pending debt is derived from expenses alone.
	// Completed settlements and the lines they paid off are kept.
	Reset bool
}

// ReconstructResult reports what a rebuild did.
type ReconstructResult struct {
	Expenses           int `json:"expenses"`
	Invalid            int `json:"invalid"`
	Mismatched         int `json:"mismatched"`
	Created            int `json:"created"`
	Updated            int `json:"updated"`
	Skipped            int `json:"skipped"`
	ClearedSettlements int `json:"cleared_settlements"`
	ClearedLines       int `json:"cleared_lines"`
}

// Reconstruct replays Apply over the expense history. Apply only adds contributions that
// are not yet journaled, so the result does not depend on processing order and running it
// over an already populated ledger does not double count.
func (r *Reconciler) Reconstruct(ctx context.Context, opts ReconstructOptions) (ReconstructResult, error) {
	var res ReconstructResult

	if opts.Reset {
		if err := r.reset(ctx, opts.GroupID, &res); err != nil {
			return res, err
		}
	}

	expenses, err := r.store.ListExpenses(ctx, opts.GroupID)
	if err != nil {
		return res, fmt.Errorf("failed to list expenses: %w", err)
	}

	var applied ApplyResult
	for _, e := range expenses {
		res.Expenses++
		if err := e.Validate(); err != nil {
			r.logger.Warn("Skipping invalid expense during reconstruction", "expense_id", e.ID, "error", err)
			res.Invalid++
			continue
		}
		ar, err := r.Apply(ctx, e)
		applied.add(ar)
		if errors.Is(err, ErrJournalMismatch) {
			r.logger.Warn("Journal disagrees with expense, run with reset to rebuild", "expense_id", e.ID, "error", err)
			res.Mismatched++
			continue
		}
		if err != nil {
			res.Created, res.Updated, res.Skipped = applied.Created, applied.Updated, applied.Skipped
			return res, fmt.Errorf("failed to apply expense %s: %w", e.ID, err)
		}
	}
	res.Created, res.Updated, res.Skipped = applied.Created, applied.Updated, applied.Skipped

	r.logger.Info("Settlements reconstructed",
		"group_id", opts.GroupID, "reset", opts.Reset, "expenses", res.Expenses,
		"created", res.Created, "updated", res.Updated, "skipped", res.Skipped, "mismatched", res.Mismatched)
	return res, nil
}

func (r *Reconciler) reset(ctx context.Context, groupID string, res *ReconstructResult) error {
	pending, err := r.store.ListSettlements(ctx, storage.SettlementFilter{
		GroupID: groupID,
		Status:  models.StatusPending,
	})
	if err != nil {
		return fmt.Errorf("failed to list pending settlements: %w", err)
	}

	for _, st := range pending {
		lines, err := r.DeleteSettlement(ctx, st.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		res.ClearedSettlements++
		res.ClearedLines += lines
	}

	// Unsettled lines whose settlement vanished would make Apply skip their expense.
	orphans, err := r.store.ListJournalLines(ctx, storage.JournalFilter{GroupID: groupID, UnsettledOnly: true})
	if err != nil {
		return fmt.Errorf("failed to list journal lines: %w", err)
	}
	for _, line := range orphans {
		_, err := r.store.GetSettlement(ctx, line.SettlementID)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to get settlement: %w", err)
		}
		if err := r.store.DeleteJournalLine(ctx, line.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to delete journal line: %w", err)
		}
		res.ClearedLines++
	}
	return nil
}
