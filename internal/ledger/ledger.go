// Package ledger turns expense lifecycle events into pairwise settlement records.
//
// The Reconciler owns the merge rule (one PENDING settlement per group, debtor and
// creditor) and the journal of per-expense contributions. Ledger wraps it with the
// hooks the expense surface calls and with the group expense total.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Ledger reacts to expense lifecycle events.
type Ledger struct {
	*Reconciler
}

// UpdateResult reports the ledger work done for an expense edit.
type UpdateResult struct {
	Reversed ReverseResult `json:"reversed"`
	Applied  ApplyResult   `json:"applied"`
}

// New creates a Ledger over store.
func New(store storage.Store, opts ...Option) *Ledger {
	return &Ledger{Reconciler: NewReconciler(store, opts...)}
}

// OnExpenseCreated applies the new expense and adds its amount to the group total.
func (l *Ledger) OnExpenseCreated(ctx context.Context, e *models.Expense) (ApplyResult, error) {
	res, err := l.Apply(ctx, e)
	if err != nil {
		return res, err
	}
	return res, l.AdjustGroupTotal(ctx, e.GroupID, e.Amount)
}

// OnExpenseUpdated moves the ledger from before to after. When anything that shapes debt
// changed (group, payer, amount or splits) the old contributions are reversed and the new
// ones applied; the group totals follow the amount.
func (l *Ledger) OnExpenseUpdated(ctx context.Context, before, after *models.Expense) (UpdateResult, error) {
	var res UpdateResult
	if before.ID != after.ID {
		return res, fmt.Errorf("%w: expense id changed from %s to %s", ErrInvalidExpense, before.ID, after.ID)
	}
	if err := after.Validate(); err != nil {
		return res, err
	}

	if before.AffectsLedger(after) {
		var err error
		res.Reversed, err = l.Reverse(ctx, before)
		if err != nil {
			return res, err
		}
		res.Applied, err = l.Apply(ctx, after)
		if err != nil {
			return res, err
		}
	}

	if before.GroupID != after.GroupID {
		if err := l.AdjustGroupTotal(ctx, before.GroupID, before.Amount.Neg()); err != nil {
			return res, err
		}
		return res, l.AdjustGroupTotal(ctx, after.GroupID, after.Amount)
	}
	return res, l.AdjustGroupTotal(ctx, after.GroupID, after.Amount.Sub(before.Amount))
}

// OnExpenseDeleted reverses the expense and removes its amount from the group total.
func (l *Ledger) OnExpenseDeleted(ctx context.Context, e *models.Expense) (ReverseResult, error) {
	res, err := l.Reverse(ctx, e)
	if err != nil {
		return res, err
	}
	return res, l.AdjustGroupTotal(ctx, e.GroupID, e.Amount.Neg())
}

// AdjustGroupTotal adds delta to the group's running expense total. A missing group
// or a total that drifts below zero is logged, not returned.
func (l *Ledger) AdjustGroupTotal(ctx context.Context, groupID string, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}

	total, err := l.store.AdjustGroupTotal(ctx, groupID, delta)
	if errors.Is(err, storage.ErrNotFound) {
		l.logger.Warn("Group total target not found", "group_id", groupID, "delta", delta.String())
		l.metrics.GroupTotalWarning()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to adjust group total: %w", err)
	}
	if total.IsNegative() {
		l.logger.Warn("Group total drifted negative", "group_id", groupID, "total", total.String())
		l.metrics.GroupTotalWarning()
	}
	return nil
}
