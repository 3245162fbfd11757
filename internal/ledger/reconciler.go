package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// DefaultMaxAttempts bounds compare-and-swap retries per settlement mutation.
const DefaultMaxAttempts = 3

// rollbackTimeout bounds the compensating writes that run after the caller's context is done.
const rollbackTimeout = 5 * time.Second

// detach returns a context for compensating writes. It keeps ctx's values but not its
// deadline or cancellation, so a request that timed out mid-way can still be undone.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
}

// Option configures a Reconciler or Ledger.
type Option func(*options)

type options struct {
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// WithMaxAttempts sets how many times a settlement mutation is tried before ErrTransient.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithMetrics records ledger activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger replaces slog.Default for consistency warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{maxAttempts: DefaultMaxAttempts, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Reconciler keeps pending settlements consistent with the journal of expense contributions.
//
// Every contribution of an expense to a debt is recorded as a journal line keyed by
// (expense, from, to). Apply only adds debt for lines it appends and Reverse only removes
// debt for lines it deletes, so both are safe to repeat.
type Reconciler struct {
	store storage.Store
	options
}

// ApplyResult counts what Apply did per debtor.
type ApplyResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

func (a *ApplyResult) add(b ApplyResult) {
	a.Created += b.Created
	a.Updated += b.Updated
	a.Skipped += b.Skipped
}

// ReverseResult counts what Reverse did per journal line.
type ReverseResult struct {
	// Reversed lines decremented a pending settlement.
	Reversed int `json:"reversed"`
	// Deleted settlements dropped to zero and were removed.
	Deleted int `json:"deleted"`
	// Settled lines belonged to a completed settlement and left pending debt untouched.
	Settled int `json:"settled"`
	// Missing lines or settlements were already gone.
	Missing int `json:"missing"`
}

// NewReconciler creates a Reconciler over store.
func NewReconciler(store storage.Store, opts ...Option) *Reconciler {
	return &Reconciler{store: store, options: buildOptions(opts)}
}

// Apply folds an expense into the pending settlements: every non-payer debtor's share
// is added to the PENDING settlement (group, debtor, payer), creating it when absent.
// Contributions already folded in are skipped. A journal that disagrees with the expense
// fails with ErrJournalMismatch before anything is written.
func (r *Reconciler) Apply(ctx context.Context, e *models.Expense) (ApplyResult, error) {
	var res ApplyResult
	if err := e.Validate(); err != nil {
		return res, err
	}

	lines, err := r.store.ListJournalLines(ctx, storage.JournalFilter{ExpenseID: e.ID})
	if err != nil {
		return res, fmt.Errorf("failed to list journal lines: %w", err)
	}
	if err := checkJournal(e, lines); err != nil {
		return res, err
	}
	journaled := make(map[string]bool, len(lines))
	for _, line := range lines {
		journaled[line.ID] = true
	}

	for _, debt := range models.Debts(e.PaidBy, e.Splits) {
		lineID := id.Journal(e.ID, debt.From, e.PaidBy)
		if journaled[lineID] {
			res.Skipped++
			r.metrics.SkippedLine()
			continue
		}

		key := models.SettlementKey{GroupID: e.GroupID, From: debt.From, To: e.PaidBy}
		st, created, err := r.credit(ctx, key, debt.Amount, e.Title)
		if err != nil {
			return res, err
		}

		line := &models.JournalLine{
			ID:           lineID,
			ExpenseID:    e.ID,
			GroupID:      e.GroupID,
			From:         debt.From,
			To:           e.PaidBy,
			Amount:       debt.Amount,
			SettlementID: st.ID,
		}
		if err := r.store.AppendJournalLine(ctx, line); err != nil {
			// Take the credit back; either a concurrent Apply already recorded this
			// contribution or the line could not be written.
			r.undoCredit(ctx, line)
			if errors.Is(err, storage.ErrAlreadyExists) {
				if err := r.checkConcurrentLine(ctx, line); err != nil {
					return res, err
				}
				res.Skipped++
				r.metrics.SkippedLine()
				continue
			}
			return res, fmt.Errorf("failed to append journal line: %w", err)
		}

		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

// Reverse removes every contribution the expense made to pending settlements.
// It walks the journal rather than the expense's current splits, so it undoes exactly
// what Apply recorded. Missing targets are logged and counted, never returned as errors.
func (r *Reconciler) Reverse(ctx context.Context, e *models.Expense) (ReverseResult, error) {
	var res ReverseResult

	lines, err := r.store.ListJournalLines(ctx, storage.JournalFilter{ExpenseID: e.ID})
	if err != nil {
		return res, fmt.Errorf("failed to list journal lines: %w", err)
	}
	if len(lines) == 0 {
		if debts := models.Debts(e.PaidBy, e.Splits); len(debts) > 0 {
			r.logger.Warn("No journal lines to reverse for expense",
				"expense_id", e.ID, "group_id", e.GroupID, "debtors", len(debts))
			res.Missing += len(debts)
			r.metrics.MissingReversal()
		}
		return res, nil
	}

	for _, line := range lines {
		// Deleting the line first claims it, so a concurrent Reverse cannot debit twice.
		err := r.store.DeleteJournalLine(ctx, line.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to delete journal line: %w", err)
		}
		if line.Settled {
			res.Settled++
			continue
		}

		outcome, err := r.debit(ctx, line.SettlementID, line.Amount)
		if err != nil {
			r.restoreLine(ctx, line)
			return res, err
		}

		switch outcome {
		case debitApplied:
			res.Reversed++
		case debitDeleted:
			res.Reversed++
			res.Deleted++
		case debitCompleted:
			res.Settled++
		case debitMissing:
			r.logger.Warn("Reversal target settlement not found",
				"group_id", line.GroupID, "from", line.From, "to", line.To,
				"expense_id", line.ExpenseID, "settlement_id", line.SettlementID)
			res.Missing++
			r.metrics.MissingReversal()
		}
	}
	return res, nil
}

// undoCredit takes back the credit recorded for line after its append failed.
func (r *Reconciler) undoCredit(ctx context.Context, line *models.JournalLine) {
	ctx, cancel := detach(ctx)
	defer cancel()
	if _, err := r.debit(ctx, line.SettlementID, line.Amount); err != nil {
		r.logger.Error("Failed to undo settlement credit",
			"settlement_id", line.SettlementID, "expense_id", line.ExpenseID,
			"amount", line.Amount.String(), "error", err)
	}
}

// restoreLine puts back a journal line whose debit failed.
func (r *Reconciler) restoreLine(ctx context.Context, line *models.JournalLine) {
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := r.store.AppendJournalLine(ctx, line); err != nil {
		r.logger.Error("Failed to restore journal line", "line_id", line.ID, "expense_id", line.ExpenseID, "error", err)
	}
}

// checkConcurrentLine compares the line another Apply stored first with the one this Apply wanted.
func (r *Reconciler) checkConcurrentLine(ctx context.Context, want *models.JournalLine) error {
	got, err := r.store.GetJournalLine(ctx, want.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up journal line: %w", err)
	}
	if !got.Amount.Equal(want.Amount) {
		return fmt.Errorf("%w: expense %s records %s owing %s, journal has %s",
			ErrJournalMismatch, want.ExpenseID, want.From, want.Amount, got.Amount)
	}
	return nil
}

// checkJournal returns ErrJournalMismatch when lines hold a contribution e would not record:
// a line for a debtor e no longer has or a line with a different amount. Lines e would
// record but that are missing are not a mismatch.
func checkJournal(e *models.Expense, lines []*models.JournalLine) error {
	want := make(map[string]decimal.Decimal)
	for _, debt := range models.Debts(e.PaidBy, e.Splits) {
		want[id.Journal(e.ID, debt.From, e.PaidBy)] = debt.Amount
	}
	for _, line := range lines {
		amount, ok := want[line.ID]
		if !ok {
			return fmt.Errorf("%w: expense %s has no debt from %s to %s", ErrJournalMismatch, e.ID, line.From, line.To)
		}
		if !amount.Equal(line.Amount) {
			return fmt.Errorf("%w: expense %s records %s owing %s, journal has %s",
				ErrJournalMismatch, e.ID, line.From, amount, line.Amount)
		}
	}
	return nil
}

// Payment describes how a settlement was paid off.
type Payment struct {
	Method string
	Notes  string
	Proof  string
}

// MarkPaid flips a pending settlement to COMPLETED and marks the journal lines that fed it as settled.
func (r *Reconciler) MarkPaid(ctx context.Context, settlementID string, p Payment) (*models.Settlement, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		st, err := r.store.GetSettlement(ctx, settlementID)
		if err != nil {
			return nil, fmt.Errorf("failed to get settlement: %w", err)
		}
		if !st.IsPending() {
			return nil, ErrSettlementCompleted
		}

		st.Status = models.StatusCompleted
		st.Date = time.Now().UTC()
		if p.Method != "" {
			st.PaymentMethod = p.Method
		}
		if p.Notes != "" {
			st.Notes = p.Notes
		}
		if p.Proof != "" {
			st.Proof = p.Proof
		}

		err = r.store.UpdateSettlement(ctx, st)
		if errors.Is(err, storage.ErrConflict) {
			r.metrics.Conflict()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to complete settlement: %w", err)
		}
		r.metrics.SettlementMutation(metrics.OpComplete)

		n, err := r.store.SettleJournalLines(ctx, st.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to settle journal lines: %w", err)
		}
		r.logger.Info("Settlement marked paid",
			"settlement_id", st.ID, "group_id", st.GroupID, "from", st.FromUserID, "to", st.ToUserID,
			"amount", st.Amount.String(), "lines", n)
		return st, nil
	}

	r.metrics.RetriesExhausted()
	return nil, fmt.Errorf("%w: completing settlement %s", ErrTransient, settlementID)
}

// DeleteSettlement removes a settlement. For a pending one the journal lines feeding it
// are removed too, so the expenses behind it no longer count towards any debt.
// It returns the number of journal lines removed.
func (r *Reconciler) DeleteSettlement(ctx context.Context, settlementID string) (int, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		st, err := r.store.GetSettlement(ctx, settlementID)
		if err != nil {
			return 0, fmt.Errorf("failed to get settlement: %w", err)
		}

		err = r.store.DeleteSettlement(ctx, st.ID, st.Version)
		if errors.Is(err, storage.ErrConflict) {
			r.metrics.Conflict()
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to delete settlement: %w", err)
		}
		r.metrics.SettlementMutation(metrics.OpDelete)

		if !st.IsPending() {
			return 0, nil
		}
		return r.dropLines(ctx, storage.JournalFilter{SettlementID: st.ID})
	}

	r.metrics.RetriesExhausted()
	return 0, fmt.Errorf("%w: deleting settlement %s", ErrTransient, settlementID)
}

func (r *Reconciler) dropLines(ctx context.Context, filter storage.JournalFilter) (int, error) {
	lines, err := r.store.ListJournalLines(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to list journal lines: %w", err)
	}
	n := 0
	for _, line := range lines {
		err := r.store.DeleteJournalLine(ctx, line.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("failed to delete journal line: %w", err)
		}
		n++
	}
	return n, nil
}

// credit adds amount to the pending settlement for key, creating it when there is none.
func (r *Reconciler) credit(ctx context.Context, key models.SettlementKey, amount decimal.Decimal, title string) (*models.Settlement, bool, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		st, err := r.store.FindPendingSettlement(ctx, key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			st = &models.Settlement{
				ID:            id.NewSettlement(),
				GroupID:       key.GroupID,
				FromUserID:    key.From,
				ToUserID:      key.To,
				Amount:        amount,
				PaymentMethod: models.DefaultPaymentMethod,
				Status:        models.StatusPending,
				Notes:         "Settlement for expense: " + title,
				Active:        true,
			}
			err = r.store.CreateSettlement(ctx, st)
			if err == nil {
				r.metrics.SettlementMutation(metrics.OpCreate)
				return st, true, nil
			}
			if !errors.Is(err, storage.ErrAlreadyExists) {
				return nil, false, fmt.Errorf("failed to create settlement: %w", err)
			}
		case err != nil:
			return nil, false, fmt.Errorf("failed to find pending settlement: %w", err)
		default:
			st.Amount = st.Amount.Add(amount)
			err = r.store.UpdateSettlement(ctx, st)
			if err == nil {
				r.metrics.SettlementMutation(metrics.OpIncrement)
				return st, false, nil
			}
			if !errors.Is(err, storage.ErrConflict) && !errors.Is(err, storage.ErrNotFound) {
				return nil, false, fmt.Errorf("failed to update settlement: %w", err)
			}
		}
		r.metrics.Conflict()
	}

	r.metrics.RetriesExhausted()
	return nil, false, fmt.Errorf("%w: crediting %s->%s in group %s", ErrTransient, key.From, key.To, key.GroupID)
}

type debitOutcome int

const (
	debitApplied debitOutcome = iota
	debitDeleted
	debitCompleted
	debitMissing
)

// debit subtracts amount from a pending settlement and deletes it once nothing is owed.
// The amount is never stored at or below zero.
func (r *Reconciler) debit(ctx context.Context, settlementID string, amount decimal.Decimal) (debitOutcome, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		st, err := r.store.GetSettlement(ctx, settlementID)
		if errors.Is(err, storage.ErrNotFound) {
			return debitMissing, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to get settlement: %w", err)
		}
		if !st.IsPending() {
			return debitCompleted, nil
		}

		remaining := st.Amount.Sub(amount)
		if remaining.IsPositive() {
			st.Amount = remaining
			err = r.store.UpdateSettlement(ctx, st)
			if err == nil {
				r.metrics.SettlementMutation(metrics.OpDecrement)
				return debitApplied, nil
			}
		} else {
			if remaining.IsNegative() {
				r.logger.Warn("Settlement would drop below zero, deleting",
					"settlement_id", st.ID, "group_id", st.GroupID, "from", st.FromUserID, "to", st.ToUserID,
					"amount", st.Amount.String(), "debit", amount.String())
			}
			err = r.store.DeleteSettlement(ctx, st.ID, st.Version)
			if err == nil {
				r.metrics.SettlementMutation(metrics.OpDelete)
				return debitDeleted, nil
			}
		}

		if errors.Is(err, storage.ErrNotFound) {
			return debitMissing, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return 0, fmt.Errorf("failed to debit settlement: %w", err)
		}
		r.metrics.Conflict()
	}

	r.metrics.RetriesExhausted()
	return 0, fmt.Errorf("%w: debiting settlement %s", ErrTransient, settlementID)
}
