package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/storage/memory"
)

func TestApplyMergesIntoPendingSettlements(t *testing.T) {
	eachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		rec := ledger.NewReconciler(store)

		first := expense("grp_g", "alice", "300", split("alice", "100"), split("bob", "100"), split("carol", "100"))
		res, err := rec.Apply(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, ledger.ApplyResult{Created: 2}, res)
		assert.Equal(t, map[string]string{"bob->alice": "100.00", "carol->alice": "100.00"}, pendingAmounts(t, store, "grp_g"))

		second := expense("grp_g", "alice", "60", split("bob", "30"), split("carol", "30"))
		res, err = rec.Apply(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, ledger.ApplyResult{Updated: 2}, res)
		assert.Equal(t, map[string]string{"bob->alice": "130.00", "carol->alice": "130.00"}, pendingAmounts(t, store, "grp_g"))

		rev, err := rec.Reverse(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, ledger.ReverseResult{Reversed: 2}, rev)
		assert.Equal(t, map[string]string{"bob->alice": "30.00", "carol->alice": "30.00"}, pendingAmounts(t, store, "grp_g"))
	})
}

func TestApplyCreatesSettlementDefaults(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	e := expense("grp_g", "alice", "50", split("bob", "50"))
	e.Title = "Cab to airport"

	_, err := ledger.NewReconciler(store).Apply(ctx, e)
	require.NoError(t, err)

	st, err := store.FindPendingSettlement(ctx, models.SettlementKey{GroupID: "grp_g", From: "bob", To: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPaymentMethod, st.PaymentMethod)
	assert.Equal(t, "Settlement for expense: Cab to airport", st.Notes)
	assert.True(t, st.Active)
	assert.Equal(t, models.StatusPending, st.Status)
}

func TestApplyIsReentrant(t *testing.T) {
	eachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		rec := ledger.NewReconciler(store)
		e := expense("grp_g", "alice", "300", split("alice", "100"), split("bob", "100"), split("carol", "100"))

		_, err := rec.Apply(ctx, e)
		require.NoError(t, err)
		res, err := rec.Apply(ctx, e)
		require.NoError(t, err)

		assert.Equal(t, ledger.ApplyResult{Skipped: 2}, res)
		assert.Equal(t, map[string]string{"bob->alice": "100.00", "carol->alice": "100.00"}, pendingAmounts(t, store, "grp_g"))
	})
}

func TestApplyFoldsDuplicateSplitRows(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	e := expense("grp_g", "alice", "90", split("bob", "20"), split("bob", "40"), split("carol", "0"), split("alice", "30"))

	res, err := ledger.NewReconciler(store).Apply(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, ledger.ApplyResult{Created: 1}, res)
	assert.Equal(t, map[string]string{"bob->alice": "60.00"}, pendingAmounts(t, store, "grp_g"))
}

func TestApplyRejectsInvalidExpense(t *testing.T) {
	store := memory.New()
	e := expense("grp_g", "alice", "0", split("bob", "10"))

	_, err := ledger.NewReconciler(store).Apply(context.Background(), e)
	require.ErrorIs(t, err, ledger.ErrInvalidExpense)
	assert.Empty(t, pendingAmounts(t, store, "grp_g"))
}

func TestDirectionsAreIndependent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := ledger.NewReconciler(store)

	_, err := rec.Apply(ctx, expense("grp_g", "alice", "40", split("bob", "40")))
	require.NoError(t, err)
	_, err = rec.Apply(ctx, expense("grp_g", "bob", "25", split("alice", "25")))
	require.NoError(t, err)
	_, err = rec.Apply(ctx, expense("grp_h", "alice", "10", split("bob", "10")))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"bob->alice": "40.00", "alice->bob": "25.00"}, pendingAmounts(t, store, "grp_g"))
	assert.Equal(t, map[string]string{"bob->alice": "10.00"}, pendingAmounts(t, store, "grp_h"))
}

func TestApplyThenReverseRestoresLedger(t *testing.T) {
	eachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		rec := ledger.NewReconciler(store)

		base := expense("grp_g", "alice", "75.50", split("bob", "45.25"), split("carol", "30.25"))
		_, err := rec.Apply(ctx, base)
		require.NoError(t, err)
		before := pendingAmounts(t, store, "grp_g")

		extra := expense("grp_g", "alice", "33.33", split("bob", "11.11"), split("carol", "11.11"), split("dave", "11.11"))
		_, err = rec.Apply(ctx, extra)
		require.NoError(t, err)

		res, err := rec.Reverse(ctx, extra)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Reversed)
		assert.Equal(t, 1, res.Deleted)
		assert.Equal(t, before, pendingAmounts(t, store, "grp_g"))

		_, err = rec.Reverse(ctx, base)
		require.NoError(t, err)
		assert.Empty(t, pendingAmounts(t, store, "grp_g"))

		lines, err := store.ListJournalLines(ctx, storage.JournalFilter{GroupID: "grp_g"})
		require.NoError(t, err)
		assert.Empty(t, lines)
	})
}

func TestReverseWithoutJournalIsNoop(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := ledger.NewReconciler(store)

	e := expense("grp_g", "alice", "100", split("bob", "50"), split("carol", "50"))
	_, err := rec.Apply(ctx, e)
	require.NoError(t, err)
	_, err = rec.Reverse(ctx, e)
	require.NoError(t, err)

	res, err := rec.Reverse(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReverseResult{Missing: 2}, res)
	assert.Empty(t, pendingAmounts(t, store, "grp_g"))
}

func TestReverseToleratesMissingSettlement(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := ledger.NewReconciler(store)

	e := expense("grp_g", "alice", "100", split("bob", "100"))
	_, err := rec.Apply(ctx, e)
	require.NoError(t, err)

	st, err := store.FindPendingSettlement(ctx, models.SettlementKey{GroupID: "grp_g", From: "bob", To: "alice"})
	require.NoError(t, err)
	require.NoError(t, store.DeleteSettlement(ctx, st.ID, st.Version))

	res, err := rec.Reverse(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReverseResult{Missing: 1}, res)
}

func TestReverseNeverStoresNegativeAmount(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := ledger.NewReconciler(store)

	e := expense("grp_g", "alice", "100", split("bob", "100"))
	_, err := rec.Apply(ctx, e)
	require.NoError(t, err)

	// Someone shrank the debt behind the ledger's back.
	st, err := store.FindPendingSettlement(ctx, models.SettlementKey{GroupID: "grp_g", From: "bob", To: "alice"})
	require.NoError(t, err)
	st.Amount = dec("40")
	require.NoError(t, store.UpdateSettlement(ctx, st))

	res, err := rec.Reverse(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, pendingAmounts(t, store, "grp_g"))
}

func TestMarkPaidSettlesJournal(t *testing.T) {
	eachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		rec := ledger.NewReconciler(store)

		old := expense("grp_g", "alice", "100", split("bob", "100"))
		_, err := rec.Apply(ctx, old)
		require.NoError(t, err)

		st, err := store.FindPendingSettlement(ctx, models.SettlementKey{GroupID: "grp_g", From: "bob", To: "alice"})
		require.NoError(t, err)

		paid, err := rec.MarkPaid(ctx, st.ID, ledger.Payment{Method: "CASH", Notes: "paid at dinner", Proof: "proofs/receipt.jpg"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, paid.Status)
		assert.Equal(t, "CASH", paid.PaymentMethod)
		assert.Equal(t, "proofs/receipt.jpg", paid.Proof)

		_, err = rec.MarkPaid(ctx, st.ID, ledger.Payment{})
		require.ErrorIs(t, err, ledger.ErrSettlementCompleted)

		// A new expense opens a fresh pending debt instead of reviving the completed one.
		fresh := expense("grp_g", "alice", "20", split("bob", "20"))
		res, err := rec.Apply(ctx, fresh)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
		assert.Equal(t, map[string]string{"bob->alice": "20.00"}, pendingAmounts(t, store, "grp_g"))

		// Deleting the paid-off expense leaves the new debt alone.
		rev, err := rec.Reverse(ctx, old)
		require.NoError(t, err)
		assert.Equal(t, ledger.ReverseResult{Settled: 1}, rev)
		assert.Equal(t, map[string]string{"bob->alice": "20.00"}, pendingAmounts(t, store, "grp_g"))

		got, err := store.GetSettlement(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, "100.00", got.Amount.StringFixed(2))
	})
}

func TestDeleteSettlementDropsItsJournal(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := ledger.NewReconciler(store)

	e := expense("grp_g", "alice", "100", split("bob", "60"), split("carol", "40"))
	_, err := rec.Apply(ctx, e)
	require.NoError(t, err)

	st, err := store.FindPendingSettlement(ctx, models.SettlementKey{GroupID: "grp_g", From: "bob", To: "alice"})
	require.NoError(t, err)

	n, err := rec.DeleteSettlement(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, map[string]string{"carol->alice": "40.00"}, pendingAmounts(t, store, "grp_g"))

	res, err := rec.Reverse(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReverseResult{Reversed: 1, Deleted: 1}, res)

	_, err = rec.DeleteSettlement(ctx, st.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentApplyOnSameKey(t *testing.T) {
	eachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		const workers = 10
		rec := ledger.NewReconciler(store, ledger.WithMaxAttempts(workers*5))

		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := rec.Apply(ctx, expense("grp_g", "alice", "10", split("bob", "10")))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, map[string]string{"bob->alice": "100.00"}, pendingAmounts(t, store, "grp_g"))
	})
}

func TestConcurrentDuplicateApplyCountsOnce(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := ledger.NewReconciler(store, ledger.WithMaxAttempts(50))
	e := expense("grp_g", "alice", "10", split("bob", "10"))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.Apply(ctx, e)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, map[string]string{"bob->alice": "10.00"}, pendingAmounts(t, store, "grp_g"))
}

// conflictingStore loses every compare-and-swap race.
type conflictingStore struct {
	*memory.Store
}

func (conflictingStore) UpdateSettlement(context.Context, *models.Settlement) error {
	return storage.ErrConflict
}

func TestRetriesExhaustedIsTransient(t *testing.T) {
	ctx := context.Background()
	store := conflictingStore{memory.New()}
	m := metrics.New()
	rec := ledger.NewReconciler(store, ledger.WithMaxAttempts(3), ledger.WithMetrics(m))

	_, err := rec.Apply(ctx, expense("grp_g", "alice", "10", split("bob", "10")))
	require.NoError(t, err)

	second := expense("grp_g", "alice", "5", split("bob", "5"))
	_, err = rec.Apply(ctx, second)
	require.ErrorIs(t, err, ledger.ErrTransient)
	assert.True(t, ledger.IsRetryable(err))
	assert.False(t, ledger.IsRetryable(errors.New("disk on fire")))

	lines, err := store.ListJournalLines(ctx, storage.JournalFilter{ExpenseID: second.ID})
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, map[string]string{"bob->alice": "10.00"}, pendingAmounts(t, store, "grp_g"))
}

func TestExactSplitRejectedBeforeAnyMutation(t *testing.T) {
	store := memory.New()

	_, err := calculator.Exact(dec("100"), []calculator.Share{
		{UserID: "bob", Value: dec("50")},
		{UserID: "carol", Value: dec("49.50")},
	})
	require.ErrorIs(t, err, calculator.ErrSplitsDoNotReconcile)

	settlements, err := store.ListSettlements(context.Background(), storage.SettlementFilter{})
	require.NoError(t, err)
	assert.Empty(t, settlements)
}

// cancelingStore cancels the caller's context inside one journal write, the way a
// request deadline firing mid-operation would. Settlement calls on a done context fail.
type cancelingStore struct {
	storage.Store
	cancel   context.CancelFunc
	onAppend bool
	onDelete bool
}

func (s *cancelingStore) AppendJournalLine(ctx context.Context, l *models.JournalLine) error {
	if s.onAppend {
		s.cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.AppendJournalLine(ctx, l)
}

func (s *cancelingStore) DeleteJournalLine(ctx context.Context, lineID string) error {
	if err := s.Store.DeleteJournalLine(ctx, lineID); err != nil {
		return err
	}
	if s.onDelete {
		s.cancel()
	}
	return nil
}

func (s *cancelingStore) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.GetSettlement(ctx, settlementID)
}

func (s *cancelingStore) UpdateSettlement(ctx context.Context, st *models.Settlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateSettlement(ctx, st)
}

func (s *cancelingStore) DeleteSettlement(ctx context.Context, settlementID string, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.DeleteSettlement(ctx, settlementID, version)
}

func TestApplyUndoesCreditAfterCancel(t *testing.T) {
	eachStore(t, func(t *testing.T, store storage.Store) {
		rec := ledger.NewReconciler(store)
		_, err := rec.Apply(context.Background(), expense("grp_g", "alice", "100", split("bob", "100")))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		canceling := &cancelingStore{Store: store, cancel: cancel, onAppend: true}
		e := expense("grp_g", "alice", "50", split("bob", "50"))

		_, err = ledger.NewReconciler(canceling).Apply(ctx, e)
		require.ErrorIs(t, err, context.Canceled)

		assert.Equal(t, map[string]string{"bob->alice": "100.00"}, pendingAmounts(t, store, "grp_g"))
		lines, err := store.ListJournalLines(context.Background(), storage.JournalFilter{ExpenseID: e.ID})
		require.NoError(t, err)
		assert.Empty(t, lines)

		status, err := rec.Status(context.Background())
		require.NoError(t, err)
		assert.Empty(t, status.Drifted)
	})
}

func TestReverseRestoresLineAfterCancel(t *testing.T) {
	eachStore(t, func(t *testing.T, store storage.Store) {
		rec := ledger.NewReconciler(store)
		e := expense("grp_g", "alice", "100", split("bob", "100"))
		_, err := rec.Apply(context.Background(), e)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		canceling := &cancelingStore{Store: store, cancel: cancel, onDelete: true}

		_, err = ledger.NewReconciler(canceling).Reverse(ctx, e)
		require.ErrorIs(t, err, context.Canceled)

		assert.Equal(t, map[string]string{"bob->alice": "100.00"}, pendingAmounts(t, store, "grp_g"))
		lines, err := store.ListJournalLines(context.Background(), storage.JournalFilter{ExpenseID: e.ID})
		require.NoError(t, err)
		assert.Len(t, lines, 1)

		// A retry with a live context finishes the reversal.
		res, err := rec.Reverse(context.Background(), e)
		require.NoError(t, err)
		assert.Equal(t, ledger.ReverseResult{Reversed: 1, Deleted: 1}, res)
		assert.Empty(t, pendingAmounts(t, store, "grp_g"))
	})
}

func TestApplyRejectsJournalFromOlderExpense(t *testing.T) {
	eachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		rec := ledger.NewReconciler(store)

		e := expense("grp_g", "alice", "100", split("bob", "100"))
		require.NoError(t, store.CreateExpense(ctx, e))
		_, err := rec.Apply(ctx, e)
		require.NoError(t, err)

		// The stored expense changed but its old contribution was never reversed.
		edited := e.Clone()
		edited.Splits = []models.Split{split("bob", "60"), split("alice", "40")}
		require.NoError(t, store.UpdateExpense(ctx, edited))
		assert.Equal(t, int64(2), edited.Version)

		_, err = rec.Apply(ctx, edited)
		require.ErrorIs(t, err, ledger.ErrJournalMismatch)
		assert.Equal(t, map[string]string{"bob->alice": "100.00"}, pendingAmounts(t, store, "grp_g"))

		status, err := rec.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{e.ID}, status.Mismatched)
		assert.Empty(t, status.Drifted)
		assert.False(t, status.Consistent())

		res, err := rec.Reconstruct(ctx, ledger.ReconstructOptions{GroupID: "grp_g"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Mismatched)
		assert.Equal(t, map[string]string{"bob->alice": "100.00"}, pendingAmounts(t, store, "grp_g"))

		res, err = rec.Reconstruct(ctx, ledger.ReconstructOptions{GroupID: "grp_g", Reset: true})
		require.NoError(t, err)
		assert.Zero(t, res.Mismatched)
		assert.Equal(t, map[string]string{"bob->alice": "60.00"}, pendingAmounts(t, store, "grp_g"))

		status, err = rec.Status(ctx)
		require.NoError(t, err)
		assert.True(t, status.Consistent())
	})
}

func TestStatusReportsOrphanedJournal(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := ledger.NewReconciler(store)

	e := expense("grp_g", "alice", "30", split("bob", "30"))
	_, err := rec.Apply(ctx, e)
	require.NoError(t, err)

	status, err := rec.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{e.ID}, status.Mismatched)
}
