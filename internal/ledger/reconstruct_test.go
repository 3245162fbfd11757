package ledger_test

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/storage/memory"
)

func history() []*models.Expense {
	return []*models.Expense{
		expense("grp_trip", "alice", "300", split("alice", "100"), split("bob", "100"), split("carol", "100")),
		expense("grp_trip", "bob", "90", split("alice", "30"), split("bob", "30"), split("carol", "30")),
		expense("grp_trip", "alice", "60", split("bob", "30"), split("carol", "30")),
		expense("grp_trip", "carol", "12.34", split("alice", "6.17"), split("bob", "6.17")),
		expense("grp_flat", "dave", "1000", split("dave", "500"), split("alice", "500")),
	}
}

func TestReconstructIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	expenses := history()

	reference := memory.New()
	for _, e := range expenses {
		require.NoError(t, reference.CreateExpense(ctx, e))
	}
	res, err := ledger.NewReconciler(reference).Reconstruct(ctx, ledger.ReconstructOptions{})
	require.NoError(t, err)
	assert.Equal(t, len(expenses), res.Expenses)
	assert.Zero(t, res.Skipped)

	want := map[string]map[string]string{
		"grp_trip": pendingAmounts(t, reference, "grp_trip"),
		"grp_flat": pendingAmounts(t, reference, "grp_flat"),
	}
	assert.Equal(t, map[string]string{
		"bob->alice":   "130.00",
		"carol->alice": "130.00",
		"alice->bob":   "30.00",
		"carol->bob":   "30.00",
		"alice->carol": "6.17",
		"bob->carol":   "6.17",
	}, want["grp_trip"])

	rng := rand.New(rand.NewPCG(7, 11))
	for range 5 {
		order := append([]*models.Expense(nil), expenses...)
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		store := memory.New()
		rec := ledger.NewReconciler(store)
		for _, e := range order {
			_, err := rec.Apply(ctx, e)
			require.NoError(t, err)
		}
		assert.Equal(t, want["grp_trip"], pendingAmounts(t, store, "grp_trip"))
		assert.Equal(t, want["grp_flat"], pendingAmounts(t, store, "grp_flat"))
	}
}

func TestReconstructDoesNotDoubleCount(t *testing.T) {
	eachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		rec := ledger.NewReconciler(store)
		expenses := history()

		// Half of the history was already applied live.
		for i, e := range expenses {
			require.NoError(t, store.CreateExpense(ctx, e))
			if i%2 == 0 {
				_, err := rec.Apply(ctx, e)
				require.NoError(t, err)
			}
		}

		res, err := rec.Reconstruct(ctx, ledger.ReconstructOptions{})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Expenses)
		assert.Positive(t, res.Skipped)
		before := pendingAmounts(t, store, "grp_trip")
		assert.Equal(t, "130.00", before["bob->alice"])

		res, err = rec.Reconstruct(ctx, ledger.ReconstructOptions{})
		require.NoError(t, err)
		assert.Zero(t, res.Created)
		assert.Zero(t, res.Updated)
		assert.Equal(t, before, pendingAmounts(t, store, "grp_trip"))
	})
}

func TestReconstructScopedToGroup(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for _, e := range history() {
		require.NoError(t, store.CreateExpense(ctx, e))
	}

	res, err := ledger.NewReconciler(store).Reconstruct(ctx, ledger.ReconstructOptions{GroupID: "grp_flat"})
	require.NoError(t, err)
	assert.Equal(t, ledger.ReconstructResult{Expenses: 1, Created: 1}, res)
	assert.Equal(t, map[string]string{"alice->dave": "500.00"}, pendingAmounts(t, store, "grp_flat"))
	assert.Empty(t, pendingAmounts(t, store, "grp_trip"))
}

func TestReconstructResetRepairsDrift(t *testing.T) {
	eachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		rec := ledger.NewReconciler(store)
		for _, e := range history() {
			require.NoError(t, store.CreateExpense(ctx, e))
			_, err := rec.Apply(ctx, e)
			require.NoError(t, err)
		}
		want := pendingAmounts(t, store, "grp_trip")

		// Corrupt one settlement the way a lost update would.
		st, err := store.FindPendingSettlement(ctx, models.SettlementKey{GroupID: "grp_trip", From: "bob", To: "alice"})
		require.NoError(t, err)
		st.Amount = dec("999")
		require.NoError(t, store.UpdateSettlement(ctx, st))

		status, err := rec.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{st.ID}, status.Drifted)

		res, err := rec.Reconstruct(ctx, ledger.ReconstructOptions{GroupID: "grp_trip", Reset: true})
		require.NoError(t, err)
		assert.Equal(t, 6, res.ClearedSettlements)
		assert.Equal(t, 8, res.ClearedLines)
		assert.Equal(t, 6, res.Created)
		assert.Equal(t, want, pendingAmounts(t, store, "grp_trip"))
		assert.Equal(t, map[string]string{"alice->dave": "500.00"}, pendingAmounts(t, store, "grp_flat"))

		status, err = rec.Status(ctx)
		require.NoError(t, err)
		assert.Empty(t, status.Drifted)
	})
}

func TestReconstructResetKeepsPaidDebt(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rec := ledger.NewReconciler(store)

	paidOff := expense("grp_g", "alice", "50", split("bob", "50"))
	open := expense("grp_g", "alice", "20", split("bob", "20"))

	require.NoError(t, store.CreateExpense(ctx, paidOff))
	_, err := rec.Apply(ctx, paidOff)
	require.NoError(t, err)
	st, err := store.FindPendingSettlement(ctx, models.SettlementKey{GroupID: "grp_g", From: "bob", To: "alice"})
	require.NoError(t, err)
	_, err = rec.MarkPaid(ctx, st.ID, ledger.Payment{Method: "CASH"})
	require.NoError(t, err)

	require.NoError(t, store.CreateExpense(ctx, open))
	_, err = rec.Apply(ctx, open)
	require.NoError(t, err)

	res, err := rec.Reconstruct(ctx, ledger.ReconstructOptions{Reset: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ClearedSettlements)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, map[string]string{"bob->alice": "20.00"}, pendingAmounts(t, store, "grp_g"))

	completed, err := store.ListSettlements(ctx, storage.SettlementFilter{GroupID: "grp_g", Status: models.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "50.00", completed[0].Amount.StringFixed(2))
}

func TestReconstructCountsInvalidExpenses(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	bad := expense("grp_g", "alice", "10", split("bob", "10"))
	bad.Title = ""
	require.NoError(t, store.CreateExpense(ctx, bad))
	require.NoError(t, store.CreateExpense(ctx, expense("grp_g", "alice", "10", split("bob", "10"))))

	res, err := ledger.NewReconciler(store).Reconstruct(ctx, ledger.ReconstructOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Expenses)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, map[string]string{"bob->alice": "10.00"}, pendingAmounts(t, store, "grp_g"))
}

// Group settlement balances always net to zero, whatever the expense history.
func TestSettlementBalancesNetToZero(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rec := ledger.NewReconciler(store)
	members := []string{"alice", "bob", "carol", "dave"}
	rng := rand.New(rand.NewPCG(1, 2))

	for range 40 {
		amount := decimal.New(int64(100+rng.IntN(50000)), -2)
		splits, err := calculator.Equal(amount, members[:1+rng.IntN(len(members))])
		require.NoError(t, err)
		e := expense("grp_g", members[rng.IntN(len(members))], amount.String(), splits...)
		_, err = rec.Apply(ctx, e)
		require.NoError(t, err)
	}

	settlements, err := store.ListSettlements(ctx, storage.SettlementFilter{GroupID: "grp_g"})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, b := range calculator.GroupSettlementBalances(settlements, nil) {
		sum = sum.Add(b.Net)
		assert.True(t, b.Net.Equal(b.Owed.Sub(b.Owes)), "member %s", b.UserID)
	}
	assert.True(t, sum.IsZero(), "sum was %s", sum)
}
