package ledger_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/storage/memory"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
)

// eachStore runs fn against a fresh memory store and a fresh SQLite store.
func eachStore(t *testing.T, fn func(t *testing.T, store storage.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, memory.New())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func split(user, amount string) models.Split {
	return models.Split{UserID: user, Amount: dec(amount)}
}

func expense(groupID, paidBy, amount string, splits ...models.Split) *models.Expense {
	return &models.Expense{
		ID:       id.NewExpense(),
		Title:    "Dinner",
		Amount:   dec(amount),
		Category: models.DefaultCategory,
		GroupID:  groupID,
		PaidBy:   paidBy,
		Date:     time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC),
		Splits:   splits,
	}
}

func createGroup(t *testing.T, store storage.Store, name string) string {
	t.Helper()
	g := &models.Group{ID: id.NewGroup(), Name: name, Active: true, TotalExpenses: decimal.Zero}
	require.NoError(t, store.CreateGroup(context.Background(), g))
	return g.ID
}

// pendingAmounts maps "from->to" to the pending amount for every pending settlement in the group.
func pendingAmounts(t *testing.T, store storage.Store, groupID string) map[string]string {
	t.Helper()
	list, err := store.ListSettlements(context.Background(), storage.SettlementFilter{
		GroupID: groupID,
		Status:  models.StatusPending,
	})
	require.NoError(t, err)

	out := make(map[string]string, len(list))
	for _, st := range list {
		key := st.FromUserID + "->" + st.ToUserID
		_, dup := out[key]
		require.False(t, dup, "duplicate pending settlement for %s", key)
		out[key] = st.Amount.StringFixed(2)
	}
	return out
}

func groupTotal(t *testing.T, store storage.Store, groupID string) string {
	t.Helper()
	g, err := store.GetGroup(context.Background(), groupID)
	require.NoError(t, err)
	return g.TotalExpenses.StringFixed(2)
}
