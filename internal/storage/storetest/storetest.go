// Package storetest is a conformance suite run against every storage.Store implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Factory returns an empty store. The suite closes it when the subtest ends.
type Factory func(t *testing.T) storage.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"ExpenseRoundTrip", testExpenseRoundTrip},
		{"ExpenseNotFound", testExpenseNotFound},
		{"ExpenseUpdateReplacesSplits", testExpenseUpdate},
		{"ExpenseCompareAndSwap", testExpenseCAS},
		{"ListExpensesByGroupNewestFirst", testListExpenses},
		{"GroupRoundTrip", testGroupRoundTrip},
		{"GroupUpdateKeepsMembersAndTotal", testGroupUpdate},
		{"AdjustGroupTotal", testAdjustGroupTotal},
		{"AdjustGroupTotalConcurrent", testAdjustGroupTotalConcurrent},
		{"SettlementSinglePendingPerKey", testSinglePendingPerKey},
		{"SettlementCompareAndSwap", testSettlementCAS},
		{"SettlementDeleteCompareAndSwap", testSettlementDelete},
		{"ListSettlementsFilters", testListSettlements},
		{"JournalLines", testJournalLines},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func newExpense(groupID, paidBy, amount string, date time.Time, splits ...models.Split) *models.Expense {
	return &models.Expense{
		ID:       id.NewExpense(),
		Title:    "Dinner",
		Amount:   dec(amount),
		Category: models.DefaultCategory,
		GroupID:  groupID,
		PaidBy:   paidBy,
		Date:     date,
		Splits:   splits,
	}
}

func split(user, amount string) models.Split {
	return models.Split{UserID: user, Amount: dec(amount)}
}

func pendingSettlement(groupID, from, to, amount string) *models.Settlement {
	return &models.Settlement{
		ID:            id.NewSettlement(),
		GroupID:       groupID,
		FromUserID:    from,
		ToUserID:      to,
		Amount:        dec(amount),
		PaymentMethod: models.DefaultPaymentMethod,
		Status:        models.StatusPending,
		Active:        true,
	}
}

func testExpenseRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	date := time.Date(2025, 3, 14, 19, 30, 0, 0, time.UTC)
	e := newExpense("grp_1", "alice", "300.50", date, split("alice", "100.50"), split("bob", "100"), split("carol", "100"))
	e.Description = "Thalis"
	e.Notes = "birthday"

	require.NoError(t, s.CreateExpense(ctx, e))
	assert.ErrorIs(t, s.CreateExpense(ctx, e), storage.ErrAlreadyExists)

	got, err := s.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "Dinner", got.Title)
	assert.Equal(t, "Thalis", got.Description)
	assert.Equal(t, "birthday", got.Notes)
	assert.Equal(t, models.DefaultCategory, got.Category)
	assert.Equal(t, "grp_1", got.GroupID)
	assert.Equal(t, "alice", got.PaidBy)
	assertDecimal(t, "300.50", got.Amount)
	assert.True(t, date.Equal(got.Date), "date %s", got.Date)
	assert.False(t, got.CreatedAt.IsZero())

	require.Len(t, got.Splits, 3)
	assert.Equal(t, "alice", got.Splits[0].UserID)
	assertDecimal(t, "100.50", got.Splits[0].Amount)
	assert.Equal(t, "bob", got.Splits[1].UserID)
	assert.Equal(t, "carol", got.Splits[2].UserID)
}

func testExpenseNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.GetExpense(ctx, "exp_missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	missing := newExpense("grp_1", "alice", "1", time.Now())
	missing.Version = 1
	assert.ErrorIs(t, s.UpdateExpense(ctx, missing), storage.ErrNotFound)

	assert.ErrorIs(t, s.DeleteExpense(ctx, "exp_missing"), storage.ErrNotFound)
}

func testExpenseUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := newExpense("grp_1", "alice", "60", time.Now(), split("bob", "30"), split("carol", "30"))
	require.NoError(t, s.CreateExpense(ctx, e))

	e.Amount = dec("90")
	e.Title = "Taxi"
	e.Splits = []models.Split{split("bob", "90")}
	require.NoError(t, s.UpdateExpense(ctx, e))

	got, err := s.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Taxi", got.Title)
	assertDecimal(t, "90", got.Amount)
	require.Len(t, got.Splits, 1)
	assert.Equal(t, "bob", got.Splits[0].UserID)

	require.NoError(t, s.DeleteExpense(ctx, e.ID))
	_, err = s.GetExpense(ctx, e.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testExpenseCAS(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := newExpense("grp_1", "alice", "300", time.Now(), split("bob", "150"), split("carol", "150"))
	require.NoError(t, s.CreateExpense(ctx, e))
	assert.Equal(t, int64(1), e.Version)

	a, err := s.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	b, err := s.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Version)

	a.Amount = dec("400")
	a.Splits = []models.Split{split("bob", "200"), split("carol", "200")}
	require.NoError(t, s.UpdateExpense(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Amount = dec("500")
	b.Splits = []models.Split{split("bob", "50"), split("carol", "450")}
	assert.ErrorIs(t, s.UpdateExpense(ctx, b), storage.ErrConflict)

	got, err := s.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assertDecimal(t, "400", got.Amount)
	assert.Equal(t, int64(2), got.Version)
	require.Len(t, got.Splits, 2)
	assertDecimal(t, "200", got.Splits[0].Amount)
}

func testListExpenses(t *testing.T, s storage.Store) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	oldest := newExpense("grp_a", "alice", "10", base, split("bob", "10"))
	newest := newExpense("grp_a", "alice", "20", base.Add(48*time.Hour), split("bob", "20"))
	middle := newExpense("grp_a", "bob", "30", base.Add(24*time.Hour), split("alice", "30"))
	other := newExpense("grp_b", "carol", "40", base, split("dave", "40"))
	for _, e := range []*models.Expense{oldest, newest, middle, other} {
		require.NoError(t, s.CreateExpense(ctx, e))
	}

	got, err := s.ListExpenses(ctx, "grp_a")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, newest.ID, got[0].ID)
	assert.Equal(t, middle.ID, got[1].ID)
	assert.Equal(t, oldest.ID, got[2].ID)
	require.Len(t, got[0].Splits, 1)

	all, err := s.ListExpenses(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.ListExpenses(ctx, "grp_none")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testGroupRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	g := &models.Group{
		ID:            id.NewGroup(),
		Name:          "Goa Trip",
		Description:   "beach week",
		Category:      "TRIP",
		CreatedBy:     "alice",
		Active:        true,
		TotalExpenses: decimal.Zero,
		Members: []models.Member{
			{UserID: "alice", Name: "Alice", Role: models.RoleAdmin},
			{UserID: "bob", Name: "Bob", Role: models.RoleMember},
		},
	}
	require.NoError(t, s.CreateGroup(ctx, g))
	assert.ErrorIs(t, s.CreateGroup(ctx, g), storage.ErrAlreadyExists)

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Goa Trip", got.Name)
	assert.Equal(t, "TRIP", got.Category)
	assert.True(t, got.Active)
	assertDecimal(t, "0", got.TotalExpenses)
	require.Len(t, got.Members, 2)
	assert.Equal(t, "alice", got.Members[0].UserID)
	assert.Equal(t, models.RoleAdmin, got.Members[0].Role)
	assert.True(t, got.HasMember("bob"))

	_, err = s.GetGroup(ctx, "grp_missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	other := &models.Group{ID: id.NewGroup(), Name: "Flat 4B", TotalExpenses: decimal.Zero}
	require.NoError(t, s.CreateGroup(ctx, other))

	listed, err := s.ListGroups(ctx, g.ID, "grp_missing")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, g.ID, listed[0].ID)

	all, err := s.ListGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testGroupUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	g := &models.Group{
		ID:            id.NewGroup(),
		Name:          "Flat",
		Category:      "HOME",
		TotalExpenses: decimal.Zero,
		Members:       []models.Member{{UserID: "alice", Role: models.RoleAdmin}},
	}
	require.NoError(t, s.CreateGroup(ctx, g))
	_, err := s.AdjustGroupTotal(ctx, g.ID, dec("75"))
	require.NoError(t, err)

	edit := &models.Group{ID: g.ID, Name: "Flat 4B", Description: "rent and bills", Category: "UTILITIES"}
	require.NoError(t, s.UpdateGroup(ctx, edit))

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Flat 4B", got.Name)
	assert.Equal(t, "rent and bills", got.Description)
	assert.Equal(t, "UTILITIES", got.Category)
	assertDecimal(t, "75", got.TotalExpenses)
	assert.True(t, got.HasMember("alice"))

	assert.ErrorIs(t, s.UpdateGroup(ctx, &models.Group{ID: "grp_missing", Name: "x"}), storage.ErrNotFound)
}

func testAdjustGroupTotal(t *testing.T, s storage.Store) {
	ctx := context.Background()
	g := &models.Group{ID: id.NewGroup(), Name: "Flat", TotalExpenses: decimal.Zero}
	require.NoError(t, s.CreateGroup(ctx, g))

	total, err := s.AdjustGroupTotal(ctx, g.ID, dec("300"))
	require.NoError(t, err)
	assertDecimal(t, "300", total)

	total, err = s.AdjustGroupTotal(ctx, g.ID, dec("-120.25"))
	require.NoError(t, err)
	assertDecimal(t, "179.75", total)

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assertDecimal(t, "179.75", got.TotalExpenses)

	_, err = s.AdjustGroupTotal(ctx, "grp_missing", dec("1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testAdjustGroupTotalConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	g := &models.Group{ID: id.NewGroup(), Name: "Flat", TotalExpenses: decimal.Zero}
	require.NoError(t, s.CreateGroup(ctx, g))

	const workers = 20
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AdjustGroupTotal(ctx, g.ID, dec("1.5"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assertDecimal(t, "30", got.TotalExpenses)
}

func testSinglePendingPerKey(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := pendingSettlement("grp_1", "bob", "alice", "100")
	require.NoError(t, s.CreateSettlement(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	dup := pendingSettlement("grp_1", "bob", "alice", "5")
	assert.ErrorIs(t, s.CreateSettlement(ctx, dup), storage.ErrAlreadyExists)

	// the opposite direction and other groups are independent keys
	require.NoError(t, s.CreateSettlement(ctx, pendingSettlement("grp_1", "alice", "bob", "5")))
	require.NoError(t, s.CreateSettlement(ctx, pendingSettlement("grp_2", "bob", "alice", "5")))

	found, err := s.FindPendingSettlement(ctx, models.SettlementKey{GroupID: "grp_1", From: "bob", To: "alice"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assertDecimal(t, "100", found.Amount)
	assert.Equal(t, models.DefaultPaymentMethod, found.PaymentMethod)

	found.Status = models.StatusCompleted
	require.NoError(t, s.UpdateSettlement(ctx, found))

	_, err = s.FindPendingSettlement(ctx, first.Key())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// once completed, a new pending debt may open for the same key
	require.NoError(t, s.CreateSettlement(ctx, dup))
	found, err = s.FindPendingSettlement(ctx, first.Key())
	require.NoError(t, err)
	assert.Equal(t, dup.ID, found.ID)
}

func testSettlementCAS(t *testing.T, s storage.Store) {
	ctx := context.Background()
	st := pendingSettlement("grp_1", "bob", "alice", "100")
	require.NoError(t, s.CreateSettlement(ctx, st))

	a, err := s.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	b, err := s.GetSettlement(ctx, st.ID)
	require.NoError(t, err)

	a.Amount = a.Amount.Add(dec("30"))
	require.NoError(t, s.UpdateSettlement(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Amount = b.Amount.Add(dec("60"))
	assert.ErrorIs(t, s.UpdateSettlement(ctx, b), storage.ErrConflict)

	got, err := s.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	assertDecimal(t, "130", got.Amount)
	assert.Equal(t, int64(2), got.Version)

	missing := pendingSettlement("grp_1", "x", "y", "1")
	missing.Version = 1
	assert.ErrorIs(t, s.UpdateSettlement(ctx, missing), storage.ErrNotFound)

	_, err = s.GetSettlement(ctx, "stl_missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testSettlementDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	st := pendingSettlement("grp_1", "bob", "alice", "100")
	require.NoError(t, s.CreateSettlement(ctx, st))

	assert.ErrorIs(t, s.DeleteSettlement(ctx, st.ID, st.Version+1), storage.ErrConflict)
	require.NoError(t, s.DeleteSettlement(ctx, st.ID, st.Version))
	assert.ErrorIs(t, s.DeleteSettlement(ctx, st.ID, st.Version), storage.ErrNotFound)

	_, err := s.FindPendingSettlement(ctx, st.Key())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.CreateSettlement(ctx, pendingSettlement("grp_1", "bob", "alice", "1")))
}

func testListSettlements(t *testing.T, s storage.Store) {
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	s1 := pendingSettlement("grp_1", "bob", "alice", "10")
	s1.Date = base
	s2 := pendingSettlement("grp_1", "alice", "carol", "20")
	s2.Date = base.Add(time.Hour)
	s3 := pendingSettlement("grp_2", "dave", "alice", "30")
	s3.Date = base.Add(2 * time.Hour)
	s3.Status = models.StatusCompleted
	s4 := pendingSettlement("grp_2", "bob", "carol", "40")
	s4.Date = base.Add(3 * time.Hour)
	for _, st := range []*models.Settlement{s1, s2, s3, s4} {
		require.NoError(t, s.CreateSettlement(ctx, st))
	}

	ids := func(list []*models.Settlement) []string {
		out := make([]string, len(list))
		for i, st := range list {
			out[i] = st.ID
		}
		return out
	}

	got, err := s.ListSettlements(ctx, storage.SettlementFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{s3.ID, s2.ID, s1.ID}, ids(got))

	got, err = s.ListSettlements(ctx, storage.SettlementFilter{GroupID: "grp_2"})
	require.NoError(t, err)
	assert.Equal(t, []string{s4.ID, s3.ID}, ids(got))

	got, err = s.ListSettlements(ctx, storage.SettlementFilter{UserID: "alice", Status: models.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, []string{s2.ID, s1.ID}, ids(got))

	got, err = s.ListSettlements(ctx, storage.SettlementFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func testJournalLines(t *testing.T, s storage.Store) {
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

	l1 := &models.JournalLine{ID: "jrn_1", ExpenseID: "exp_1", GroupID: "grp_1", From: "bob", To: "alice", Amount: dec("100"), SettlementID: "stl_1", CreatedAt: base}
	l2 := &models.JournalLine{ID: "jrn_2", ExpenseID: "exp_1", GroupID: "grp_1", From: "carol", To: "alice", Amount: dec("100"), SettlementID: "stl_2", CreatedAt: base.Add(time.Second)}
	l3 := &models.JournalLine{ID: "jrn_3", ExpenseID: "exp_2", GroupID: "grp_1", From: "bob", To: "alice", Amount: dec("30"), SettlementID: "stl_1", CreatedAt: base.Add(2 * time.Second)}
	for _, l := range []*models.JournalLine{l1, l2, l3} {
		require.NoError(t, s.AppendJournalLine(ctx, l))
	}
	assert.ErrorIs(t, s.AppendJournalLine(ctx, l1), storage.ErrAlreadyExists)

	got, err := s.GetJournalLine(ctx, "jrn_2")
	require.NoError(t, err)
	assert.Equal(t, "carol", got.From)
	assertDecimal(t, "100", got.Amount)
	assert.False(t, got.Settled)

	lines, err := s.ListJournalLines(ctx, storage.JournalFilter{ExpenseID: "exp_1"})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "jrn_1", lines[0].ID)
	assert.Equal(t, "jrn_2", lines[1].ID)

	n, err := s.SettleJournalLines(ctx, "stl_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.SettleJournalLines(ctx, "stl_1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	unsettled, err := s.ListJournalLines(ctx, storage.JournalFilter{GroupID: "grp_1", UnsettledOnly: true})
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, "jrn_2", unsettled[0].ID)

	bySettlement, err := s.ListJournalLines(ctx, storage.JournalFilter{SettlementID: "stl_1"})
	require.NoError(t, err)
	require.Len(t, bySettlement, 2)
	assert.True(t, bySettlement[0].Settled)

	require.NoError(t, s.DeleteJournalLine(ctx, "jrn_1"))
	assert.ErrorIs(t, s.DeleteJournalLine(ctx, "jrn_1"), storage.ErrNotFound)
	_, err = s.GetJournalLine(ctx, "jrn_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
