package service

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/ledger"
)

func TestAdminRequiresAdminSession(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.admin.LedgerStatus(ctx, as("alice", &api.LedgerStatusRequest{}))
	requireCode(t, err, connect.CodePermissionDenied)

	_, err = env.admin.ReconstructSettlements(ctx, as("", &api.ReconstructSettlementsRequest{}))
	requireCode(t, err, connect.CodeUnauthenticated)
}

func TestReconstructRepairsDrift(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	group := env.createGroup(t, "alice", "bob", "carol")
	env.createEqualExpense(t, group.ID, "alice", "300", "alice", "bob", "carol")

	st := env.settlementBetween(t, group.ID, "bob", "alice")
	st.Amount = dec("999")
	require.NoError(t, env.store.UpdateSettlement(ctx, st))

	status, err := env.admin.LedgerStatus(ctx, asAdmin("ops", &api.LedgerStatusRequest{}))
	require.NoError(t, err)
	assert.Equal(t, []string{st.ID}, status.Msg.Status.Drifted)

	// Without a reset the journal already covers the expense, so nothing moves.
	resp, err := env.admin.ReconstructSettlements(ctx, asAdmin("ops", &api.ReconstructSettlementsRequest{GroupID: group.ID}))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReconstructResult{Expenses: 1, Skipped: 2}, resp.Msg.Result)

	resp, err = env.admin.ReconstructSettlements(ctx, asAdmin("ops", &api.ReconstructSettlementsRequest{
		GroupID: group.ID,
		Reset:   true,
	}))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReconstructResult{
		Expenses:           1,
		Created:            2,
		ClearedSettlements: 2,
		ClearedLines:       2,
	}, resp.Msg.Result)

	assert.Equal(t, map[string]string{
		"bob->alice":   "100.00",
		"carol->alice": "100.00",
	}, env.pending(t, "alice", group.ID))

	status, err = env.admin.LedgerStatus(ctx, asAdmin("ops", &api.LedgerStatusRequest{}))
	require.NoError(t, err)
	assert.Equal(t, ledger.Status{
		Expenses:           1,
		Groups:             1,
		PendingSettlements: 2,
		JournalLines:       2,
		UnsettledLines:     2,
	}, status.Msg.Status)
}
