package service

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/models"
)

func TestMarkSettlementPaid(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	group := env.createGroup(t, "alice", "bob", "carol")
	env.createEqualExpense(t, group.ID, "alice", "300", "alice", "bob", "carol")
	st := env.settlementBetween(t, group.ID, "bob", "alice")

	resp, err := env.settlements.MarkSettlementPaid(ctx, as("bob", &api.MarkSettlementPaidRequest{
		SettlementID:     st.ID,
		PaymentMethod:    "cash",
		Notes:            "paid at the airport",
		ProofContentType: "image/png",
		ProofData:        []byte("\x89PNG fake"),
	}))
	require.NoError(t, err)

	paid := resp.Msg.Settlement
	assert.Equal(t, models.StatusCompleted, paid.Status)
	assert.Equal(t, "CASH", paid.PaymentMethod)
	assert.Equal(t, "paid at the airport", paid.Notes)
	assert.Equal(t, "proofs/"+st.ID+"/receipt", paid.Proof)
	assert.True(t, env.proofs.has(paid.Proof))

	got, err := env.settlements.GetSettlement(ctx, as("alice", &api.GetSettlementRequest{SettlementID: st.ID}))
	require.NoError(t, err)
	assert.Equal(t, "https://proofs.test/"+paid.Proof+"?sig=1", got.Msg.ProofURL)

	_, err = env.settlements.MarkSettlementPaid(ctx, as("bob", &api.MarkSettlementPaidRequest{SettlementID: st.ID}))
	requireCode(t, err, connect.CodeFailedPrecondition)

	// New debt opens a fresh pending settlement next to the paid one.
	env.createEqualExpense(t, group.ID, "alice", "30", "alice", "bob", "carol")
	assert.Equal(t, map[string]string{
		"bob->alice":   "10.00",
		"carol->alice": "110.00",
	}, env.pending(t, "alice", group.ID))
}

func TestMarkSettlementPaidUploadTimeout(t *testing.T) {
	slowUpload := func(upload time.Duration) func(*envOptions) {
		return func(o *envOptions) {
			o.proofDelay = 100 * time.Millisecond
			o.settlementOpts = []SettlementOption{WithLedgerTimeout(20 * time.Millisecond), WithUploadTimeout(upload)}
		}
	}
	req := func(settlementID string) *connect.Request[api.MarkSettlementPaidRequest] {
		return as("bob", &api.MarkSettlementPaidRequest{
			SettlementID:     settlementID,
			ProofContentType: "image/png",
			ProofData:        []byte("\x89PNG fake"),
		})
	}

	t.Run("upload outlasts ledger timeout", func(t *testing.T) {
		env := setupTestServer(t, slowUpload(time.Second))
		group := env.createGroup(t, "alice", "bob")
		env.createEqualExpense(t, group.ID, "alice", "50", "alice", "bob")
		st := env.settlementBetween(t, group.ID, "bob", "alice")

		resp, err := env.settlements.MarkSettlementPaid(context.Background(), req(st.ID))
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, resp.Msg.Settlement.Status)
		assert.True(t, env.proofs.has(resp.Msg.Settlement.Proof))
	})

	t.Run("upload timeout", func(t *testing.T) {
		env := setupTestServer(t, slowUpload(30*time.Millisecond))
		group := env.createGroup(t, "alice", "bob")
		env.createEqualExpense(t, group.ID, "alice", "50", "alice", "bob")
		st := env.settlementBetween(t, group.ID, "bob", "alice")

		_, err := env.settlements.MarkSettlementPaid(context.Background(), req(st.ID))
		requireCode(t, err, connect.CodeDeadlineExceeded)
		assert.Equal(t, map[string]string{"bob->alice": "25.00"}, env.pending(t, "alice", group.ID))
	})
}

func TestMarkSettlementPaidPermissions(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	group := env.createGroup(t, "alice", "bob", "carol")
	env.createEqualExpense(t, group.ID, "alice", "300", "alice", "bob", "carol")
	st := env.settlementBetween(t, group.ID, "bob", "alice")

	_, err := env.settlements.MarkSettlementPaid(ctx, as("carol", &api.MarkSettlementPaidRequest{SettlementID: st.ID}))
	requireCode(t, err, connect.CodePermissionDenied)

	_, err = env.settlements.MarkSettlementPaid(ctx, as("", &api.MarkSettlementPaidRequest{SettlementID: st.ID}))
	requireCode(t, err, connect.CodeUnauthenticated)

	_, err = env.settlements.MarkSettlementPaid(ctx, as("bob", &api.MarkSettlementPaidRequest{SettlementID: id.NewSettlement()}))
	requireCode(t, err, connect.CodeNotFound)

	_, err = env.settlements.MarkSettlementPaid(ctx, as("bob", &api.MarkSettlementPaidRequest{SettlementID: "stl_missing"}))
	requireCode(t, err, connect.CodeInvalidArgument)

	// The creditor may confirm a payment received, and so may an admin session.
	_, err = env.settlements.MarkSettlementPaid(ctx, as("alice", &api.MarkSettlementPaidRequest{SettlementID: st.ID}))
	require.NoError(t, err)

	other := env.settlementBetween(t, group.ID, "carol", "alice")
	_, err = env.settlements.MarkSettlementPaid(ctx, asAdmin("ops", &api.MarkSettlementPaidRequest{SettlementID: other.ID}))
	require.NoError(t, err)
	assert.Empty(t, env.pending(t, "alice", group.ID))
}

func TestMarkSettlementPaidProofRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported content type", func(t *testing.T) {
		env := setupTestServer(t)
		group := env.createGroup(t, "alice", "bob")
		env.createEqualExpense(t, group.ID, "alice", "20", "alice", "bob")
		st := env.settlementBetween(t, group.ID, "bob", "alice")

		_, err := env.settlements.MarkSettlementPaid(ctx, as("bob", &api.MarkSettlementPaidRequest{
			SettlementID:     st.ID,
			ProofContentType: "text/html",
			ProofData:        []byte("<html>"),
		}))
		requireCode(t, err, connect.CodeInvalidArgument)
		assert.Equal(t, map[string]string{"bob->alice": "10.00"}, env.pending(t, "alice", group.ID))
	})

	t.Run("uploads disabled", func(t *testing.T) {
		env := setupTestServer(t, withoutProofs)
		group := env.createGroup(t, "alice", "bob")
		env.createEqualExpense(t, group.ID, "alice", "20", "alice", "bob")
		st := env.settlementBetween(t, group.ID, "bob", "alice")

		_, err := env.settlements.MarkSettlementPaid(ctx, as("bob", &api.MarkSettlementPaidRequest{
			SettlementID:     st.ID,
			ProofContentType: "image/png",
			ProofData:        []byte("png"),
		}))
		requireCode(t, err, connect.CodeFailedPrecondition)

		// A plain reference is still accepted.
		resp, err := env.settlements.MarkSettlementPaid(ctx, as("bob", &api.MarkSettlementPaidRequest{
			SettlementID: st.ID,
			Proof:        "upi:txn-4411",
		}))
		require.NoError(t, err)
		assert.Equal(t, "upi:txn-4411", resp.Msg.Settlement.Proof)

		got, err := env.settlements.GetSettlement(ctx, as("bob", &api.GetSettlementRequest{SettlementID: st.ID}))
		require.NoError(t, err)
		assert.Empty(t, got.Msg.ProofURL)
	})
}

func TestGetSettlementAccess(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	group := env.createGroup(t, "alice", "bob", "carol")
	env.createEqualExpense(t, group.ID, "alice", "300", "alice", "bob", "carol")
	st := env.settlementBetween(t, group.ID, "bob", "alice")

	for _, caller := range []string{"alice", "bob", "carol"} {
		resp, err := env.settlements.GetSettlement(ctx, as(caller, &api.GetSettlementRequest{SettlementID: st.ID}))
		require.NoError(t, err, caller)
		assert.True(t, resp.Msg.Settlement.Amount.Equal(dec("100")))
	}

	_, err := env.settlements.GetSettlement(ctx, as("mallory", &api.GetSettlementRequest{SettlementID: st.ID}))
	requireCode(t, err, connect.CodePermissionDenied)

	_, err = env.settlements.GetSettlement(ctx, asAdmin("ops", &api.GetSettlementRequest{SettlementID: st.ID}))
	require.NoError(t, err)

	_, err = env.settlements.GetSettlement(ctx, as("alice", &api.GetSettlementRequest{}))
	requireCode(t, err, connect.CodeInvalidArgument)
}

func TestListSettlements(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	trip := env.createGroup(t, "alice", "bob", "carol")
	flat := env.createGroup(t, "bob", "dave")
	env.createEqualExpense(t, trip.ID, "alice", "300", "alice", "bob", "carol")
	env.createEqualExpense(t, flat.ID, "dave", "50", "bob", "dave")

	mine, err := env.settlements.ListUserSettlements(ctx, as("bob", &api.ListUserSettlementsRequest{}))
	require.NoError(t, err)
	require.Len(t, mine.Msg.Settlements, 2)
	for _, s := range mine.Msg.Settlements {
		assert.Equal(t, "bob", s.FromUserID)
	}

	_, err = env.settlements.ListUserSettlements(ctx, as("carol", &api.ListUserSettlementsRequest{UserID: "bob"}))
	requireCode(t, err, connect.CodePermissionDenied)

	theirs, err := env.settlements.ListUserSettlements(ctx, asAdmin("ops", &api.ListUserSettlementsRequest{UserID: "bob"}))
	require.NoError(t, err)
	assert.Len(t, theirs.Msg.Settlements, 2)

	st := env.settlementBetween(t, flat.ID, "bob", "dave")
	_, err = env.settlements.MarkSettlementPaid(ctx, as("bob", &api.MarkSettlementPaidRequest{SettlementID: st.ID}))
	require.NoError(t, err)

	completed, err := env.settlements.ListUserSettlements(ctx, as("bob", &api.ListUserSettlementsRequest{Status: "completed"}))
	require.NoError(t, err)
	require.Len(t, completed.Msg.Settlements, 1)
	assert.Equal(t, st.ID, completed.Msg.Settlements[0].ID)

	_, err = env.settlements.ListUserSettlements(ctx, as("bob", &api.ListUserSettlementsRequest{Status: "overdue"}))
	requireCode(t, err, connect.CodeInvalidArgument)

	group, err := env.settlements.ListGroupSettlements(ctx, as("carol", &api.ListGroupSettlementsRequest{GroupID: trip.ID}))
	require.NoError(t, err)
	assert.Len(t, group.Msg.Settlements, 2)

	_, err = env.settlements.ListGroupSettlements(ctx, as("carol", &api.ListGroupSettlementsRequest{GroupID: flat.ID}))
	requireCode(t, err, connect.CodePermissionDenied)
}

func TestDeleteSettlement(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	group := env.createGroup(t, "alice", "bob", "carol")
	env.createEqualExpense(t, group.ID, "bob", "90", "alice", "bob", "carol")
	owedToBob := env.settlementBetween(t, group.ID, "carol", "bob")

	// A member who is neither party nor group admin may not delete.
	other := env.settlementBetween(t, group.ID, "alice", "bob")
	_, err := env.settlements.DeleteSettlement(ctx, as("carol", &api.DeleteSettlementRequest{SettlementID: other.ID}))
	requireCode(t, err, connect.CodePermissionDenied)

	// alice created the group and is its admin.
	resp, err := env.settlements.DeleteSettlement(ctx, as("alice", &api.DeleteSettlementRequest{SettlementID: owedToBob.ID}))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Msg.RemovedLines)
	assert.Equal(t, map[string]string{"alice->bob": "30.00"}, env.pending(t, "alice", group.ID))

	_, err = env.settlements.DeleteSettlement(ctx, as("alice", &api.DeleteSettlementRequest{SettlementID: owedToBob.ID}))
	requireCode(t, err, connect.CodeNotFound)

	// The remaining settlement still matches its journal.
	status, err := env.admin.LedgerStatus(ctx, asAdmin("ops", &api.LedgerStatusRequest{}))
	require.NoError(t, err)
	assert.Equal(t, 1, status.Msg.Status.PendingSettlements)
	assert.Empty(t, status.Msg.Status.Drifted)
}
