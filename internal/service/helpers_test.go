package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/api/apiconnect"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/proof"
	"github.com/mmynk/splitledger/internal/storage/memory"
)

const (
	testUserHeader  = "X-Test-User"
	testAdminHeader = "X-Test-Admin"
)

// testAuthInterceptor trusts the test headers instead of a JWT.
func testAuthInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if userID := req.Header().Get(testUserHeader); userID != "" {
				admin, _ := strconv.ParseBool(req.Header().Get(testAdminHeader))
				ctx = middleware.WithUser(ctx, userID, admin)
			}
			return next(ctx, req)
		}
	}
}

// fakeProofs keeps uploads in memory. A non-zero delay makes every upload that slow.
type fakeProofs struct {
	mu      sync.Mutex
	objects map[string][]byte
	delay   time.Duration
}

func (f *fakeProofs) Put(ctx context.Context, settlementID, contentType string, data []byte) (string, error) {
	if err := proof.Check(contentType, data); err != nil {
		return "", err
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := "proofs/" + settlementID + "/receipt"
	f.objects[ref] = data
	return ref, nil
}

func (f *fakeProofs) has(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[ref]
	return ok
}

func (f *fakeProofs) URL(_ context.Context, ref string) (string, error) {
	return "https://proofs.test/" + ref + "?sig=1", nil
}

type testEnv struct {
	store  *memory.Store
	proofs *fakeProofs

	groups      *apiconnect.GroupServiceClient
	expenses    *apiconnect.ExpenseServiceClient
	settlements *apiconnect.SettlementServiceClient
	balances    *apiconnect.BalanceServiceClient
	admin       *apiconnect.AdminServiceClient
}

type envOptions struct {
	noProofs       bool
	proofDelay     time.Duration
	settlementOpts []SettlementOption
}

func setupTestServer(t *testing.T, opts ...func(*envOptions)) *testEnv {
	t.Helper()

	var o envOptions
	for _, opt := range opts {
		opt(&o)
	}

	store := memory.New()
	l := ledger.New(store)
	idem := idempotency.NewMemoryStore()

	env := &testEnv{store: store}
	var proofs proof.Store
	if !o.noProofs {
		env.proofs = &fakeProofs{objects: make(map[string][]byte), delay: o.proofDelay}
		proofs = env.proofs
	}

	interceptors := connect.WithInterceptors(testAuthInterceptor())
	mux := http.NewServeMux()
	mux.Handle(apiconnect.NewGroupServiceHandler(NewGroupService(store), interceptors))
	mux.Handle(apiconnect.NewExpenseServiceHandler(NewExpenseService(store, l, idem, time.Hour), interceptors))
	mux.Handle(apiconnect.NewSettlementServiceHandler(NewSettlementService(store, l, proofs, o.settlementOpts...), interceptors))
	mux.Handle(apiconnect.NewBalanceServiceHandler(NewBalanceService(store), interceptors))
	mux.Handle(apiconnect.NewAdminServiceHandler(NewAdminService(l), interceptors))

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		idem.Close()
		store.Close()
	})

	env.groups = apiconnect.NewGroupServiceClient(http.DefaultClient, server.URL)
	env.expenses = apiconnect.NewExpenseServiceClient(http.DefaultClient, server.URL)
	env.settlements = apiconnect.NewSettlementServiceClient(http.DefaultClient, server.URL)
	env.balances = apiconnect.NewBalanceServiceClient(http.DefaultClient, server.URL)
	env.admin = apiconnect.NewAdminServiceClient(http.DefaultClient, server.URL)
	return env
}

func withoutProofs(o *envOptions) { o.noProofs = true }

// as builds a request made by userID.
func as[T any](userID string, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if userID != "" {
		req.Header().Set(testUserHeader, userID)
	}
	return req
}

// asAdmin builds a request made by an admin session.
func asAdmin[T any](userID string, msg *T) *connect.Request[T] {
	req := as(userID, msg)
	req.Header().Set(testAdminHeader, "true")
	return req
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireCode(t *testing.T, err error, code connect.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, connect.CodeOf(err), "error: %v", err)
}

// createGroup creates a group owned by owner with the other users as members.
func (e *testEnv) createGroup(t *testing.T, owner string, others ...string) *models.Group {
	t.Helper()
	return e.createNamedGroup(t, "Goa Trip", owner, others...)
}

func (e *testEnv) createNamedGroup(t *testing.T, name, owner string, others ...string) *models.Group {
	t.Helper()
	members := make([]models.Member, len(others))
	for i, u := range others {
		members[i] = models.Member{UserID: u, Name: u}
	}
	resp, err := e.groups.CreateGroup(context.Background(), as(owner, &api.CreateGroupRequest{
		Name:    name,
		Members: members,
	}))
	require.NoError(t, err)
	return resp.Msg.Group
}

// createEqualExpense records an expense paid by payer and split equally among participants.
func (e *testEnv) createEqualExpense(t *testing.T, groupID, payer, amount string, participants ...string) *models.Expense {
	t.Helper()
	shares := make([]calculator.Share, len(participants))
	for i, p := range participants {
		shares[i] = calculator.Share{UserID: p}
	}
	resp, err := e.expenses.CreateExpense(context.Background(), as(payer, &api.CreateExpenseRequest{
		Title:    "Dinner",
		Amount:   dec(amount),
		GroupID:  groupID,
		PaidBy:   payer,
		Strategy: "equal",
		Shares:   shares,
	}))
	require.NoError(t, err)
	return resp.Msg.Expense
}

// pending returns the pending amounts of a group keyed "from->to".
func (e *testEnv) pending(t *testing.T, caller, groupID string) map[string]string {
	t.Helper()
	resp, err := e.settlements.ListGroupSettlements(context.Background(), as(caller, &api.ListGroupSettlementsRequest{
		GroupID: groupID,
		Status:  "pending",
	}))
	require.NoError(t, err)
	out := make(map[string]string, len(resp.Msg.Settlements))
	for _, s := range resp.Msg.Settlements {
		out[s.FromUserID+"->"+s.ToUserID] = s.Amount.StringFixed(2)
	}
	return out
}

// settlementBetween finds the pending settlement from -> to in a group.
func (e *testEnv) settlementBetween(t *testing.T, groupID, from, to string) *models.Settlement {
	t.Helper()
	s, err := e.store.FindPendingSettlement(context.Background(), models.SettlementKey{GroupID: groupID, From: from, To: to})
	require.NoError(t, err)
	return s
}
