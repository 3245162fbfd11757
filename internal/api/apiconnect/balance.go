package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/api"
)

// BalanceServiceName is the fully-qualified name of the BalanceService.
const BalanceServiceName = "splitledger.v1.BalanceService"

const (
	BalanceServiceGetUserBalancesProcedure            = "/" + BalanceServiceName + "/GetUserBalances"
	BalanceServiceGetGroupBalancesProcedure           = "/" + BalanceServiceName + "/GetGroupBalances"
	BalanceServiceGetGroupSettlementBalancesProcedure = "/" + BalanceServiceName + "/GetGroupSettlementBalances"
)

// BalanceServiceHandler is implemented by the balance service.
type BalanceServiceHandler interface {
	GetUserBalances(context.Context, *connect.Request[api.GetUserBalancesRequest]) (*connect.Response[api.GetUserBalancesResponse], error)
	GetGroupBalances(context.Context, *connect.Request[api.GetGroupBalancesRequest]) (*connect.Response[api.GetGroupBalancesResponse], error)
	GetGroupSettlementBalances(context.Context, *connect.Request[api.GetGroupSettlementBalancesRequest]) (*connect.Response[api.GetGroupSettlementBalancesResponse], error)
}

// NewBalanceServiceHandler builds an HTTP handler for every BalanceService procedure.
// It returns the path to mount the handler on.
func NewBalanceServiceHandler(svc BalanceServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	mux := http.NewServeMux()
	mux.Handle(BalanceServiceGetUserBalancesProcedure, connect.NewUnaryHandler(BalanceServiceGetUserBalancesProcedure, svc.GetUserBalances, opts...))
	mux.Handle(BalanceServiceGetGroupBalancesProcedure, connect.NewUnaryHandler(BalanceServiceGetGroupBalancesProcedure, svc.GetGroupBalances, opts...))
	mux.Handle(BalanceServiceGetGroupSettlementBalancesProcedure, connect.NewUnaryHandler(BalanceServiceGetGroupSettlementBalancesProcedure, svc.GetGroupSettlementBalances, opts...))
	return "/" + BalanceServiceName + "/", mux
}

// BalanceServiceClient calls a remote BalanceService.
type BalanceServiceClient struct {
	getUserBalances            *connect.Client[api.GetUserBalancesRequest, api.GetUserBalancesResponse]
	getGroupBalances           *connect.Client[api.GetGroupBalancesRequest, api.GetGroupBalancesResponse]
	getGroupSettlementBalances *connect.Client[api.GetGroupSettlementBalancesRequest, api.GetGroupSettlementBalancesResponse]
}

// NewBalanceServiceClient creates a client for the BalanceService served at baseURL.
func NewBalanceServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *BalanceServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &BalanceServiceClient{
		getUserBalances:            connect.NewClient[api.GetUserBalancesRequest, api.GetUserBalancesResponse](httpClient, baseURL+BalanceServiceGetUserBalancesProcedure, opts...),
		getGroupBalances:           connect.NewClient[api.GetGroupBalancesRequest, api.GetGroupBalancesResponse](httpClient, baseURL+BalanceServiceGetGroupBalancesProcedure, opts...),
		getGroupSettlementBalances: connect.NewClient[api.GetGroupSettlementBalancesRequest, api.GetGroupSettlementBalancesResponse](httpClient, baseURL+BalanceServiceGetGroupSettlementBalancesProcedure, opts...),
	}
}

func (c *BalanceServiceClient) GetUserBalances(ctx context.Context, req *connect.Request[api.GetUserBalancesRequest]) (*connect.Response[api.GetUserBalancesResponse], error) {
	return c.getUserBalances.CallUnary(ctx, req)
}

func (c *BalanceServiceClient) GetGroupBalances(ctx context.Context, req *connect.Request[api.GetGroupBalancesRequest]) (*connect.Response[api.GetGroupBalancesResponse], error) {
	return c.getGroupBalances.CallUnary(ctx, req)
}

func (c *BalanceServiceClient) GetGroupSettlementBalances(ctx context.Context, req *connect.Request[api.GetGroupSettlementBalancesRequest]) (*connect.Response[api.GetGroupSettlementBalancesResponse], error) {
	return c.getGroupSettlementBalances.CallUnary(ctx, req)
}
