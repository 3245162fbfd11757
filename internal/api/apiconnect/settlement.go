package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/api"
)

// SettlementServiceName is the fully-qualified name of the SettlementService.
const SettlementServiceName = "splitledger.v1.SettlementService"

const (
	SettlementServiceListUserSettlementsProcedure  = "/" + SettlementServiceName + "/ListUserSettlements"
	SettlementServiceListGroupSettlementsProcedure = "/" + SettlementServiceName + "/ListGroupSettlements"
	SettlementServiceGetSettlementProcedure        = "/" + SettlementServiceName + "/GetSettlement"
	SettlementServiceMarkSettlementPaidProcedure   = "/" + SettlementServiceName + "/MarkSettlementPaid"
	SettlementServiceDeleteSettlementProcedure     = "/" + SettlementServiceName + "/DeleteSettlement"
)

// SettlementServiceHandler is implemented by the settlement service.
type SettlementServiceHandler interface {
	ListUserSettlements(context.Context, *connect.Request[api.ListUserSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error)
	ListGroupSettlements(context.Context, *connect.Request[api.ListGroupSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error)
	GetSettlement(context.Context, *connect.Request[api.GetSettlementRequest]) (*connect.Response[api.GetSettlementResponse], error)
	MarkSettlementPaid(context.Context, *connect.Request[api.MarkSettlementPaidRequest]) (*connect.Response[api.MarkSettlementPaidResponse], error)
	DeleteSettlement(context.Context, *connect.Request[api.DeleteSettlementRequest]) (*connect.Response[api.DeleteSettlementResponse], error)
}

// NewSettlementServiceHandler builds an HTTP handler for every SettlementService procedure.
// It returns the path to mount the handler on.
func NewSettlementServiceHandler(svc SettlementServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	mux := http.NewServeMux()
	mux.Handle(SettlementServiceListUserSettlementsProcedure, connect.NewUnaryHandler(SettlementServiceListUserSettlementsProcedure, svc.ListUserSettlements, opts...))
	mux.Handle(SettlementServiceListGroupSettlementsProcedure, connect.NewUnaryHandler(SettlementServiceListGroupSettlementsProcedure, svc.ListGroupSettlements, opts...))
	mux.Handle(SettlementServiceGetSettlementProcedure, connect.NewUnaryHandler(SettlementServiceGetSettlementProcedure, svc.GetSettlement, opts...))
	mux.Handle(SettlementServiceMarkSettlementPaidProcedure, connect.NewUnaryHandler(SettlementServiceMarkSettlementPaidProcedure, svc.MarkSettlementPaid, opts...))
	mux.Handle(SettlementServiceDeleteSettlementProcedure, connect.NewUnaryHandler(SettlementServiceDeleteSettlementProcedure, svc.DeleteSettlement, opts...))
	return "/" + SettlementServiceName + "/", mux
}

// SettlementServiceClient calls a remote SettlementService.
type SettlementServiceClient struct {
	listUserSettlements  *connect.Client[api.ListUserSettlementsRequest, api.ListSettlementsResponse]
	listGroupSettlements *connect.Client[api.ListGroupSettlementsRequest, api.ListSettlementsResponse]
	getSettlement        *connect.Client[api.GetSettlementRequest, api.GetSettlementResponse]
	markSettlementPaid   *connect.Client[api.MarkSettlementPaidRequest, api.MarkSettlementPaidResponse]
	deleteSettlement     *connect.Client[api.DeleteSettlementRequest, api.DeleteSettlementResponse]
}

// NewSettlementServiceClient creates a client for the SettlementService served at baseURL.
func NewSettlementServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *SettlementServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &SettlementServiceClient{
		listUserSettlements:  connect.NewClient[api.ListUserSettlementsRequest, api.ListSettlementsResponse](httpClient, baseURL+SettlementServiceListUserSettlementsProcedure, opts...),
		listGroupSettlements: connect.NewClient[api.ListGroupSettlementsRequest, api.ListSettlementsResponse](httpClient, baseURL+SettlementServiceListGroupSettlementsProcedure, opts...),
		getSettlement:        connect.NewClient[api.GetSettlementRequest, api.GetSettlementResponse](httpClient, baseURL+SettlementServiceGetSettlementProcedure, opts...),
		markSettlementPaid:   connect.NewClient[api.MarkSettlementPaidRequest, api.MarkSettlementPaidResponse](httpClient, baseURL+SettlementServiceMarkSettlementPaidProcedure, opts...),
		deleteSettlement:     connect.NewClient[api.DeleteSettlementRequest, api.DeleteSettlementResponse](httpClient, baseURL+SettlementServiceDeleteSettlementProcedure, opts...),
	}
}

func (c *SettlementServiceClient) ListUserSettlements(ctx context.Context, req *connect.Request[api.ListUserSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error) {
	return c.listUserSettlements.CallUnary(ctx, req)
}

func (c *SettlementServiceClient) ListGroupSettlements(ctx context.Context, req *connect.Request[api.ListGroupSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error) {
	return c.listGroupSettlements.CallUnary(ctx, req)
}

func (c *SettlementServiceClient) GetSettlement(ctx context.Context, req *connect.Request[api.GetSettlementRequest]) (*connect.Response[api.GetSettlementResponse], error) {
	return c.getSettlement.CallUnary(ctx, req)
}

func (c *SettlementServiceClient) MarkSettlementPaid(ctx context.Context, req *connect.Request[api.MarkSettlementPaidRequest]) (*connect.Response[api.MarkSettlementPaidResponse], error) {
	return c.markSettlementPaid.CallUnary(ctx, req)
}

func (c *SettlementServiceClient) DeleteSettlement(ctx context.Context, req *connect.Request[api.DeleteSettlementRequest]) (*connect.Response[api.DeleteSettlementResponse], error) {
	return c.deleteSettlement.CallUnary(ctx, req)
}
