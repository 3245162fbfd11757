package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/api"
)

// AdminServiceName is the fully-qualified name of the AdminService.
const AdminServiceName = "splitledger.v1.AdminService"

const (
	AdminServiceReconstructSettlementsProcedure = "/" + AdminServiceName + "/ReconstructSettlements"
	AdminServiceLedgerStatusProcedure           = "/" + AdminServiceName + "/LedgerStatus"
)

// AdminServiceHandler is implemented by the admin service.
type AdminServiceHandler interface {
	ReconstructSettlements(context.Context, *connect.Request[api.ReconstructSettlementsRequest]) (*connect.Response[api.ReconstructSettlementsResponse], error)
	LedgerStatus(context.Context, *connect.Request[api.LedgerStatusRequest]) (*connect.Response[api.LedgerStatusResponse], error)
}

// NewAdminServiceHandler builds an HTTP handler for every AdminService procedure.
// It returns the path to mount the handler on.
func NewAdminServiceHandler(svc AdminServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	mux := http.NewServeMux()
	mux.Handle(AdminServiceReconstructSettlementsProcedure, connect.NewUnaryHandler(AdminServiceReconstructSettlementsProcedure, svc.ReconstructSettlements, opts...))
	mux.Handle(AdminServiceLedgerStatusProcedure, connect.NewUnaryHandler(AdminServiceLedgerStatusProcedure, svc.LedgerStatus, opts...))
	return "/" + AdminServiceName + "/", mux
}

// AdminServiceClient calls a remote AdminService.
type AdminServiceClient struct {
	reconstructSettlements *connect.Client[api.ReconstructSettlementsRequest, api.ReconstructSettlementsResponse]
	ledgerStatus           *connect.Client[api.LedgerStatusRequest, api.LedgerStatusResponse]
}

// NewAdminServiceClient creates a client for the AdminService served at baseURL.
func NewAdminServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AdminServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &AdminServiceClient{
		reconstructSettlements: connect.NewClient[api.ReconstructSettlementsRequest, api.ReconstructSettlementsResponse](httpClient, baseURL+AdminServiceReconstructSettlementsProcedure, opts...),
		ledgerStatus:           connect.NewClient[api.LedgerStatusRequest, api.LedgerStatusResponse](httpClient, baseURL+AdminServiceLedgerStatusProcedure, opts...),
	}
}

func (c *AdminServiceClient) ReconstructSettlements(ctx context.Context, req *connect.Request[api.ReconstructSettlementsRequest]) (*connect.Response[api.ReconstructSettlementsResponse], error) {
	return c.reconstructSettlements.CallUnary(ctx, req)
}

func (c *AdminServiceClient) LedgerStatus(ctx context.Context, req *connect.Request[api.LedgerStatusRequest]) (*connect.Response[api.LedgerStatusResponse], error) {
	return c.ledgerStatus.CallUnary(ctx, req)
}
