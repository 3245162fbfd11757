package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/api"
)

// ExpenseServiceName is the fully-qualified name of the ExpenseService.
const ExpenseServiceName = "splitledger.v1.ExpenseService"

const (
	ExpenseServiceCreateExpenseProcedure     = "/" + ExpenseServiceName + "/CreateExpense"
	ExpenseServiceGetExpenseProcedure        = "/" + ExpenseServiceName + "/GetExpense"
	ExpenseServiceListGroupExpensesProcedure = "/" + ExpenseServiceName + "/ListGroupExpenses"
	ExpenseServiceUpdateExpenseProcedure     = "/" + ExpenseServiceName + "/UpdateExpense"
	ExpenseServiceDeleteExpenseProcedure     = "/" + ExpenseServiceName + "/DeleteExpense"
)

// ExpenseServiceHandler is implemented by the expense service.
type ExpenseServiceHandler interface {
	CreateExpense(context.Context, *connect.Request[api.CreateExpenseRequest]) (*connect.Response[api.CreateExpenseResponse], error)
	GetExpense(context.Context, *connect.Request[api.GetExpenseRequest]) (*connect.Response[api.GetExpenseResponse], error)
	ListGroupExpenses(context.Context, *connect.Request[api.ListGroupExpensesRequest]) (*connect.Response[api.ListGroupExpensesResponse], error)
	UpdateExpense(context.Context, *connect.Request[api.UpdateExpenseRequest]) (*connect.Response[api.UpdateExpenseResponse], error)
	DeleteExpense(context.Context, *connect.Request[api.DeleteExpenseRequest]) (*connect.Response[api.DeleteExpenseResponse], error)
}

// NewExpenseServiceHandler builds an HTTP handler for every ExpenseService procedure.
// It returns the path to mount the handler on.
func NewExpenseServiceHandler(svc ExpenseServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	mux := http.NewServeMux()
	mux.Handle(ExpenseServiceCreateExpenseProcedure, connect.NewUnaryHandler(ExpenseServiceCreateExpenseProcedure, svc.CreateExpense, opts...))
	mux.Handle(ExpenseServiceGetExpenseProcedure, connect.NewUnaryHandler(ExpenseServiceGetExpenseProcedure, svc.GetExpense, opts...))
	mux.Handle(ExpenseServiceListGroupExpensesProcedure, connect.NewUnaryHandler(ExpenseServiceListGroupExpensesProcedure, svc.ListGroupExpenses, opts...))
	mux.Handle(ExpenseServiceUpdateExpenseProcedure, connect.NewUnaryHandler(ExpenseServiceUpdateExpenseProcedure, svc.UpdateExpense, opts...))
	mux.Handle(ExpenseServiceDeleteExpenseProcedure, connect.NewUnaryHandler(ExpenseServiceDeleteExpenseProcedure, svc.DeleteExpense, opts...))
	return "/" + ExpenseServiceName + "/", mux
}

// ExpenseServiceClient calls a remote ExpenseService.
type ExpenseServiceClient struct {
	createExpense     *connect.Client[api.CreateExpenseRequest, api.CreateExpenseResponse]
	getExpense        *connect.Client[api.GetExpenseRequest, api.GetExpenseResponse]
	listGroupExpenses *connect.Client[api.ListGroupExpensesRequest, api.ListGroupExpensesResponse]
	updateExpense     *connect.Client[api.UpdateExpenseRequest, api.UpdateExpenseResponse]
	deleteExpense     *connect.Client[api.DeleteExpenseRequest, api.DeleteExpenseResponse]
}

// NewExpenseServiceClient creates a client for the ExpenseService served at baseURL.
func NewExpenseServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ExpenseServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &ExpenseServiceClient{
		createExpense:     connect.NewClient[api.CreateExpenseRequest, api.CreateExpenseResponse](httpClient, baseURL+ExpenseServiceCreateExpenseProcedure, opts...),
		getExpense:        connect.NewClient[api.GetExpenseRequest, api.GetExpenseResponse](httpClient, baseURL+ExpenseServiceGetExpenseProcedure, opts...),
		listGroupExpenses: connect.NewClient[api.ListGroupExpensesRequest, api.ListGroupExpensesResponse](httpClient, baseURL+ExpenseServiceListGroupExpensesProcedure, opts...),
		updateExpense:     connect.NewClient[api.UpdateExpenseRequest, api.UpdateExpenseResponse](httpClient, baseURL+ExpenseServiceUpdateExpenseProcedure, opts...),
		deleteExpense:     connect.NewClient[api.DeleteExpenseRequest, api.DeleteExpenseResponse](httpClient, baseURL+ExpenseServiceDeleteExpenseProcedure, opts...),
	}
}

func (c *ExpenseServiceClient) CreateExpense(ctx context.Context, req *connect.Request[api.CreateExpenseRequest]) (*connect.Response[api.CreateExpenseResponse], error) {
	return c.createExpense.CallUnary(ctx, req)
}

func (c *ExpenseServiceClient) GetExpense(ctx context.Context, req *connect.Request[api.GetExpenseRequest]) (*connect.Response[api.GetExpenseResponse], error) {
	return c.getExpense.CallUnary(ctx, req)
}

func (c *ExpenseServiceClient) ListGroupExpenses(ctx context.Context, req *connect.Request[api.ListGroupExpensesRequest]) (*connect.Response[api.ListGroupExpensesResponse], error) {
	return c.listGroupExpenses.CallUnary(ctx, req)
}

func (c *ExpenseServiceClient) UpdateExpense(ctx context.Context, req *connect.Request[api.UpdateExpenseRequest]) (*connect.Response[api.UpdateExpenseResponse], error) {
	return c.updateExpense.CallUnary(ctx, req)
}

func (c *ExpenseServiceClient) DeleteExpense(ctx context.Context, req *connect.Request[api.DeleteExpenseRequest]) (*connect.Response[api.DeleteExpenseResponse], error) {
	return c.deleteExpense.CallUnary(ctx, req)
}
