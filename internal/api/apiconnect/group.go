package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/api"
)

// GroupServiceName is the fully-qualified name of the GroupService.
const GroupServiceName = "splitledger.v1.GroupService"

const (
	GroupServiceCreateGroupProcedure = "/" + GroupServiceName + "/CreateGroup"
	GroupServiceGetGroupProcedure    = "/" + GroupServiceName + "/GetGroup"
	GroupServiceListGroupsProcedure  = "/" + GroupServiceName + "/ListGroups"
	GroupServiceUpdateGroupProcedure = "/" + GroupServiceName + "/UpdateGroup"
)

// GroupServiceHandler is implemented by the group service.
type GroupServiceHandler interface {
	CreateGroup(context.Context, *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error)
	GetGroup(context.Context, *connect.Request[api.GetGroupRequest]) (*connect.Response[api.GetGroupResponse], error)
	ListGroups(context.Context, *connect.Request[api.ListGroupsRequest]) (*connect.Response[api.ListGroupsResponse], error)
	UpdateGroup(context.Context, *connect.Request[api.UpdateGroupRequest]) (*connect.Response[api.UpdateGroupResponse], error)
}

// NewGroupServiceHandler builds an HTTP handler for every GroupService procedure.
// It returns the path to mount the handler on.
func NewGroupServiceHandler(svc GroupServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	mux := http.NewServeMux()
	mux.Handle(GroupServiceCreateGroupProcedure, connect.NewUnaryHandler(GroupServiceCreateGroupProcedure, svc.CreateGroup, opts...))
	mux.Handle(GroupServiceGetGroupProcedure, connect.NewUnaryHandler(GroupServiceGetGroupProcedure, svc.GetGroup, opts...))
	mux.Handle(GroupServiceListGroupsProcedure, connect.NewUnaryHandler(GroupServiceListGroupsProcedure, svc.ListGroups, opts...))
	mux.Handle(GroupServiceUpdateGroupProcedure, connect.NewUnaryHandler(GroupServiceUpdateGroupProcedure, svc.UpdateGroup, opts...))
	return "/" + GroupServiceName + "/", mux
}

// GroupServiceClient calls a remote GroupService.
type GroupServiceClient struct {
	createGroup *connect.Client[api.CreateGroupRequest, api.CreateGroupResponse]
	getGroup    *connect.Client[api.GetGroupRequest, api.GetGroupResponse]
	listGroups  *connect.Client[api.ListGroupsRequest, api.ListGroupsResponse]
	updateGroup *connect.Client[api.UpdateGroupRequest, api.UpdateGroupResponse]
}

// NewGroupServiceClient creates a client for the GroupService served at baseURL.
func NewGroupServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *GroupServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &GroupServiceClient{
		createGroup: connect.NewClient[api.CreateGroupRequest, api.CreateGroupResponse](httpClient, baseURL+GroupServiceCreateGroupProcedure, opts...),
		getGroup:    connect.NewClient[api.GetGroupRequest, api.GetGroupResponse](httpClient, baseURL+GroupServiceGetGroupProcedure, opts...),
		listGroups:  connect.NewClient[api.ListGroupsRequest, api.ListGroupsResponse](httpClient, baseURL+GroupServiceListGroupsProcedure, opts...),
		updateGroup: connect.NewClient[api.UpdateGroupRequest, api.UpdateGroupResponse](httpClient, baseURL+GroupServiceUpdateGroupProcedure, opts...),
	}
}

func (c *GroupServiceClient) CreateGroup(ctx context.Context, req *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error) {
	return c.createGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) GetGroup(ctx context.Context, req *connect.Request[api.GetGroupRequest]) (*connect.Response[api.GetGroupResponse], error) {
	return c.getGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) ListGroups(ctx context.Context, req *connect.Request[api.ListGroupsRequest]) (*connect.Response[api.ListGroupsResponse], error) {
	return c.listGroups.CallUnary(ctx, req)
}

func (c *GroupServiceClient) UpdateGroup(ctx context.Context, req *connect.Request[api.UpdateGroupRequest]) (*connect.Response[api.UpdateGroupResponse], error) {
	return c.updateGroup.CallUnary(ctx, req)
}
