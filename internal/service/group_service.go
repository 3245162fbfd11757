package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

var (
	errGroupRequired  = errors.New("group_id is required")
	errNameRequired   = errors.New("name is required")
	errGroupAdminOnly = errors.New("only group admins can edit the group")
)

// GroupService creates groups and serves them to their members.
// Membership changes after creation are owned by the group directory, not the ledger.
// Groups are never deleted: their expenses and settlements keep referring to them.
type GroupService struct {
	store storage.Store
}

// NewGroupService creates a new GroupService with the given storage backend.
func NewGroupService(store storage.Store) *GroupService {
	return &GroupService{store: store}
}

// CreateGroup creates a new group with the caller as admin.
func (s *GroupService) CreateGroup(ctx context.Context, req *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Msg.Name)
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errNameRequired)
	}

	now := time.Now().UTC()
	group := &models.Group{
		ID:            id.NewGroup(),
		Name:          name,
		Description:   req.Msg.Description,
		Category:      strings.ToUpper(req.Msg.Category),
		CreatedBy:     userID,
		Active:        true,
		TotalExpenses: decimal.Zero,
		CreatedAt:     now,
	}
	if group.Category == "" {
		group.Category = models.DefaultCategory
	}

	group.Members = append(group.Members, models.Member{UserID: userID, Role: models.RoleAdmin, JoinedAt: now})
	for _, m := range req.Msg.Members {
		if m.UserID == "" {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("member without user_id"))
		}
		if group.HasMember(m.UserID) {
			continue
		}
		if m.Role != models.RoleAdmin {
			m.Role = models.RoleMember
		}
		m.JoinedAt = now
		group.Members = append(group.Members, m)
	}

	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, toConnectError("CreateGroup", err)
	}
	slog.Info("Group created", "group_id", group.ID, "members_count", len(group.Members))

	return connect.NewResponse(&api.CreateGroupResponse{Group: group}), nil
}

// GetGroup retrieves a group by ID.
func (s *GroupService) GetGroup(ctx context.Context, req *connect.Request[api.GetGroupRequest]) (*connect.Response[api.GetGroupResponse], error) {
	group, err := requireMember(ctx, s.store, "GetGroup", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&api.GetGroupResponse{Group: group}), nil
}

// ListGroups returns the groups the caller belongs to, newest first.
func (s *GroupService) ListGroups(ctx context.Context, req *connect.Request[api.ListGroupsRequest]) (*connect.Response[api.ListGroupsResponse], error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	all, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, toConnectError("ListGroups", err)
	}
	groups := make([]*models.Group, 0)
	for _, g := range all {
		if g.HasMember(userID) {
			groups = append(groups, g)
		}
	}
	slices.SortFunc(groups, func(a, b *models.Group) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	return connect.NewResponse(&api.ListGroupsResponse{Groups: groups}), nil
}

// UpdateGroup edits a group's name, description or category. Only group admins and
// admin sessions may do so.
func (s *GroupService) UpdateGroup(ctx context.Context, req *connect.Request[api.UpdateGroupRequest]) (*connect.Response[api.UpdateGroupResponse], error) {
	group, err := requireMember(ctx, s.store, "UpdateGroup", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.IsAdmin(middleware.GetUserID(ctx)) && !middleware.IsAdmin(ctx) {
		return nil, connect.NewError(connect.CodePermissionDenied, errGroupAdminOnly)
	}

	msg := req.Msg
	if msg.Name != nil {
		name := strings.TrimSpace(*msg.Name)
		if name == "" {
			return nil, connect.NewError(connect.CodeInvalidArgument, errNameRequired)
		}
		group.Name = name
	}
	if msg.Description != nil {
		group.Description = *msg.Description
	}
	if msg.Category != nil {
		group.Category = strings.ToUpper(strings.TrimSpace(*msg.Category))
		if group.Category == "" {
			group.Category = models.DefaultCategory
		}
	}

	if err := s.store.UpdateGroup(ctx, group); err != nil {
		return nil, toConnectError("UpdateGroup", err)
	}
	updated, err := s.store.GetGroup(ctx, group.ID)
	if err != nil {
		return nil, toConnectError("UpdateGroup", err)
	}
	slog.Info("Group updated", "group_id", updated.ID, "user_id", middleware.GetUserID(ctx))

	return connect.NewResponse(&api.UpdateGroupResponse{Group: updated}), nil
}
