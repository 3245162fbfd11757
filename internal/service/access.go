package service

import (
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

func callerID(ctx context.Context) (string, error) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, errAuthRequired)
	}
	return userID, nil
}

// requireMember loads a group the caller belongs to. Admin sessions see every group.
func requireMember(ctx context.Context, store storage.GroupStore, op, groupID string) (*models.Group, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if groupID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errGroupRequired)
	}
	if err := checkID("group_id", groupID, id.PrefixGroup); err != nil {
		return nil, err
	}
	group, err := store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, toConnectError(op, err)
	}
	if !group.HasMember(userID) && !middleware.IsAdmin(ctx) {
		return nil, connect.NewError(connect.CodePermissionDenied, errNotMember)
	}
	return group, nil
}

// checkID rejects a malformed entity id before it reaches the store.
func checkID(field, value string, prefix id.Prefix) error {
	if err := id.Validate(value, prefix); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s: %w", field, err))
	}
	return nil
}

// requireSelf resolves an optional user id to the caller, allowing other users for admins only.
func requireSelf(ctx context.Context, userID string) (string, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return "", err
	}
	if userID == "" || userID == caller {
		return caller, nil
	}
	if !middleware.IsAdmin(ctx) {
		return "", connect.NewError(connect.CodePermissionDenied, errNotParty)
	}
	return userID, nil
}
