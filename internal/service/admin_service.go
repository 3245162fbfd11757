package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
)

// AdminService runs ledger maintenance. Every procedure needs an admin session.
type AdminService struct {
	ledger *ledger.Ledger
}

func NewAdminService(l *ledger.Ledger) *AdminService {
	return &AdminService{ledger: l}
}

func requireAdmin(ctx context.Context) error {
	if _, err := callerID(ctx); err != nil {
		return err
	}
	if !middleware.IsAdmin(ctx) {
		return connect.NewError(connect.CodePermissionDenied, errAdminOnly)
	}
	return nil
}

// ReconstructSettlements replays expenses into the ledger, optionally from a clean slate.
func (s *AdminService) ReconstructSettlements(ctx context.Context, req *connect.Request[api.ReconstructSettlementsRequest]) (*connect.Response[api.ReconstructSettlementsResponse], error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if req.Msg.GroupID != "" {
		if err := checkID("group_id", req.Msg.GroupID, id.PrefixGroup); err != nil {
			return nil, err
		}
	}
	slog.Info("ReconstructSettlements request received",
		"group_id", req.Msg.GroupID, "reset", req.Msg.Reset, "user_id", middleware.GetUserID(ctx))

	res, err := s.ledger.Reconstruct(ctx, ledger.ReconstructOptions{GroupID: req.Msg.GroupID, Reset: req.Msg.Reset})
	if err != nil {
		return nil, toConnectError("ReconstructSettlements", err)
	}
	return connect.NewResponse(&api.ReconstructSettlementsResponse{Result: res}), nil
}

// LedgerStatus reports record counts and settlements that drifted from their journal.
func (s *AdminService) LedgerStatus(ctx context.Context, req *connect.Request[api.LedgerStatusRequest]) (*connect.Response[api.LedgerStatusResponse], error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	status, err := s.ledger.Status(ctx)
	if err != nil {
		return nil, toConnectError("LedgerStatus", err)
	}
	return connect.NewResponse(&api.LedgerStatusResponse{Status: status}), nil
}
