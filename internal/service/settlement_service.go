package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/proof"
	"github.com/mmynk/splitledger/internal/storage"
)

var errProofDisabled = errors.New("proof uploads are disabled")

// SettlementService exposes pending and completed debts and lets members pay them off.
type SettlementService struct {
	store  storage.Store
	ledger *ledger.Ledger
	proofs proof.Store

	ledgerTimeout time.Duration
	uploadTimeout time.Duration
}

// SettlementOption configures a SettlementService.
type SettlementOption func(*SettlementService)

// WithLedgerTimeout bounds the ledger step of MarkSettlementPaid. Use it when the
// procedure is exempt from the request timeout so a proof upload does not eat the budget.
func WithLedgerTimeout(d time.Duration) SettlementOption {
	return func(s *SettlementService) { s.ledgerTimeout = d }
}

// WithUploadTimeout bounds a proof upload.
func WithUploadTimeout(d time.Duration) SettlementOption {
	return func(s *SettlementService) { s.uploadTimeout = d }
}

// NewSettlementService creates a SettlementService. proofs may be nil when uploads are disabled.
func NewSettlementService(store storage.Store, l *ledger.Ledger, proofs proof.Store, opts ...SettlementOption) *SettlementService {
	s := &SettlementService{store: store, ledger: l, proofs: proofs}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bounded returns ctx limited to d, or ctx unchanged when d is not positive.
func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func parseStatus(s string) (models.SettlementStatus, error) {
	switch status := models.SettlementStatus(strings.ToUpper(s)); status {
	case "", models.StatusPending, models.StatusCompleted:
		return status, nil
	}
	return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown settlement status %q", s))
}

// ListUserSettlements lists settlements the user owes or is owed, newest first.
func (s *SettlementService) ListUserSettlements(ctx context.Context, req *connect.Request[api.ListUserSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error) {
	userID, err := requireSelf(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	status, err := parseStatus(req.Msg.Status)
	if err != nil {
		return nil, err
	}

	settlements, err := s.store.ListSettlements(ctx, storage.SettlementFilter{UserID: userID, Status: status})
	if err != nil {
		return nil, toConnectError("ListUserSettlements", err)
	}
	return connect.NewResponse(&api.ListSettlementsResponse{Settlements: settlements}), nil
}

// ListGroupSettlements lists a group's settlements, newest first.
func (s *SettlementService) ListGroupSettlements(ctx context.Context, req *connect.Request[api.ListGroupSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error) {
	group, err := requireMember(ctx, s.store, "ListGroupSettlements", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}
	status, err := parseStatus(req.Msg.Status)
	if err != nil {
		return nil, err
	}

	settlements, err := s.store.ListSettlements(ctx, storage.SettlementFilter{GroupID: group.ID, Status: status})
	if err != nil {
		return nil, toConnectError("ListGroupSettlements", err)
	}
	return connect.NewResponse(&api.ListSettlementsResponse{Settlements: settlements}), nil
}

// GetSettlement retrieves a settlement by ID.
func (s *SettlementService) GetSettlement(ctx context.Context, req *connect.Request[api.GetSettlementRequest]) (*connect.Response[api.GetSettlementResponse], error) {
	st, err := s.loadSettlement(ctx, "GetSettlement", req.Msg.SettlementID, false)
	if err != nil {
		return nil, err
	}

	resp := &api.GetSettlementResponse{Settlement: st}
	if st.Proof != "" && s.proofs != nil {
		url, err := s.proofs.URL(ctx, st.Proof)
		if err != nil {
			slog.Warn("Failed to sign proof url", "settlement_id", st.ID, "error", err)
		}
		resp.ProofURL = url
	}
	return connect.NewResponse(resp), nil
}

// MarkSettlementPaid completes a pending settlement, optionally uploading a payment proof first.
func (s *SettlementService) MarkSettlementPaid(ctx context.Context, req *connect.Request[api.MarkSettlementPaidRequest]) (*connect.Response[api.MarkSettlementPaidResponse], error) {
	st, err := s.loadSettlement(ctx, "MarkSettlementPaid", req.Msg.SettlementID, true)
	if err != nil {
		return nil, err
	}
	if !st.IsPending() {
		return nil, toConnectError("MarkSettlementPaid", ledger.ErrSettlementCompleted)
	}

	payment := ledger.Payment{
		Method: strings.ToUpper(req.Msg.PaymentMethod),
		Notes:  req.Msg.Notes,
		Proof:  req.Msg.Proof,
	}
	if len(req.Msg.ProofData) > 0 {
		if s.proofs == nil {
			return nil, connect.NewError(connect.CodeFailedPrecondition, errProofDisabled)
		}
		uploadCtx, cancel := bounded(ctx, s.uploadTimeout)
		ref, err := s.proofs.Put(uploadCtx, st.ID, req.Msg.ProofContentType, req.Msg.ProofData)
		cancel()
		if err != nil {
			return nil, toConnectError("MarkSettlementPaid", err)
		}
		payment.Proof = ref
	}

	ledgerCtx, cancel := bounded(ctx, s.ledgerTimeout)
	defer cancel()
	paid, err := s.ledger.MarkPaid(ledgerCtx, st.ID, payment)
	if err != nil {
		return nil, toConnectError("MarkSettlementPaid", err)
	}
	return connect.NewResponse(&api.MarkSettlementPaidResponse{Settlement: paid}), nil
}

// DeleteSettlement removes a settlement. A pending one takes the contributions behind it along.
func (s *SettlementService) DeleteSettlement(ctx context.Context, req *connect.Request[api.DeleteSettlementRequest]) (*connect.Response[api.DeleteSettlementResponse], error) {
	st, err := s.loadSettlement(ctx, "DeleteSettlement", req.Msg.SettlementID, false)
	if err != nil {
		return nil, err
	}
	if err := s.checkDeleter(ctx, st); err != nil {
		return nil, err
	}

	n, err := s.ledger.DeleteSettlement(ctx, st.ID)
	if err != nil {
		return nil, toConnectError("DeleteSettlement", err)
	}
	slog.Info("Settlement deleted", "settlement_id", st.ID, "group_id", st.GroupID, "removed_lines", n)
	return connect.NewResponse(&api.DeleteSettlementResponse{RemovedLines: n}), nil
}

// loadSettlement fetches a settlement the caller may see. With partyOnly set, only the
// debtor, the creditor and admins pass; otherwise group members do too.
func (s *SettlementService) loadSettlement(ctx context.Context, op, settlementID string, partyOnly bool) (*models.Settlement, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if settlementID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("settlement_id is required"))
	}
	if err := checkID("settlement_id", settlementID, id.PrefixSettlement); err != nil {
		return nil, err
	}
	st, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, toConnectError(op, err)
	}

	if st.FromUserID == userID || st.ToUserID == userID || middleware.IsAdmin(ctx) {
		return st, nil
	}
	if partyOnly {
		return nil, connect.NewError(connect.CodePermissionDenied, errNotParty)
	}
	if _, err := requireMember(ctx, s.store, op, st.GroupID); err != nil {
		return nil, err
	}
	return st, nil
}

// checkDeleter lets the parties, group admins and admin sessions delete a settlement.
func (s *SettlementService) checkDeleter(ctx context.Context, st *models.Settlement) error {
	userID := middleware.GetUserID(ctx)
	if st.FromUserID == userID || st.ToUserID == userID || middleware.IsAdmin(ctx) {
		return nil
	}
	group, err := s.store.GetGroup(ctx, st.GroupID)
	if err != nil {
		return toConnectError("DeleteSettlement", err)
	}
	if !group.IsAdmin(userID) {
		return connect.NewError(connect.CodePermissionDenied, errNotParty)
	}
	return nil
}
