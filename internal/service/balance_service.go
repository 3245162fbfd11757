package service

import (
	"context"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// BalanceService reports who owes whom.
//
// Outstanding balances come from pending settlements. GetGroupBalances keeps the
// historical gross view folded from expenses, which ignores payments.
type BalanceService struct {
	store storage.Store
}

// NewBalanceService creates a new BalanceService with the given storage backend.
func NewBalanceService(store storage.Store) *BalanceService {
	return &BalanceService{store: store}
}

// GetUserBalances nets the user's pending settlements per counterparty across groups.
func (s *BalanceService) GetUserBalances(ctx context.Context, req *connect.Request[api.GetUserBalancesRequest]) (*connect.Response[api.GetUserBalancesResponse], error) {
	userID, err := requireSelf(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}

	settlements, err := s.store.ListSettlements(ctx, storage.SettlementFilter{
		UserID: userID,
		Status: models.StatusPending,
	})
	if err != nil {
		return nil, toConnectError("GetUserBalances", err)
	}

	var groupIDs []string
	seen := make(map[string]bool)
	for _, st := range settlements {
		if !seen[st.GroupID] {
			seen[st.GroupID] = true
			groupIDs = append(groupIDs, st.GroupID)
		}
	}
	names := make(map[string]string, len(groupIDs))
	if len(groupIDs) > 0 {
		groups, err := s.store.ListGroups(ctx, groupIDs...)
		if err != nil {
			return nil, toConnectError("GetUserBalances", err)
		}
		for _, g := range groups {
			names[g.ID] = g.Name
		}
	}

	return connect.NewResponse(&api.GetUserBalancesResponse{
		Balance: calculator.UserBalances(userID, settlements, names),
	}), nil
}

// GetGroupBalances folds every expense of the group into per-member gross balances.
func (s *BalanceService) GetGroupBalances(ctx context.Context, req *connect.Request[api.GetGroupBalancesRequest]) (*connect.Response[api.GetGroupBalancesResponse], error) {
	group, err := requireMember(ctx, s.store, "GetGroupBalances", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}
	expenses, err := s.store.ListExpenses(ctx, group.ID)
	if err != nil {
		return nil, toConnectError("GetGroupBalances", err)
	}
	return connect.NewResponse(&api.GetGroupBalancesResponse{
		Balances: calculator.ExpenseBalances(expenses),
	}), nil
}

// GetGroupSettlementBalances nets the group's pending settlements per member.
func (s *BalanceService) GetGroupSettlementBalances(ctx context.Context, req *connect.Request[api.GetGroupSettlementBalancesRequest]) (*connect.Response[api.GetGroupSettlementBalancesResponse], error) {
	group, err := requireMember(ctx, s.store, "GetGroupSettlementBalances", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}
	settlements, err := s.store.ListSettlements(ctx, storage.SettlementFilter{
		GroupID: group.ID,
		Status:  models.StatusPending,
	})
	if err != nil {
		return nil, toConnectError("GetGroupSettlementBalances", err)
	}
	return connect.NewResponse(&api.GetGroupSettlementBalancesResponse{
		Balances: calculator.GroupSettlementBalances(settlements, map[string]string{group.ID: group.Name}),
	}), nil
}
