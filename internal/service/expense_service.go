package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// IdempotencyKeyHeader lets clients retry CreateExpense safely.
const IdempotencyKeyHeader = "Idempotency-Key"

var errSplitsAndStrategy = errors.New("give either splits or strategy with shares, not both")

// ExpenseService records expenses and keeps the settlement ledger in step with them.
type ExpenseService struct {
	store          storage.Store
	ledger         *ledger.Ledger
	idempotency    idempotency.Store
	idempotencyTTL time.Duration
}

// NewExpenseService creates an ExpenseService. idem may be nil to ignore idempotency keys.
func NewExpenseService(store storage.Store, l *ledger.Ledger, idem idempotency.Store, ttl time.Duration) *ExpenseService {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &ExpenseService{store: store, ledger: l, idempotency: idem, idempotencyTTL: ttl}
}

// resolveSplits returns explicit splits checked against amount, or the calculator's
// result for strategy and shares.
func resolveSplits(amount decimal.Decimal, splits []models.Split, strategy string, shares []calculator.Share) ([]models.Split, error) {
	if strategy != "" {
		if len(splits) > 0 {
			return nil, fmt.Errorf("%w: %w", calculator.ErrInvalidShare, errSplitsAndStrategy)
		}
		st, err := calculator.ParseStrategy(strategy)
		if err != nil {
			return nil, err
		}
		return calculator.Split(st, amount, shares)
	}
	explicit := make([]calculator.Share, len(splits))
	for i, sp := range splits {
		explicit[i] = calculator.Share{UserID: sp.UserID, Value: sp.Amount}
	}
	return calculator.Exact(amount, explicit)
}

// checkMembers verifies the payer and every split member belong to the group.
func checkMembers(group *models.Group, e *models.Expense) error {
	if !group.HasMember(e.PaidBy) {
		return fmt.Errorf("%w: payer %s is not a member of the group", models.ErrInvalidExpense, e.PaidBy)
	}
	for _, sp := range e.Splits {
		if !group.HasMember(sp.UserID) {
			return fmt.Errorf("%w: %s is not a member of the group", models.ErrInvalidExpense, sp.UserID)
		}
	}
	return nil
}

// CreateExpense records an expense and folds it into the pending settlements.
func (s *ExpenseService) CreateExpense(ctx context.Context, req *connect.Request[api.CreateExpenseRequest]) (*connect.Response[api.CreateExpenseResponse], error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	group, err := requireMember(ctx, s.store, "CreateExpense", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}

	msg := req.Msg
	splits, err := resolveSplits(msg.Amount, msg.Splits, msg.Strategy, msg.Shares)
	if err != nil {
		return nil, toConnectError("CreateExpense", err)
	}

	now := time.Now().UTC()
	expense := &models.Expense{
		ID:          id.NewExpense(),
		Title:       strings.TrimSpace(msg.Title),
		Description: msg.Description,
		Amount:      msg.Amount,
		Category:    strings.ToUpper(msg.Category),
		GroupID:     group.ID,
		PaidBy:      msg.PaidBy,
		Date:        now,
		Splits:      splits,
		Notes:       msg.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if expense.PaidBy == "" {
		expense.PaidBy = userID
	}
	if expense.Category == "" {
		expense.Category = models.DefaultCategory
	}
	if msg.Date != nil {
		expense.Date = msg.Date.UTC()
	}
	if err := expense.Validate(); err != nil {
		return nil, toConnectError("CreateExpense", err)
	}
	if err := checkMembers(group, expense); err != nil {
		return nil, toConnectError("CreateExpense", err)
	}

	idemKey := ""
	if clientKey := req.Header().Get(IdempotencyKeyHeader); clientKey != "" && s.idempotency != nil {
		idemKey = idempotency.Key("create_expense", userID, clientKey)
		claimed, err := s.idempotency.Claim(ctx, idemKey, expense.ID, s.idempotencyTTL)
		if err != nil {
			return nil, toConnectError("CreateExpense", err)
		}
		if !claimed {
			existing, _, _ := s.idempotency.Lookup(ctx, idemKey)
			return nil, connect.NewError(connect.CodeAlreadyExists,
				fmt.Errorf("request already processed as expense %s", existing))
		}
	}

	if err := s.store.CreateExpense(ctx, expense); err != nil {
		s.release(idemKey)
		return nil, toConnectError("CreateExpense", err)
	}

	res, err := s.ledger.OnExpenseCreated(ctx, expense)
	if err != nil {
		s.undoCreate(ctx, expense)
		s.release(idemKey)
		return nil, toConnectError("CreateExpense", err)
	}

	slog.Info("Expense created",
		"expense_id", expense.ID, "group_id", expense.GroupID, "amount", expense.Amount.String(),
		"settlements_created", res.Created, "settlements_updated", res.Updated)
	return connect.NewResponse(&api.CreateExpenseResponse{Expense: expense, Ledger: res}), nil
}

// undoTimeout bounds compensation after a failed ledger step.
const undoTimeout = 5 * time.Second

// undoCreate takes a half-applied expense back out of the ledger and the store.
// It runs detached from the request's deadline, which may already have passed.
func (s *ExpenseService) undoCreate(ctx context.Context, e *models.Expense) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), undoTimeout)
	defer cancel()

	if _, err := s.ledger.Reverse(ctx, e); err != nil {
		slog.Error("Failed to reverse expense after ledger error", "expense_id", e.ID, "error", err)
		return
	}
	if err := s.store.DeleteExpense(ctx, e.ID); err != nil {
		slog.Error("Failed to delete expense after ledger error", "expense_id", e.ID, "error", err)
	}
}

func (s *ExpenseService) release(key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), undoTimeout)
	defer cancel()
	if err := s.idempotency.Release(ctx, key); err != nil {
		slog.Warn("Failed to release idempotency key", "key", key, "error", err)
	}
}

// GetExpense retrieves an expense by ID.
func (s *ExpenseService) GetExpense(ctx context.Context, req *connect.Request[api.GetExpenseRequest]) (*connect.Response[api.GetExpenseResponse], error) {
	expense, _, err := s.loadExpense(ctx, "GetExpense", req.Msg.ExpenseID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&api.GetExpenseResponse{Expense: expense}), nil
}

// ListGroupExpenses returns a group's expenses, newest first.
func (s *ExpenseService) ListGroupExpenses(ctx context.Context, req *connect.Request[api.ListGroupExpensesRequest]) (*connect.Response[api.ListGroupExpensesResponse], error) {
	group, err := requireMember(ctx, s.store, "ListGroupExpenses", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}
	expenses, err := s.store.ListExpenses(ctx, group.ID)
	if err != nil {
		return nil, toConnectError("ListGroupExpenses", err)
	}
	return connect.NewResponse(&api.ListGroupExpensesResponse{Expenses: expenses}), nil
}

// UpdateExpense edits an expense and moves its contributions to the new shape.
func (s *ExpenseService) UpdateExpense(ctx context.Context, req *connect.Request[api.UpdateExpenseRequest]) (*connect.Response[api.UpdateExpenseResponse], error) {
	before, group, err := s.loadExpense(ctx, "UpdateExpense", req.Msg.ExpenseID)
	if err != nil {
		return nil, err
	}
	if req.Msg.Version != 0 && req.Msg.Version != before.Version {
		return nil, connect.NewError(connect.CodeAborted,
			fmt.Errorf("expense %s is at version %d, not %d", before.ID, before.Version, req.Msg.Version))
	}

	update := req.Msg.Update
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		update.Title = &title
	}
	if update.Category != nil {
		category := strings.ToUpper(*update.Category)
		update.Category = &category
	}
	after, err := update.Apply(before)
	if err != nil {
		return nil, toConnectError("UpdateExpense", err)
	}
	after.Date = after.Date.UTC()

	if req.Msg.Strategy != "" || update.Splits != nil || update.Amount != nil {
		// Without a strategy the resulting splits, old or new, must add up to the amount.
		explicit := after.Splits
		if req.Msg.Strategy != "" {
			explicit = update.Splits
		}
		splits, err := resolveSplits(after.Amount, explicit, req.Msg.Strategy, req.Msg.Shares)
		if err != nil {
			return nil, toConnectError("UpdateExpense", err)
		}
		after.Splits = splits
	}
	if err := checkMembers(group, after); err != nil {
		return nil, toConnectError("UpdateExpense", err)
	}

	// The write is compare-and-swap on before.Version, so only one of two concurrent
	// edits of the same expense reaches the ledger.
	after.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateExpense(ctx, after); err != nil {
		return nil, toConnectError("UpdateExpense", err)
	}

	res, err := s.ledger.OnExpenseUpdated(ctx, before, after)
	if err != nil {
		s.undoUpdate(ctx, before, after)
		return nil, toConnectError("UpdateExpense", err)
	}

	slog.Info("Expense updated",
		"expense_id", after.ID, "group_id", after.GroupID,
		"reversed", res.Reversed.Reversed, "created", res.Applied.Created, "updated", res.Applied.Updated)
	return connect.NewResponse(&api.UpdateExpenseResponse{Expense: after, Ledger: res}), nil
}

// undoUpdate restores the stored expense and its ledger contributions.
func (s *ExpenseService) undoUpdate(ctx context.Context, before, after *models.Expense) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), undoTimeout)
	defer cancel()

	restore := before.Clone()
	restore.Version = after.Version
	if err := s.store.UpdateExpense(ctx, restore); err != nil {
		slog.Error("Failed to restore expense after ledger error", "expense_id", before.ID, "error", err)
		return
	}
	if _, err := s.ledger.Reverse(ctx, after); err != nil {
		slog.Error("Failed to reverse updated expense", "expense_id", after.ID, "error", err)
		return
	}
	if _, err := s.ledger.Apply(ctx, before); err != nil {
		slog.Error("Failed to reapply expense before edit", "expense_id", before.ID, "error", err)
	}
}

// DeleteExpense reverses an expense's contributions and then deletes it.
// A failed reversal leaves the expense in place so the call can be retried.
func (s *ExpenseService) DeleteExpense(ctx context.Context, req *connect.Request[api.DeleteExpenseRequest]) (*connect.Response[api.DeleteExpenseResponse], error) {
	expense, _, err := s.loadExpense(ctx, "DeleteExpense", req.Msg.ExpenseID)
	if err != nil {
		return nil, err
	}

	res, err := s.ledger.OnExpenseDeleted(ctx, expense)
	if err != nil {
		return nil, toConnectError("DeleteExpense", err)
	}
	if err := s.store.DeleteExpense(ctx, expense.ID); err != nil {
		return nil, toConnectError("DeleteExpense", err)
	}

	slog.Info("Expense deleted",
		"expense_id", expense.ID, "group_id", expense.GroupID,
		"reversed", res.Reversed, "deleted", res.Deleted, "missing", res.Missing)
	return connect.NewResponse(&api.DeleteExpenseResponse{Ledger: res}), nil
}

// loadExpense fetches an expense the caller may see, with its group.
func (s *ExpenseService) loadExpense(ctx context.Context, op, expenseID string) (*models.Expense, *models.Group, error) {
	if expenseID == "" {
		return nil, nil, connect.NewError(connect.CodeInvalidArgument, errors.New("expense_id is required"))
	}
	if err := checkID("expense_id", expenseID, id.PrefixExpense); err != nil {
		return nil, nil, err
	}
	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, nil, toConnectError(op, err)
	}
	group, err := requireMember(ctx, s.store, op, expense.GroupID)
	if err != nil {
		return nil, nil, err
	}
	return expense, group, nil
}
