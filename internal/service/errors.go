package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/proof"
	"github.com/mmynk/splitledger/internal/storage"
)

var (
	errAuthRequired = errors.New("authentication required")
	errNotMember    = errors.New("you are not a member of this group")
	errNotParty     = errors.New("you are not a party to this settlement")
	errAdminOnly    = errors.New("admin access required")
)

// toConnectError maps domain errors to connect codes. Unexpected errors are
// logged with op and hidden behind CodeInternal.
func toConnectError(op string, err error) error {
	var connectErr *connect.Error
	switch {
	case errors.As(err, &connectErr):
		return connectErr
	case calculator.IsInputError(err),
		errors.Is(err, ledger.ErrInvalidExpense),
		errors.Is(err, proof.ErrEmpty),
		errors.Is(err, proof.ErrTooLarge),
		errors.Is(err, proof.ErrUnsupportedType):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, storage.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ledger.ErrTransient):
		return connect.NewError(connect.CodeUnavailable, fmt.Errorf("%s: ledger busy, try again", op))
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, ledger.ErrJournalMismatch):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, storage.ErrAlreadyExists):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, ledger.ErrSettlementCompleted):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	}
	slog.Error(op+" failed", "error", err)
	return connect.NewError(connect.CodeInternal, fmt.Errorf("%s failed", op))
}
