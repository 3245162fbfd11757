package calculator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNoParticipants       = errors.New("no participants")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidShare         = errors.New("invalid share")
	ErrDuplicateParticipant = errors.New("duplicate participant")
	ErrUnknownStrategy      = errors.New("unknown split strategy")
	ErrSplitsDoNotReconcile = errors.New("splits do not reconcile")
)

// ReconcileError reports supplied shares that do not add up to the expected total.
// Total is what the shares summed to; Expected is the amount (or 100 for percentages).
type ReconcileError struct {
	Strategy Strategy
	Total    decimal.Decimal
	Expected decimal.Decimal
}

func (e *ReconcileError) Error() string {
	if e.Strategy == StrategyPercentage {
		return fmt.Sprintf("split percentages must total %s (got %s)", e.Expected.StringFixed(2), e.Total.StringFixed(2))
	}
	return fmt.Sprintf("split amounts must total %s (got %s)", e.Expected.StringFixed(2), e.Total.StringFixed(2))
}

// Is makes errors.Is(err, ErrSplitsDoNotReconcile) hold for every ReconcileError.
func (e *ReconcileError) Is(target error) bool {
	return target == ErrSplitsDoNotReconcile
}

// IsInputError reports whether err is a client-input error raised by the calculator.
func IsInputError(err error) bool {
	return errors.Is(err, ErrNoParticipants) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidShare) ||
		errors.Is(err, ErrDuplicateParticipant) ||
		errors.Is(err, ErrUnknownStrategy) ||
		errors.Is(err, ErrSplitsDoNotReconcile)
}
