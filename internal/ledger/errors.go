package ledger

import (
	"errors"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

var (
	// ErrTransient is returned when a settlement mutation kept losing compare-and-swap
	// races. The caller may retry the whole expense operation.
	ErrTransient = errors.New("ledger busy, try again")

	// ErrInvalidExpense is returned for expenses that cannot enter the ledger.
	ErrInvalidExpense = models.ErrInvalidExpense

	// ErrSettlementCompleted is returned when a completed settlement is marked paid again.
	ErrSettlementCompleted = errors.New("settlement already completed")

	// ErrJournalMismatch is returned when the journal lines of an expense record different
	// debts than the expense itself. Reconstruct with Reset rebuilds them.
	ErrJournalMismatch = errors.New("journal does not match expense")
)

// IsRetryable reports whether the failed operation may succeed when retried as a whole.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, storage.ErrConflict)
}
