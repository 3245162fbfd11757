package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

const journalColumns = `id, expense_id, group_id, from_user_id, to_user_id, amount, settlement_id, settled, created_at`

// AppendJournalLine inserts a journal line; the primary key rejects duplicates.
func (s *SQLiteStore) AppendJournalLine(ctx context.Context, l *models.JournalLine) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_lines (`+journalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ExpenseID, l.GroupID, l.From, l.To, l.Amount, l.SettlementID, boolToInt(l.Settled), toUnix(l.CreatedAt),
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert journal line: %w", err)
	}
	return nil
}

// GetJournalLine retrieves a journal line by ID.
func (s *SQLiteStore) GetJournalLine(ctx context.Context, lineID string) (*models.JournalLine, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+journalColumns+` FROM journal_lines WHERE id = ?`, lineID)
	l, err := scanJournalLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal line: %w", err)
	}
	return l, nil
}

// DeleteJournalLine removes a journal line by ID.
func (s *SQLiteStore) DeleteJournalLine(ctx context.Context, lineID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM journal_lines WHERE id = ?", lineID)
	if err != nil {
		return fmt.Errorf("failed to delete journal line: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListJournalLines retrieves matching journal lines, oldest first.
func (s *SQLiteStore) ListJournalLines(ctx context.Context, filter storage.JournalFilter) ([]*models.JournalLine, error) {
	query := `SELECT ` + journalColumns + ` FROM journal_lines WHERE 1 = 1`
	var args []any
	if filter.ExpenseID != "" {
		query += ` AND expense_id = ?`
		args = append(args, filter.ExpenseID)
	}
	if filter.GroupID != "" {
		query += ` AND group_id = ?`
		args = append(args, filter.GroupID)
	}
	if filter.SettlementID != "" {
		query += ` AND settlement_id = ?`
		args = append(args, filter.SettlementID)
	}
	if filter.UnsettledOnly {
		query += ` AND settled = 0`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal lines: %w", err)
	}
	defer rows.Close()

	lines := make([]*models.JournalLine, 0)
	for rows.Next() {
		l, err := scanJournalLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal lines: %w", err)
	}
	return lines, nil
}

// SettleJournalLines marks the unsettled lines feeding a settlement as settled.
func (s *SQLiteStore) SettleJournalLines(ctx context.Context, settlementID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE journal_lines SET settled = 1 WHERE settlement_id = ? AND settled = 0",
		settlementID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to settle journal lines: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count settled journal lines: %w", err)
	}
	return int(n), nil
}

func scanJournalLine(row scanner) (*models.JournalLine, error) {
	l := &models.JournalLine{}
	var settled int
	var createdAt int64
	err := row.Scan(&l.ID, &l.ExpenseID, &l.GroupID, &l.From, &l.To, &l.Amount, &l.SettlementID, &settled, &createdAt)
	if err != nil {
		return nil, err
	}
	l.Settled = settled == 1
	l.CreatedAt = fromUnix(createdAt)
	return l, nil
}
