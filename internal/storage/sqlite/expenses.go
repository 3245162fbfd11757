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

const expenseColumns = `id, title, description, amount, category, group_id, paid_by, date, notes, version, created_at, updated_at`

// CreateExpense persists a new expense and its splits.
func (s *SQLiteStore) CreateExpense(ctx context.Context, e *models.Expense) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			e.ID, e.Title, e.Description, e.Amount, e.Category, e.GroupID, e.PaidBy,
			toUnix(e.Date), e.Notes, toUnix(e.CreatedAt), toUnix(e.UpdatedAt),
		)
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert expense: %w", err)
		}
		if err := insertSplits(ctx, tx, e); err != nil {
			return err
		}
		e.Version = 1
		return nil
	})
}

func insertSplits(ctx context.Context, tx *sql.Tx, e *models.Expense) error {
	for i, sp := range e.Splits {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO expense_splits (expense_id, position, user_id, amount) VALUES (?, ?, ?, ?)",
			e.ID, i, sp.UserID, sp.Amount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert split: %w", err)
		}
	}
	return nil
}

// GetExpense retrieves an expense by ID, including its splits.
func (s *SQLiteStore) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, expenseID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	splits, err := s.loadSplits(ctx, []string{e.ID})
	if err != nil {
		return nil, err
	}
	e.Splits = splits[e.ID]
	return e, nil
}

// UpdateExpense replaces the stored expense and all of its splits when the stored
// version still matches.
func (s *SQLiteStore) UpdateExpense(ctx context.Context, e *models.Expense) error {
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE expenses SET title = ?, description = ?, amount = ?, category = ?, group_id = ?,
			 paid_by = ?, date = ?, notes = ?, updated_at = ?, version = version + 1
			 WHERE id = ? AND version = ?`,
			e.Title, e.Description, e.Amount, e.Category, e.GroupID,
			e.PaidBy, toUnix(e.Date), e.Notes, toUnix(now), e.ID, e.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errNoRows
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM expense_splits WHERE expense_id = ?", e.ID); err != nil {
			return fmt.Errorf("failed to clear splits: %w", err)
		}
		return insertSplits(ctx, tx, e)
	})
	if errors.Is(err, errNoRows) {
		return s.missingOrConflict(ctx, "expenses", e.ID)
	}
	if err != nil {
		return err
	}

	e.Version++
	e.UpdatedAt = now
	return nil
}

// DeleteExpense removes an expense; its splits cascade.
func (s *SQLiteStore) DeleteExpense(ctx context.Context, expenseID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", expenseID)
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListExpenses returns the expenses of a group (or all groups), most recent first.
func (s *SQLiteStore) ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses`
	var args []any
	if groupID != "" {
		query += ` WHERE group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY date DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]*models.Expense, 0)
	var ids []string
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}
	rows.Close()

	splits, err := s.loadSplits(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, e := range expenses {
		e.Splits = splits[e.ID]
	}
	return expenses, nil
}

// loadSplits returns the splits of the given expenses keyed by expense id, in position order.
func (s *SQLiteStore) loadSplits(ctx context.Context, expenseIDs []string) (map[string][]models.Split, error) {
	result := make(map[string][]models.Split, len(expenseIDs))
	for _, expenseID := range expenseIDs {
		rows, err := s.db.QueryContext(ctx,
			"SELECT user_id, amount FROM expense_splits WHERE expense_id = ? ORDER BY position",
			expenseID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to get splits: %w", err)
		}

		for rows.Next() {
			var sp models.Split
			if err := rows.Scan(&sp.UserID, &sp.Amount); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan split: %w", err)
			}
			result[expenseID] = append(result[expenseID], sp)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate splits: %w", err)
		}
	}
	return result, nil
}

func scanExpense(row scanner) (*models.Expense, error) {
	e := &models.Expense{}
	var date, createdAt, updatedAt int64
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Amount, &e.Category, &e.GroupID,
		&e.PaidBy, &date, &e.Notes, &e.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.Date = fromUnix(date)
	e.CreatedAt = fromUnix(createdAt)
	e.UpdatedAt = fromUnix(updatedAt)
	return e, nil
}
