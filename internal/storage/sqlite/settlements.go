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

const settlementColumns = `id, group_id, from_user_id, to_user_id, amount, payment_method, status, notes, proof,
	active, version, date, created_at, updated_at`

// CreateSettlement persists a new settlement. The partial unique index on pending keys
// rejects a second PENDING settlement for the same (group, from, to).
func (s *SQLiteStore) CreateSettlement(ctx context.Context, st *models.Settlement) error {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	if st.Date.IsZero() {
		st.Date = now
	}
	st.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settlements (`+settlementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.GroupID, st.FromUserID, st.ToUserID, st.Amount, st.PaymentMethod, string(st.Status),
		st.Notes, st.Proof, boolToInt(st.Active), 1, toUnix(st.Date), toUnix(st.CreatedAt), toUnix(st.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	st.Version = 1
	return nil
}

// GetSettlement retrieves a settlement by ID.
func (s *SQLiteStore) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = ?`, settlementID)
	st, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return st, nil
}

// FindPendingSettlement looks up the PENDING settlement for key.
func (s *SQLiteStore) FindPendingSettlement(ctx context.Context, key models.SettlementKey) (*models.Settlement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements
		 WHERE group_id = ? AND from_user_id = ? AND to_user_id = ? AND status = ?`,
		key.GroupID, key.From, key.To, string(models.StatusPending),
	)
	st, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending settlement: %w", err)
	}
	return st, nil
}

// UpdateSettlement writes the settlement when the stored version still matches.
func (s *SQLiteStore) UpdateSettlement(ctx context.Context, st *models.Settlement) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE settlements SET group_id = ?, from_user_id = ?, to_user_id = ?, amount = ?, payment_method = ?,
		 status = ?, notes = ?, proof = ?, active = ?, date = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		st.GroupID, st.FromUserID, st.ToUserID, st.Amount, st.PaymentMethod,
		string(st.Status), st.Notes, st.Proof, boolToInt(st.Active), toUnix(st.Date), toUnix(now),
		st.ID, st.Version,
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, "settlements", st.ID)
	}

	st.Version++
	st.UpdatedAt = now
	return nil
}

// DeleteSettlement removes a settlement when the stored version still matches.
func (s *SQLiteStore) DeleteSettlement(ctx context.Context, settlementID string, version int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM settlements WHERE id = ? AND version = ?", settlementID, version)
	if err != nil {
		return fmt.Errorf("failed to delete settlement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, "settlements", settlementID)
	}
	return nil
}

// missingOrConflict tells apart a missing row from a version mismatch after a CAS write hit no rows.
func (s *SQLiteStore) missingOrConflict(ctx context.Context, table, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check %s row existence: %w", table, err)
	}
	return storage.ErrConflict
}

// ListSettlements retrieves matching settlements, most recent first.
func (s *SQLiteStore) ListSettlements(ctx context.Context, filter storage.SettlementFilter) ([]*models.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE 1 = 1`
	var args []any
	if filter.GroupID != "" {
		query += ` AND group_id = ?`
		args = append(args, filter.GroupID)
	}
	if filter.UserID != "" {
		query += ` AND (from_user_id = ? OR to_user_id = ?)`
		args = append(args, filter.UserID, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY date DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	settlements := make([]*models.Settlement, 0)
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}
	return settlements, nil
}

func scanSettlement(row scanner) (*models.Settlement, error) {
	st := &models.Settlement{}
	var status string
	var active int
	var date, createdAt, updatedAt int64
	err := row.Scan(&st.ID, &st.GroupID, &st.FromUserID, &st.ToUserID, &st.Amount, &st.PaymentMethod,
		&status, &st.Notes, &st.Proof, &active, &st.Version, &date, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	st.Status = models.SettlementStatus(status)
	st.Active = active == 1
	st.Date = fromUnix(date)
	st.CreatedAt = fromUnix(createdAt)
	st.UpdatedAt = fromUnix(updatedAt)
	return st, nil
}
