package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

const groupColumns = `id, name, description, category, created_by, active, total_expenses, created_at`

// CreateGroup persists a new group with its members.
func (s *SQLiteStore) CreateGroup(ctx context.Context, g *models.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO groups (`+groupColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.Name, g.Description, g.Category, g.CreatedBy, boolToInt(g.Active),
			g.TotalExpenses, toUnix(g.CreatedAt),
		)
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}

		for i, m := range g.Members {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO group_members (group_id, position, user_id, name, role, joined_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				g.ID, i, m.UserID, m.Name, m.Role, toUnix(m.JoinedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to insert group member: %w", err)
			}
		}
		return nil
	})
}

// GetGroup retrieves a group by ID, including its members.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	groups, err := s.ListGroups(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, storage.ErrNotFound
	}
	return groups[0], nil
}

// ListGroups returns the requested groups, or all groups when no ids are given.
func (s *SQLiteStore) ListGroups(ctx context.Context, groupIDs ...string) ([]*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups`
	args := make([]any, len(groupIDs))
	if len(groupIDs) > 0 {
		query += ` WHERE id IN (?` + strings.Repeat(", ?", len(groupIDs)-1) + `)`
		for i, id := range groupIDs {
			args[i] = id
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*models.Group, 0)
	for rows.Next() {
		g := &models.Group{}
		var active int
		var createdAt int64
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.Category, &g.CreatedBy,
			&active, &g.TotalExpenses, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.Active = active == 1
		g.CreatedAt = fromUnix(createdAt)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	rows.Close()

	for _, g := range groups {
		members, err := s.loadMembers(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		g.Members = members
	}
	return groups, nil
}

func (s *SQLiteStore) loadMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, name, role, joined_at FROM group_members WHERE group_id = ? ORDER BY position",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		var joinedAt int64
		if err := rows.Scan(&m.UserID, &m.Name, &m.Role, &joinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		m.JoinedAt = fromUnix(joinedAt)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group members: %w", err)
	}
	return members, nil
}

// UpdateGroup writes the editable details of a group.
func (s *SQLiteStore) UpdateGroup(ctx context.Context, g *models.Group) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE groups SET name = ?, description = ?, category = ? WHERE id = ?",
		g.Name, g.Description, g.Category, g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AdjustGroupTotal adds delta to the group's running expense total inside a transaction.
func (s *SQLiteStore) AdjustGroupTotal(ctx context.Context, groupID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT total_expenses FROM groups WHERE id = ?", groupID).Scan(&total)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read group total: %w", err)
		}

		total = total.Add(delta)
		if _, err := tx.ExecContext(ctx, "UPDATE groups SET total_expenses = ? WHERE id = ?", total, groupID); err != nil {
			return fmt.Errorf("failed to update group total: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
