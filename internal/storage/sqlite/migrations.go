package sqlite

import (
	"database/sql"
	"fmt"
)

// schema sets up the ledger tables. It runs on startup to ensure tables exist.
// Amounts are stored as decimal strings; timestamps as unix nanoseconds.
const schema = `
CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'OTHER',
    created_by TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    total_expenses TEXT NOT NULL DEFAULT '0',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'MEMBER',
    joined_at INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (group_id, user_id),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS expenses (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT 'OTHER',
    group_id TEXT NOT NULL,
    paid_by TEXT NOT NULL,
    date INTEGER NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS expense_splits (
    expense_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    user_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    PRIMARY KEY (expense_id, position),
    FOREIGN KEY (expense_id) REFERENCES expenses(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS settlements (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    from_user_id TEXT NOT NULL,
    to_user_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    status TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    proof TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    version INTEGER NOT NULL,
    date INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_lines (
    id TEXT PRIMARY KEY,
    expense_id TEXT NOT NULL,
    group_id TEXT NOT NULL,
    from_user_id TEXT NOT NULL,
    to_user_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    settlement_id TEXT NOT NULL,
    settled INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_settlements_pending_key
    ON settlements(group_id, from_user_id, to_user_id) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_settlements_group_id ON settlements(group_id);
CREATE INDEX IF NOT EXISTS idx_settlements_from_user_id ON settlements(from_user_id);
CREATE INDEX IF NOT EXISTS idx_settlements_to_user_id ON settlements(to_user_id);
CREATE INDEX IF NOT EXISTS idx_expenses_group_id ON expenses(group_id);
CREATE INDEX IF NOT EXISTS idx_expense_splits_expense_id ON expense_splits(expense_id);
CREATE INDEX IF NOT EXISTS idx_group_members_group_id ON group_members(group_id);
CREATE INDEX IF NOT EXISTS idx_journal_lines_expense_id ON journal_lines(expense_id);
CREATE INDEX IF NOT EXISTS idx_journal_lines_settlement_id ON journal_lines(settlement_id);
CREATE INDEX IF NOT EXISTS idx_journal_lines_group_id ON journal_lines(group_id);
`

// columnAdditions lists columns introduced after a table was first shipped.
// CREATE TABLE IF NOT EXISTS leaves older tables without them.
var columnAdditions = []struct {
	table, column, definition string
}{
	{"expenses", "version", "INTEGER NOT NULL DEFAULT 1"},
}

// runMigrations executes the schema setup and adds missing columns to existing tables.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	for _, c := range columnAdditions {
		var n int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", c.table, c.column,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", c.table, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec("ALTER TABLE " + c.table + " ADD COLUMN " + c.column + " " + c.definition); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}
