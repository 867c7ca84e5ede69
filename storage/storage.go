// Package storage opens the firmdesk SQLite database and manages its schema.
package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

const createClientsTable = `
CREATE TABLE IF NOT EXISTS clients (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    email      TEXT NOT NULL DEFAULT '',
    phone      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);`

const createTemplatesTable = `
CREATE TABLE IF NOT EXISTS task_templates (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    category   TEXT NOT NULL DEFAULT 'other',
    recurrence TEXT NOT NULL DEFAULT 'none',
    anchor     DATETIME NOT NULL,
    client_id  TEXT NOT NULL DEFAULT '',
    assignees  TEXT NOT NULL DEFAULT '[]',
    payable    INTEGER NOT NULL DEFAULT 0,
    price      INTEGER NOT NULL DEFAULT 0,
    subtasks   TEXT NOT NULL DEFAULT '[]',
    active     INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);`

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    category    TEXT NOT NULL DEFAULT 'other',
    client_id   TEXT NOT NULL DEFAULT '',
    assignees   TEXT NOT NULL DEFAULT '[]',
    due_date    DATETIME NOT NULL,
    status      TEXT NOT NULL DEFAULT 'pending',
    payable     INTEGER NOT NULL DEFAULT 0,
    price       INTEGER NOT NULL DEFAULT 0,
    template_id TEXT NOT NULL DEFAULT '',
    invoice_id  TEXT NOT NULL DEFAULT '',
    subtasks    TEXT NOT NULL DEFAULT '[]',
    deleted     INTEGER NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
);

-- One generated task per (template, occurrence date). Expansion relies on
-- this index for idempotent inserts; user-created tasks have template_id ''.
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_template_due
    ON tasks(template_id, due_date) WHERE template_id != '';

CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);
`

const createInvoicesTable = `
CREATE TABLE IF NOT EXISTS invoices (
    id         TEXT PRIMARY KEY,
    number     TEXT NOT NULL UNIQUE,
    task_id    TEXT NOT NULL,
    client_id  TEXT NOT NULL DEFAULT '',
    amount     INTEGER NOT NULL DEFAULT 0,
    tax_amount INTEGER NOT NULL DEFAULT 0,
    total      INTEGER NOT NULL DEFAULT 0,
    status     TEXT NOT NULL DEFAULT 'draft',
    issue_date DATETIME NOT NULL,
    due_date   DATETIME NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

-- At most one live invoice per task. The generator's check-then-insert is
-- advisory; this index is the final authority under concurrent retries.
CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_task
    ON invoices(task_id) WHERE status != 'cancelled';
`

const createCommunicationLogTable = `
CREATE TABLE IF NOT EXISTS communication_log (
    id         TEXT PRIMARY KEY,
    client_id  TEXT NOT NULL DEFAULT '',
    recipient  TEXT NOT NULL DEFAULT '',
    channel    TEXT NOT NULL DEFAULT 'console',
    kind       TEXT NOT NULL DEFAULT 'reminder',
    subject    TEXT NOT NULL DEFAULT '',
    message    TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT 'sent',
    error      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);`

const createSettingsTable = `
CREATE TABLE IF NOT EXISTS automation_settings (
    id                   INTEGER PRIMARY KEY CHECK (id = 1),
    reminder_lead_days   INTEGER NOT NULL DEFAULT 3,
    client_notifications INTEGER NOT NULL DEFAULT 1,
    lookahead_days       INTEGER NOT NULL DEFAULT 30,
    tax_rate_bps         INTEGER NOT NULL DEFAULT 1800,
    updated_at           DATETIME NOT NULL
);`

const createSchemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
);`

// migrations is the ordered list of incremental schema changes applied after
// the initial table creation. A migration is skipped if its version is
// already present in the schema_version table.
var migrations = []struct {
	version int
	sql     string
}{
	// v1: index communication log lookups by client
	{1, "CREATE INDEX IF NOT EXISTS idx_comm_log_client ON communication_log(client_id)"},
}

// Open opens (or creates) the SQLite database at dbPath and ensures the
// schema exists. The caller is responsible for calling Close on the handle.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY

	for _, ddl := range []string{
		createClientsTable, createTemplatesTable, createTasksTable,
		createInvoicesTable, createCommunicationLogTable,
		createSettingsTable, createSchemaVersionTable,
	} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	for _, m := range migrations {
		var count int
		_ = db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", m.version).Scan(&count)
		if count > 0 {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		_, _ = db.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", m.version)
	}

	return db, nil
}

// IsUniqueViolation reports whether err is a SQLite unique-constraint
// failure. Idempotent inserts treat this as "row already exists".
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
