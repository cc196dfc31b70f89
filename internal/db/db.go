package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB with quotecall-specific helpers.
type DB struct {
	*sql.DB
	path string
}

const pragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// OpenMemory creates an in-memory SQLite database (useful for testing).
// Every connection to ":memory:" gets its own database, so the pool is
// pinned to a single connection.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// Path returns the file the database was opened from.
func (d *DB) Path() string { return d.path }

// migrate runs all schema migrations.
func (d *DB) migrate() error {
	_, err := d.Exec(schema)
	return err
}

// schema contains the full database schema. New tables are added here.
// Timestamps that take part in expiry checks are stored as unix
// milliseconds so comparisons stay numeric.
const schema = `
CREATE TABLE IF NOT EXISTS call_states (
    call_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_states_expires ON call_states(expires_at);

CREATE TABLE IF NOT EXISTS call_state_locks (
    call_id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    acquired_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS suppliers (
    id TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL,
    name TEXT NOT NULL,
    phone TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS quote_requests (
    id TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL,
    requester_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open','quoted','closed')),
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS requested_items (
    id TEXT PRIMARY KEY,
    quote_request_id TEXT NOT NULL REFERENCES quote_requests(id) ON DELETE CASCADE,
    part_number TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL DEFAULT 1,
    position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_requested_items_request ON requested_items(quote_request_id, position);

CREATE TABLE IF NOT EXISTS supplier_quotes (
    id TEXT PRIMARY KEY,
    requested_item_id TEXT NOT NULL REFERENCES requested_items(id) ON DELETE CASCADE,
    supplier_id TEXT NOT NULL REFERENCES suppliers(id) ON DELETE CASCADE,
    quote_request_id TEXT NOT NULL,
    unit_price REAL,
    total_price REAL,
    currency TEXT NOT NULL DEFAULT 'USD',
    availability TEXT NOT NULL DEFAULT 'UNKNOWN' CHECK(availability IN ('IN_STOCK','BACKORDERED','SPECIAL_ORDER','UNKNOWN')),
    lead_time_days INTEGER,
    notes TEXT NOT NULL DEFAULT '',
    valid_until DATETIME,
    source TEXT NOT NULL DEFAULT 'call' CHECK(source IN ('call','email','pdf')),
    source_id TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
    UNIQUE(requested_item_id, supplier_id)
);

CREATE INDEX IF NOT EXISTS idx_supplier_quotes_request ON supplier_quotes(quote_request_id);

CREATE TABLE IF NOT EXISTS call_logs (
    id TEXT PRIMARY KEY,
    quote_request_id TEXT NOT NULL REFERENCES quote_requests(id) ON DELETE CASCADE,
    supplier_id TEXT NOT NULL REFERENCES suppliers(id) ON DELETE CASCADE,
    organization_id TEXT NOT NULL,
    caller_id TEXT NOT NULL DEFAULT '',
    external_call_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'queued' CHECK(status IN ('queued','in_progress','completed','escalated','failed')),
    vendor_status TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL DEFAULT '',
    next_action TEXT NOT NULL DEFAULT '',
    needs_human_escalation INTEGER NOT NULL DEFAULT 0,
    ended_reason TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    transcript TEXT NOT NULL DEFAULT '[]',
    captured_quotes TEXT NOT NULL DEFAULT '[]',
    extraction_status TEXT NOT NULL DEFAULT 'none' CHECK(extraction_status IN ('none','pending','done','failed')),
    started_at DATETIME,
    ended_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_call_logs_request ON call_logs(quote_request_id);
CREATE INDEX IF NOT EXISTS idx_call_logs_extraction ON call_logs(extraction_status);

CREATE TABLE IF NOT EXISTS supplier_replies (
    id TEXT PRIMARY KEY,
    quote_request_id TEXT NOT NULL REFERENCES quote_requests(id) ON DELETE CASCADE,
    supplier_id TEXT NOT NULL REFERENCES suppliers(id) ON DELETE CASCADE,
    kind TEXT NOT NULL CHECK(kind IN ('email','pdf')),
    body TEXT NOT NULL,
    extraction_status TEXT NOT NULL DEFAULT 'pending' CHECK(extraction_status IN ('pending','done','failed')),
    received_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_supplier_replies_extraction ON supplier_replies(extraction_status);

CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    severity TEXT NOT NULL DEFAULT 'info' CHECK(severity IN ('info','warning','critical')),
    organization_id TEXT NOT NULL,
    quote_request_id TEXT NOT NULL DEFAULT '',
    call_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    delivered INTEGER NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_notifications_delivered ON notifications(delivered);
CREATE INDEX IF NOT EXISTS idx_notifications_org ON notifications(organization_id, created_at);

CREATE TABLE IF NOT EXISTS notification_preferences (
    organization_id TEXT NOT NULL,
    channel TEXT NOT NULL DEFAULT 'webhook',
    severity_filter TEXT NOT NULL DEFAULT 'info',
    webhook_url TEXT,
    PRIMARY KEY(organization_id, channel)
);
`
