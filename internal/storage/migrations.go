package storage

import (
	"context"
	"fmt"
	"sort"
)

// migration is one forward-only schema step. Applying the full set is
// idempotent: already-applied versions are skipped.
type migration struct {
	version int
	name    string
	sqlite  string
	postgres string
}

var migrations = []migration{
	{
		version: 1,
		name:    "init",
		sqlite:  sqliteSchemaV1,
		postgres: postgresSchemaV1,
	},
}

func (b *Backend) migrate(ctx context.Context) error {
	sorted := append([]migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].version < sorted[j].version })

	return b.Transaction(ctx, func(c Conn) error {
		if _, err := c.ExecContext(ctx, b.rebind(`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`)); err != nil {
			return err
		}

		for _, m := range sorted {
			var count int
			if err := c.GetContext(ctx, &count, b.rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), m.version); err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			stmt := m.sqlite
			if b.driver == DriverPostgres {
				stmt = m.postgres
			}
			if _, err := c.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
			if _, err := c.ExecContext(ctx, b.rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`), m.version, Now()); err != nil {
				return err
			}
		}
		return nil
	})
}

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	purpose TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	visibility TEXT NOT NULL,
	message_type TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	timestamp TIMESTAMP NOT NULL,
	parent_message_id INTEGER REFERENCES messages(id)
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp, id);

CREATE TABLE IF NOT EXISTS agent_memory (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	session_id TEXT REFERENCES sessions(id),
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP,
	UNIQUE(agent_id, session_id, key)
);
CREATE INDEX IF NOT EXISTS idx_memory_agent ON agent_memory(agent_id, session_id);
CREATE INDEX IF NOT EXISTS idx_memory_expires ON agent_memory(expires_at);

CREATE TABLE IF NOT EXISTS secure_tokens (
	token_id TEXT PRIMARY KEY,
	encrypted_jwt TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tokens_expires ON secure_tokens(expires_at);

CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	session_id TEXT,
	resource TEXT,
	action TEXT,
	result TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_events(agent_id);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id);
`

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	purpose TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	metadata JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	visibility TEXT NOT NULL,
	message_type TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	timestamp TIMESTAMPTZ NOT NULL,
	parent_message_id BIGINT REFERENCES messages(id)
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp, id);

CREATE TABLE IF NOT EXISTS agent_memory (
	id BIGSERIAL PRIMARY KEY,
	agent_id TEXT NOT NULL,
	session_id TEXT REFERENCES sessions(id),
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	UNIQUE(agent_id, session_id, key)
);
CREATE INDEX IF NOT EXISTS idx_memory_agent ON agent_memory(agent_id, session_id);
CREATE INDEX IF NOT EXISTS idx_memory_expires ON agent_memory(expires_at);

CREATE TABLE IF NOT EXISTS secure_tokens (
	token_id TEXT PRIMARY KEY,
	encrypted_jwt TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tokens_expires ON secure_tokens(expires_at);

CREATE TABLE IF NOT EXISTS audit_events (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	event_type TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	session_id TEXT,
	resource TEXT,
	action TEXT,
	result TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_events(agent_id);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id);
`
