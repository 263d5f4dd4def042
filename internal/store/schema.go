package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key_hash TEXT UNIQUE NOT NULL,
		key_prefix TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		pubkey TEXT NOT NULL,
		permissions TEXT NOT NULL DEFAULT 'read' CHECK (permissions IN ('read', 'read_write')),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME,
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_pubkey ON api_keys(pubkey)`,

	`CREATE TABLE IF NOT EXISTS mcp_orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT UNIQUE NOT NULL,
		api_key_id INTEGER NOT NULL REFERENCES api_keys(id),
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		buyer_pubkey TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		total REAL NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mcp_orders_api_key ON mcp_orders(api_key_id)`,

	`CREATE TABLE IF NOT EXISTS mcp_product_cache (
		product_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		fetched_at DATETIME NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		key_hash TEXT UNIQUE NOT NULL,
		key_prefix TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		pubkey TEXT NOT NULL,
		permissions TEXT NOT NULL DEFAULT 'read' CHECK (permissions IN ('read', 'read_write')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_pubkey ON api_keys(pubkey)`,

	`CREATE TABLE IF NOT EXISTS mcp_orders (
		id BIGSERIAL PRIMARY KEY,
		order_id TEXT UNIQUE NOT NULL,
		api_key_id BIGINT NOT NULL REFERENCES api_keys(id),
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		buyer_pubkey TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		total DOUBLE PRECISION NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mcp_orders_api_key ON mcp_orders(api_key_id)`,

	`CREATE TABLE IF NOT EXISTS mcp_product_cache (
		product_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL
	)`,
}

// InitializeSchema creates the gateway tables if they do not exist. It is
// safe to call on every request path: after the first success it returns
// immediately.
func (s *Store) InitializeSchema(ctx context.Context) error {
	if s.schemaReady.Load() {
		return nil
	}

	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady.Load() {
		return nil
	}

	stmts := sqliteSchema
	if s.driver == DriverPostgres {
		stmts = postgresSchema
	}

	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		for _, stmt := range stmts {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				// Tolerate a concurrent instance racing us to create an index.
				if strings.Contains(err.Error(), "already exists") {
					continue
				}
				return fmt.Errorf("schema statement failed: %w\nSQL: %s", err, stmt)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.schemaReady.Store(true)
	return nil
}

// SchemaReady reports whether InitializeSchema has completed.
func (s *Store) SchemaReady() bool {
	return s.schemaReady.Load()
}
