// Package store persists API keys, the order ledger and the product snapshot
// cache. It runs on SQLite for single-node and development setups and on
// Postgres (through the pgx database/sql driver) in production.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Store wraps the gateway database. Every operation checks out a dedicated
// connection from the pool and returns it before the call completes.
type Store struct {
	db     *sqlx.DB
	driver string

	schemaMu    sync.Mutex
	schemaReady atomic.Bool
}

// Open connects to the database. For SQLite an empty dsn opens a private
// in-memory database. "postgres" is accepted as an alias for "pgx".
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, "sqlite3":
		driver = DriverSQLite
		if dsn == "" {
			dsn = ":memory:?_pragma=foreign_keys(1)"
		}
	case DriverPostgres, "postgres", "postgresql":
		driver = DriverPostgres
		if dsn == "" {
			return nil, fmt.Errorf("database dsn is required for driver %q", driver)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	return &Store{db: db, driver: driver}, nil
}

// NewSQLite opens (creating if needed) mcpgate.db under dataDir. Pass an
// empty string for an in-memory database.
func NewSQLite(dataDir string) (*Store, error) {
	if dataDir == "" {
		return Open(DriverSQLite, "")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := filepath.Join(dataDir, "mcpgate.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return Open(DriverSQLite, dsn)
}

// Driver returns the normalized driver name.
func (s *Store) Driver() string {
	return s.driver
}

// SetMaxOpenConns caps the pool size. SQLite stays pinned to one connection.
func (s *Store) SetMaxOpenConns(n int) {
	if s.driver == DriverSQLite || n <= 0 {
		return
	}
	s.db.SetMaxOpenConns(n)
	s.db.SetMaxIdleConns(n)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withConn checks out one connection for fn and always releases it, whatever
// fn returns.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlx.Conn) error) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
