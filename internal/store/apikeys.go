package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/plebmarket/mcpgate/internal/model"
)

// apiKeyColumns is the public projection of api_keys. key_hash is left out so
// the comparator never leaves the store, not even towards the key's owner.
const apiKeyColumns = `id, key_prefix, name, pubkey, permissions, created_at, last_used_at, is_active`

// InsertAPIKey persists a new key. KeyHash must already be set (see
// HashAPIKey). ID, CreatedAt and IsActive are populated on success.
func (s *Store) InsertAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()
	key.IsActive = true

	return s.withConn(ctx, func(conn *sqlx.Conn) error {
		q := conn.Rebind(`INSERT INTO api_keys
			(key_hash, key_prefix, name, pubkey, permissions, created_at, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id`)
		var id int64
		err := conn.GetContext(ctx, &id, q,
			key.KeyHash, key.KeyPrefix, key.Name, key.Pubkey, key.Permissions, key.CreatedAt, true)
		if err != nil {
			return fmt.Errorf("insert api key: %w", err)
		}
		key.ID = id
		return nil
	})
}

// GetActiveAPIKeyByHash looks up an active key by its SHA-256 hash. Revoked
// keys are reported as ErrNotFound.
func (s *Store) GetActiveAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		q := conn.Rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = ? AND is_active = ?`)
		return conn.GetContext(ctx, &key, q, hash, true)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// GetAPIKey returns a key by id regardless of its active flag.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var key model.APIKey
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &key, conn.Rebind(`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`), id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeysByPubkey returns every key, active or revoked, owned by pubkey,
// newest first.
func (s *Store) ListAPIKeysByPubkey(ctx context.Context, pubkey string) ([]model.APIKey, error) {
	keys := []model.APIKey{}
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		q := conn.Rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE pubkey = ? ORDER BY created_at DESC, id DESC`)
		return conn.SelectContext(ctx, &keys, q, pubkey)
	})
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey deactivates key id if and only if it is owned by pubkey. It
// reports whether a row matched.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64, pubkey string) (bool, error) {
	var n int64
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		res, err := conn.ExecContext(ctx,
			conn.Rebind(`UPDATE api_keys SET is_active = ? WHERE id = ? AND pubkey = ?`),
			false, id, pubkey)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	return n > 0, nil
}

// TouchAPIKeyLastUsed sets last_used_at to now.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	var n int64
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		res, err := conn.ExecContext(ctx,
			conn.Rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`), now, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
