package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/plebmarket/mcpgate/internal/model"
)

// CachedProduct is a product snapshot with the time it was fetched live.
type CachedProduct struct {
	Product   model.Product `json:"product"`
	FetchedAt time.Time     `json:"fetchedAt"`
}

type productRow struct {
	ProductID string    `db:"product_id"`
	Name      string    `db:"name"`
	Payload   string    `db:"payload"`
	FetchedAt time.Time `db:"fetched_at"`
}

func (r productRow) decode() (CachedProduct, error) {
	var p model.Product
	if err := json.Unmarshal([]byte(r.Payload), &p); err != nil {
		return CachedProduct{}, fmt.Errorf("decode cached product %s: %w", r.ProductID, err)
	}
	return CachedProduct{Product: p, FetchedAt: r.FetchedAt}, nil
}

// UpsertProducts stores live snapshots, replacing older ones.
func (s *Store) UpsertProducts(ctx context.Context, products []model.Product) error {
	if len(products) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withConn(ctx, func(conn *sqlx.Conn) error {
		tx, err := conn.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin product upsert: %w", err)
		}
		defer tx.Rollback()

		q := tx.Rebind(`INSERT INTO mcp_product_cache (product_id, name, payload, fetched_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (product_id) DO UPDATE SET
				name = excluded.name, payload = excluded.payload, fetched_at = excluded.fetched_at`)
		for _, p := range products {
			if p.ID == "" {
				continue
			}
			payload, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encode product %s: %w", p.ID, err)
			}
			if _, err := tx.ExecContext(ctx, q, p.ID, p.Name, string(payload), now); err != nil {
				return fmt.Errorf("upsert product %s: %w", p.ID, err)
			}
		}
		return tx.Commit()
	})
}

// GetProduct returns a cached snapshot or ErrNotFound.
func (s *Store) GetProduct(ctx context.Context, id string) (*CachedProduct, error) {
	var row productRow
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &row,
			conn.Rebind(`SELECT product_id, name, payload, fetched_at FROM mcp_product_cache WHERE product_id = ?`), id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cached product: %w", err)
	}
	cp, err := row.decode()
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// SearchProducts does a case-insensitive substring match on cached product
// names. An empty query returns the most recently refreshed products.
func (s *Store) SearchProducts(ctx context.Context, query string, limit int) ([]CachedProduct, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	var rows []productRow
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		q := conn.Rebind(`SELECT product_id, name, payload, fetched_at FROM mcp_product_cache
			WHERE LOWER(name) LIKE ? ORDER BY fetched_at DESC, product_id LIMIT ?`)
		return conn.SelectContext(ctx, &rows, q, pattern, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("search cached products: %w", err)
	}

	out := make([]CachedProduct, 0, len(rows))
	for _, r := range rows {
		cp, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}
