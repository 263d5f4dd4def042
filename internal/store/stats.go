package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Counts are aggregate row counts reported on the status endpoint.
type Counts struct {
	APIKeys        int64 `json:"apiKeys" db:"api_keys"`
	ActiveAPIKeys  int64 `json:"activeApiKeys" db:"active_api_keys"`
	Orders         int64 `json:"orders" db:"orders"`
	CachedProducts int64 `json:"cachedProducts" db:"cached_products"`
}

// Counts gathers all aggregates over a single connection.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		q := conn.Rebind(`SELECT
			(SELECT COUNT(*) FROM api_keys) AS api_keys,
			(SELECT COUNT(*) FROM api_keys WHERE is_active = ?) AS active_api_keys,
			(SELECT COUNT(*) FROM mcp_orders) AS orders,
			(SELECT COUNT(*) FROM mcp_product_cache) AS cached_products`)
		return conn.GetContext(ctx, &c, q, true)
	})
	if err != nil {
		return Counts{}, fmt.Errorf("count rows: %w", err)
	}
	return c, nil
}
