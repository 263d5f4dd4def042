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

const orderColumns = `id, order_id, api_key_id, product_id, quantity, buyer_pubkey, status, total, currency, created_at`

// InsertOrder records an order placed through the gateway. APIKeyID must
// reference an existing key.
func (s *Store) InsertOrder(ctx context.Context, rec *model.OrderRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.withConn(ctx, func(conn *sqlx.Conn) error {
		q := conn.Rebind(`INSERT INTO mcp_orders
			(order_id, api_key_id, product_id, quantity, buyer_pubkey, status, total, currency, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`)
		var id int64
		if err := conn.GetContext(ctx, &id, q,
			rec.OrderID, rec.APIKeyID, rec.ProductID, rec.Quantity, rec.BuyerPubkey,
			rec.Status, rec.Total, rec.Currency, rec.CreatedAt); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		rec.ID = id
		return nil
	})
}

// GetOrder returns the ledger row for an external order id.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*model.OrderRecord, error) {
	var rec model.OrderRecord
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &rec,
			conn.Rebind(`SELECT `+orderColumns+` FROM mcp_orders WHERE order_id = ?`), orderID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &rec, nil
}

// ListOrdersByAPIKey returns the most recent orders placed with a key.
func (s *Store) ListOrdersByAPIKey(ctx context.Context, apiKeyID int64, limit int) ([]model.OrderRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	recs := []model.OrderRecord{}
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		q := conn.Rebind(`SELECT ` + orderColumns + ` FROM mcp_orders
			WHERE api_key_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`)
		return conn.SelectContext(ctx, &recs, q, apiKeyID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return recs, nil
}

// UpdateOrderStatus refreshes the cached status of an order.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	return s.withConn(ctx, func(conn *sqlx.Conn) error {
		_, err := conn.ExecContext(ctx,
			conn.Rebind(`UPDATE mcp_orders SET status = ? WHERE order_id = ?`), status, orderID)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return nil
	})
}
