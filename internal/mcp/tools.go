package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/plebmarket/mcpgate/internal/market"
	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/nostrauth"
	"github.com/plebmarket/mcpgate/internal/store"
)

// Tool names.
const (
	ToolSearchProducts = "search_products"
	ToolGetProduct     = "get_product"
	ToolCreateOrder    = "create_order"
	ToolGetOrder       = "get_order"
	ToolListOrders     = "list_orders"
	ToolWhoami         = "whoami"
)

// MsgInsufficientPermissions is the error of a mutating tool called with a
// read-only key.
const MsgInsufficientPermissions = "Insufficient permissions: this tool requires a read_write API key"

// registerTools registers all gateway tools on the given server.
func registerTools(srv *server.MCPServer) {

	// ----- Product tools -----

	srv.AddTool(
		mcp.NewTool(ToolSearchProducts,
			mcp.WithDescription(
				"Search marketplace products by name or description. Returns up to "+
					"limit products with price, currency, stock and seller pubkey. When the "+
					"marketplace is unreachable the gateway's cached snapshot is returned "+
					"and _meta.dataSource is \"cached_db\".",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("query",
				mcp.Description("Search text. Omit to list recent products."),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of products to return (default 20, max 100)"),
			),
		),
		handleSearchProducts,
	)

	srv.AddTool(
		mcp.NewTool(ToolGetProduct,
			mcp.WithDescription("Get one product by id, including description and images."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("product_id",
				mcp.Required(),
				mcp.Description("Product id as returned by search_products"),
			),
		),
		handleGetProduct,
	)

	// ----- Order tools -----

	srv.AddTool(
		mcp.NewTool(ToolCreateOrder,
			mcp.WithDescription(
				"Place an order for a product on behalf of the API key owner. The buyer "+
					"is the key's Nostr pubkey. Returns the order with its payment invoice. "+
					"Requires an API key with read_write permissions.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("product_id",
				mcp.Required(),
				mcp.Description("Product id to order"),
			),
			mcp.WithNumber("quantity",
				mcp.Description("Number of units (default 1, max 1000)"),
			),
			mcp.WithString("shipping_address",
				mcp.Description("Shipping address for physical goods"),
			),
			mcp.WithString("note",
				mcp.Description("Free-form note for the seller"),
			),
		),
		handleCreateOrder,
	)

	srv.AddTool(
		mcp.NewTool(ToolGetOrder,
			mcp.WithDescription("Get the current status of an order placed with this API key."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("order_id",
				mcp.Required(),
				mcp.Description("Order id as returned by create_order"),
			),
		),
		handleGetOrder,
	)

	srv.AddTool(
		mcp.NewTool(ToolListOrders,
			mcp.WithDescription("List orders placed through the gateway with this API key, newest first."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of orders to return (default 20, max 100)"),
			),
		),
		handleListOrders,
	)

	// ----- Account -----

	srv.AddTool(
		mcp.NewTool(ToolWhoami,
			mcp.WithDescription("Describe the API key this session authenticated with: owner pubkey, npub and permissions."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		handleWhoami,
	)
}

// --------------------------------------------------------------------------
// Product handlers
// --------------------------------------------------------------------------

func handleSearchProducts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	sc := SessionContextFrom(ctx)
	if sc == nil {
		return toolError("no session context")
	}
	query := optionalString(request, "query")
	limit := clamp(optionalInt(request, "limit", 20), 1, 100)

	var liveErr error
	if sc.Market != nil {
		products, err := sc.Market.SearchProducts(ctx, sc.Token, query, limit)
		if err == nil {
			sc.cacheProducts(ctx, products...)
			return successWithMeta(map[string]any{
				"products": products,
				"count":    len(products),
			}, start, sourceLive)
		}
		if !canFallback(err) {
			return errorWithMeta("Failed to search products", err.Error(), start, sourceLive)
		}
		sc.Logger.Warn("product search failed, serving cache", "error", err)
		liveErr = err
	}

	cached, err := sc.Store.SearchProducts(ctx, query, limit)
	if err != nil {
		return errorWithMeta("Failed to search products", joinDetails(liveErr, err), start, sourceCache)
	}
	products := make([]model.Product, len(cached))
	for i, c := range cached {
		products[i] = c.Product
	}
	payload := map[string]any{
		"products": products,
		"count":    len(products),
	}
	if liveErr != nil {
		payload["warning"] = "marketplace unavailable; results come from the last cached snapshot"
	}
	return successWithMeta(payload, start, sourceCache)
}

func handleGetProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	sc := SessionContextFrom(ctx)
	if sc == nil {
		return toolError("no session context")
	}
	id, err := requireString(request, "product_id")
	if err != nil {
		return toolError("%v", err)
	}

	var liveErr error
	if sc.Market != nil {
		p, err := sc.Market.GetProduct(ctx, sc.Token, id)
		if err == nil {
			sc.cacheProducts(ctx, *p)
			return successWithMeta(map[string]any{"product": p}, start, sourceLive)
		}
		if market.IsNotFound(err) {
			return errorWithMeta("Product not found", id, start, sourceLive)
		}
		if !canFallback(err) {
			return errorWithMeta("Failed to get product", err.Error(), start, sourceLive)
		}
		sc.Logger.Warn("product lookup failed, serving cache", "product_id", id, "error", err)
		liveErr = err
	}

	cp, err := sc.Store.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return errorWithMeta("Product not found", joinDetails(liveErr, errors.New("no cached snapshot for "+id)), start, sourceCache)
	}
	if err != nil {
		return errorWithMeta("Failed to get product", joinDetails(liveErr, err), start, sourceCache)
	}
	return successWithMeta(map[string]any{
		"product":  cp.Product,
		"cachedAt": cp.FetchedAt,
	}, start, sourceCache)
}

// --------------------------------------------------------------------------
// Order handlers
// --------------------------------------------------------------------------

func handleCreateOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	sc := SessionContextFrom(ctx)
	if sc == nil {
		return toolError("no session context")
	}
	if !sc.APIKey.CanWrite() {
		return errorWithMeta(MsgInsufficientPermissions,
			"key "+sc.APIKey.KeyPrefix+" has "+sc.APIKey.Permissions+" permissions", start, sourceLive)
	}

	productID, err := requireString(request, "product_id")
	if err != nil {
		return toolError("%v", err)
	}
	qty := optionalInt(request, "quantity", 1)
	if qty < 1 || qty > 1000 {
		return toolError("quantity must be between 1 and 1000, got %d", qty)
	}
	if sc.Market == nil {
		return errorWithMeta("Marketplace unavailable", "orders can only be placed against the live marketplace", start, sourceLive)
	}

	order, err := sc.Market.CreateOrder(ctx, sc.Token, model.OrderRequest{
		ProductID:       productID,
		Quantity:        qty,
		BuyerPubkey:     sc.APIKey.Pubkey,
		ShippingAddress: optionalString(request, "shipping_address"),
		Note:            optionalString(request, "note"),
	})
	if err != nil {
		return errorWithMeta("Failed to create order", err.Error(), start, sourceLive)
	}

	rec := &model.OrderRecord{
		OrderID:     order.ID,
		APIKeyID:    sc.APIKey.ID,
		ProductID:   productID,
		Quantity:    qty,
		BuyerPubkey: sc.APIKey.Pubkey,
		Status:      order.Status,
		Total:       order.Total,
		Currency:    order.Currency,
	}
	if err := sc.Store.InsertOrder(ctx, rec); err != nil {
		sc.Logger.Warn("failed to record order", "order_id", order.ID, "error", err)
	}
	sc.Logger.Info("order created", "order_id", order.ID, "key_id", sc.APIKey.ID, "product_id", productID)

	return successWithMeta(map[string]any{"order": order}, start, sourceLive)
}

func handleGetOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	sc := SessionContextFrom(ctx)
	if sc == nil {
		return toolError("no session context")
	}
	id, err := requireString(request, "order_id")
	if err != nil {
		return toolError("%v", err)
	}

	// Only orders this key placed are visible; the ledger is the owner record.
	rec, err := sc.Store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorWithMeta("Order not found", id, start, sourceCache)
		}
		sc.Logger.Warn("order ledger lookup failed", "order_id", id, "error", err)
		return errorWithMeta("Failed to get order", err.Error(), start, sourceCache)
	}
	if rec.APIKeyID != sc.APIKey.ID {
		return errorWithMeta("Order not found", id, start, sourceCache)
	}

	var liveErr error
	if sc.Market != nil {
		order, err := sc.Market.GetOrder(ctx, sc.Token, id)
		if err == nil {
			if rec.Status != order.Status {
				if err := sc.Store.UpdateOrderStatus(ctx, id, order.Status); err != nil {
					sc.Logger.Warn("failed to update order status", "order_id", id, "error", err)
				}
			}
			return successWithMeta(map[string]any{"order": order}, start, sourceLive)
		}
		if market.IsNotFound(err) {
			return errorWithMeta("Order not found", id, start, sourceLive)
		}
		if !canFallback(err) {
			return errorWithMeta("Failed to get order", err.Error(), start, sourceLive)
		}
		liveErr = err
	}

	if liveErr != nil {
		sc.Logger.Warn("serving order from ledger", "order_id", id, "error", liveErr)
	}
	return successWithMeta(map[string]any{"order": orderFromRecord(rec)}, start, sourceCache)
}

func handleListOrders(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	sc := SessionContextFrom(ctx)
	if sc == nil {
		return toolError("no session context")
	}
	limit := clamp(optionalInt(request, "limit", 20), 1, 100)

	recs, err := sc.Store.ListOrdersByAPIKey(ctx, sc.APIKey.ID, limit)
	if err != nil {
		return errorWithMeta("Failed to list orders", err.Error(), start, sourceCache)
	}
	orders := make([]model.Order, len(recs))
	for i := range recs {
		orders[i] = orderFromRecord(&recs[i])
	}
	return successWithMeta(map[string]any{
		"orders": orders,
		"count":  len(orders),
	}, start, sourceCache)
}

// --------------------------------------------------------------------------
// Account
// --------------------------------------------------------------------------

func handleWhoami(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sc := SessionContextFrom(ctx)
	if sc == nil {
		return toolError("no session context")
	}
	npub, _ := nostrauth.EncodeNpub(sc.APIKey.Pubkey)
	return successJSON(accountInfo(sc, npub))
}

func accountInfo(sc *SessionContext, npub string) map[string]any {
	return map[string]any{
		"keyId":       sc.APIKey.ID,
		"name":        sc.APIKey.Name,
		"keyPrefix":   sc.APIKey.KeyPrefix,
		"pubkey":      sc.APIKey.Pubkey,
		"npub":        npub,
		"permissions": sc.APIKey.Permissions,
		"canWrite":    sc.APIKey.CanWrite(),
		"sessionId":   sc.SessionID,
	}
}

// --------------------------------------------------------------------------
// Shared helpers
// --------------------------------------------------------------------------

// cacheProducts refreshes the snapshot cache. Failures only cost freshness.
func (sc *SessionContext) cacheProducts(ctx context.Context, products ...model.Product) {
	if err := sc.Store.UpsertProducts(ctx, products); err != nil {
		sc.Logger.Warn("failed to refresh product cache", "count", len(products), "error", err)
	}
}

// canFallback reports whether a live failure may be answered from the cache:
// the marketplace was unreachable or failed on its side.
func canFallback(err error) bool {
	if errors.Is(err, market.ErrUnavailable) {
		return true
	}
	var se *market.StatusError
	return errors.As(err, &se) && se.StatusCode >= http.StatusInternalServerError
}

func joinDetails(errs ...error) string {
	var joined error
	for _, e := range errs {
		if e != nil {
			joined = errors.Join(joined, e)
		}
	}
	if joined == nil {
		return ""
	}
	return joined.Error()
}

func orderFromRecord(rec *model.OrderRecord) model.Order {
	return model.Order{
		ID:          rec.OrderID,
		ProductID:   rec.ProductID,
		Quantity:    rec.Quantity,
		BuyerPubkey: rec.BuyerPubkey,
		Status:      rec.Status,
		Total:       rec.Total,
		Currency:    rec.Currency,
		CreatedAt:   rec.CreatedAt,
	}
}
