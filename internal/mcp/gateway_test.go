package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/server"

	"github.com/plebmarket/mcpgate/internal/market"
	"github.com/plebmarket/mcpgate/internal/metrics"
	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/service"
	"github.com/plebmarket/mcpgate/internal/store"
)

var testPubkey = strings.Repeat("ab", 32)

type testEnv struct {
	gw       *Gateway
	store    *store.Store
	keys     *service.KeyService
	recorder *metrics.Recorder

	orderPosts atomic.Int32
	orderGets  atomic.Int32
	marketDown atomic.Bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/products", func(w http.ResponseWriter, r *http.Request) {
		if env.marketDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"products": []model.Product{
			{ID: "p1", Name: "Bitcoin Hoodie", Price: 50000, Currency: "SAT", Quantity: 3},
		}})
	})
	mux.HandleFunc("GET /api/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if env.marketDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.PathValue("id") != "p1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Product not found"}`))
			return
		}
		json.NewEncoder(w).Encode(model.Product{ID: "p1", Name: "Bitcoin Hoodie", Price: 50000, Currency: "SAT"})
	})
	mux.HandleFunc("POST /api/orders", func(w http.ResponseWriter, r *http.Request) {
		env.orderPosts.Add(1)
		var req model.OrderRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.Order{
			ID: "ord_1", ProductID: req.ProductID, Quantity: req.Quantity, BuyerPubkey: req.BuyerPubkey,
			Status: "pending", Total: 50000, Currency: "SAT",
		})
	})
	mux.HandleFunc("GET /api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		env.orderGets.Add(1)
		json.NewEncoder(w).Encode(model.Order{ID: r.PathValue("id"), Status: "paid"})
	})
	mkt := httptest.NewServer(mux)
	t.Cleanup(mkt.Close)

	client, err := market.New(mkt.URL, market.Options{})
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}

	st, err := store.NewSQLite("")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.store = st
	env.keys = service.NewKeyService(st, logger)
	t.Cleanup(env.keys.Wait)
	env.recorder = metrics.NewRecorder()
	env.gw = New(Config{
		Keys:    env.keys,
		Market:  client,
		Store:   st,
		Metrics: env.recorder,
		Logger:  logger,
	})
	return env
}

func (e *testEnv) createKey(t *testing.T, perms string) (string, *model.APIKey) {
	t.Helper()
	raw, rec, err := e.keys.CreateKey(context.Background(), "agent", testPubkey, perms)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	return raw, rec
}

func (e *testEnv) do(method, token, sessionID, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/mcp", rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sessionID != "" {
		req.Header.Set(server.HeaderKeySessionID, sessionID)
	}
	rec := httptest.NewRecorder()
	e.gw.ServeHTTP(rec, req)
	return rec
}

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test-agent","version":"1.0.0"}}}`

func (e *testEnv) initialize(t *testing.T, token string) string {
	t.Helper()
	rec := e.do(http.MethodPost, token, "", initializeBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize: status %d, body %s", rec.Code, rec.Body.String())
	}
	id := rec.Header().Get(server.HeaderKeySessionID)
	if id == "" {
		t.Fatal("initialize: no session id header")
	}
	return id
}

func toolCall(name string, args map[string]any) string {
	b, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	return string(b)
}

type toolResult struct {
	IsError bool
	Text    string
}

func decodeToolResult(t *testing.T, rec *httptest.ResponseRecorder) toolResult {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("tool call: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode tool result: %v (%s)", err, rec.Body.String())
	}
	if len(resp.Result.Content) == 0 {
		t.Fatalf("tool result has no content: %s", rec.Body.String())
	}
	return toolResult{IsError: resp.Result.IsError, Text: resp.Result.Content[0].Text}
}

func assertRPCError(t *testing.T, rec *httptest.ResponseRecorder, status, code int, message string) {
	t.Helper()
	if rec.Code != status {
		t.Errorf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	var env map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	if env["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v", env["jsonrpc"])
	}
	if id, ok := env["id"]; !ok || id != nil {
		t.Errorf("id = %v, want null", env["id"])
	}
	e, _ := env["error"].(map[string]any)
	if e == nil {
		t.Fatalf("missing error member: %s", rec.Body.String())
	}
	if int(e["code"].(float64)) != code || e["message"] != message {
		t.Errorf("error = %v, want code %d message %q", e, code, message)
	}
}

func TestInitializeThenListTools(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.createKey(t, model.PermissionRead)

	sid := env.initialize(t, token)
	if env.gw.Registry().Len() != 1 {
		t.Fatalf("registry len = %d, want 1", env.gw.Registry().Len())
	}

	rec := env.do(http.MethodPost, token, sid, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("tools/list: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := map[string]bool{}
	for _, tool := range resp.Result.Tools {
		got[tool.Name] = true
	}
	for _, want := range []string{ToolSearchProducts, ToolGetProduct, ToolCreateOrder, ToolGetOrder, ToolListOrders, ToolWhoami} {
		if !got[want] {
			t.Errorf("tool %s not listed", want)
		}
	}

	rec = env.do(http.MethodPost, token, "fabricated-session", `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)
	assertRPCError(t, rec, http.StatusBadRequest, CodeSessionError, msgNoSession)
}

func TestBearerRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "", "", initializeBody)
	assertRPCError(t, rec, http.StatusUnauthorized, CodeUnauthorized, msgMissingToken)

	rec = env.do(http.MethodPost, "mcp_"+strings.Repeat("0", 64), "", initializeBody)
	assertRPCError(t, rec, http.StatusUnauthorized, CodeUnauthorized, msgInvalidKey)

	if env.gw.Registry().Len() != 0 {
		t.Error("no session should be created without a valid key")
	}
}

func TestRevokedKeyRejected(t *testing.T) {
	env := newTestEnv(t)
	token, key := env.createKey(t, model.PermissionRead)
	sid := env.initialize(t, token)

	if ok, err := env.keys.RevokeKey(context.Background(), key.ID, testPubkey); err != nil || !ok {
		t.Fatalf("RevokeKey: %v %v", ok, err)
	}
	rec := env.do(http.MethodPost, token, sid, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	assertRPCError(t, rec, http.StatusUnauthorized, CodeUnauthorized, msgInvalidKey)
}

func TestPostWithoutSessionRequiresInitialize(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.createKey(t, model.PermissionRead)

	rec := env.do(http.MethodPost, token, "", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	assertRPCError(t, rec, http.StatusBadRequest, CodeSessionError, msgNotInitialized)
}

func TestFailedInitializeIsNotRegistered(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.createKey(t, model.PermissionRead)

	for i := 0; i < 3; i++ {
		rec := env.do(http.MethodPost, token, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":"bogus"}`)
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Fatalf("malformed initialize should fail: %s", rec.Body.String())
		}
		if sid := rec.Header().Get(server.HeaderKeySessionID); sid != "" {
			// The id handed out with a rejected handshake must not work.
			rec = env.do(http.MethodPost, token, sid, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
			assertRPCError(t, rec, http.StatusBadRequest, CodeSessionError, msgNoSession)
		}
	}
	if env.gw.Registry().Len() != 0 {
		t.Errorf("registry len = %d, want 0", env.gw.Registry().Len())
	}

	sid := env.initialize(t, token)
	if env.gw.Registry().Get(sid) == nil || env.gw.Registry().Len() != 1 {
		t.Errorf("successful initialize not registered, len = %d", env.gw.Registry().Len())
	}
}

// countingReader records how many bytes the gateway pulled from the body.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestUnauthenticatedBodyIsNotRead(t *testing.T) {
	env := newTestEnv(t)
	body := &countingReader{r: strings.NewReader(strings.Repeat("x", 1<<20))}

	req := httptest.NewRequest(http.MethodPost, "/mcp", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.gw.ServeHTTP(rec, req)

	assertRPCError(t, rec, http.StatusUnauthorized, CodeUnauthorized, msgMissingToken)
	if body.n != 0 {
		t.Errorf("read %d body bytes before authenticating", body.n)
	}
}

func TestSessionBoundToCreatingKey(t *testing.T) {
	env := newTestEnv(t)
	tokenA, _ := env.createKey(t, model.PermissionRead)
	tokenB, _ := env.createKey(t, model.PermissionReadWrite)
	sid := env.initialize(t, tokenA)

	rec := env.do(http.MethodPost, tokenB, sid, toolCall(ToolWhoami, nil))
	assertRPCError(t, rec, http.StatusBadRequest, CodeSessionError, msgNoSession)

	rec = env.do(http.MethodDelete, tokenB, sid, "")
	assertRPCError(t, rec, http.StatusNotFound, CodeSessionError, msgSessionNotFound)
	if env.gw.Registry().Get(sid) == nil {
		t.Error("session must survive a teardown attempt by another key")
	}
}

func TestGetRequiresKnownSession(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.createKey(t, model.PermissionRead)

	rec := env.do(http.MethodGet, token, "", "")
	assertRPCError(t, rec, http.StatusBadRequest, CodeSessionError, msgNoSession)

	rec = env.do(http.MethodGet, token, "nope", "")
	assertRPCError(t, rec, http.StatusBadRequest, CodeSessionError, msgNoSession)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.createKey(t, model.PermissionRead)
	sid := env.initialize(t, token)

	rec := env.do(http.MethodDelete, token, sid, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d, body %s", rec.Code, rec.Body.String())
	}
	if env.gw.Registry().Len() != 0 {
		t.Errorf("registry len = %d after delete", env.gw.Registry().Len())
	}

	rec = env.do(http.MethodDelete, token, sid, "")
	assertRPCError(t, rec, http.StatusNotFound, CodeSessionError, msgSessionNotFound)

	rec = env.do(http.MethodPost, token, sid, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	assertRPCError(t, rec, http.StatusBadRequest, CodeSessionError, msgNoSession)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.createKey(t, model.PermissionRead)

	rec := env.do(http.MethodPut, token, "", "")
	assertRPCError(t, rec, http.StatusMethodNotAllowed, CodeSessionError, msgMethodNotAllow)
}

func TestReadKeyCannotCreateOrder(t *testing.T) {
	env := newTestEnv(t)
	token, key := env.createKey(t, model.PermissionRead)
	sid := env.initialize(t, token)

	res := decodeToolResult(t, env.do(http.MethodPost, token, sid,
		toolCall(ToolCreateOrder, map[string]any{"product_id": "p1", "quantity": 1})))
	if !res.IsError {
		t.Fatalf("expected isError, got %s", res.Text)
	}
	if !strings.Contains(res.Text, MsgInsufficientPermissions) {
		t.Errorf("error text = %s", res.Text)
	}
	if !strings.Contains(res.Text, `"responseTimeMs"`) {
		t.Errorf("error payload lacks _meta: %s", res.Text)
	}
	if n := env.orderPosts.Load(); n != 0 {
		t.Errorf("marketplace received %d order posts, want 0", n)
	}
	orders, _ := env.store.ListOrdersByAPIKey(context.Background(), key.ID, 10)
	if len(orders) != 0 {
		t.Errorf("ledger has %d orders, want 0", len(orders))
	}
}

func TestReadWriteKeyCreatesOrder(t *testing.T) {
	env := newTestEnv(t)
	token, key := env.createKey(t, model.PermissionReadWrite)
	sid := env.initialize(t, token)

	res := decodeToolResult(t, env.do(http.MethodPost, token, sid,
		toolCall(ToolCreateOrder, map[string]any{"product_id": "p1", "quantity": 2})))
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Text)
	}
	var payload struct {
		Order model.Order `json:"order"`
		Meta  toolMeta    `json:"_meta"`
	}
	if err := json.Unmarshal([]byte(res.Text), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Order.ID != "ord_1" || payload.Order.BuyerPubkey != testPubkey {
		t.Errorf("order = %+v", payload.Order)
	}
	if payload.Meta.DataSource != sourceLive {
		t.Errorf("dataSource = %q", payload.Meta.DataSource)
	}
	if n := env.orderPosts.Load(); n != 1 {
		t.Errorf("order posts = %d, want 1", n)
	}

	rec, err := env.store.GetOrder(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if rec.APIKeyID != key.ID || rec.Quantity != 2 {
		t.Errorf("ledger row = %+v", rec)
	}

	res = decodeToolResult(t, env.do(http.MethodPost, token, sid, toolCall(ToolListOrders, nil)))
	if res.IsError || !strings.Contains(res.Text, `"ord_1"`) || !strings.Contains(res.Text, `"cached_db"`) {
		t.Errorf("list_orders = %s", res.Text)
	}
}

func TestGetOrderOnlyForOwningKey(t *testing.T) {
	env := newTestEnv(t)
	owner, _ := env.createKey(t, model.PermissionReadWrite)
	other, _ := env.createKey(t, model.PermissionRead)
	sidOwner := env.initialize(t, owner)
	sidOther := env.initialize(t, other)

	res := decodeToolResult(t, env.do(http.MethodPost, owner, sidOwner,
		toolCall(ToolCreateOrder, map[string]any{"product_id": "p1", "quantity": 1})))
	if res.IsError {
		t.Fatalf("create_order: %s", res.Text)
	}

	res = decodeToolResult(t, env.do(http.MethodPost, owner, sidOwner,
		toolCall(ToolGetOrder, map[string]any{"order_id": "ord_1"})))
	if res.IsError || !strings.Contains(res.Text, `"paid"`) {
		t.Errorf("owner get_order = %s", res.Text)
	}
	if rec, err := env.store.GetOrder(context.Background(), "ord_1"); err != nil || rec.Status != "paid" {
		t.Errorf("ledger status not refreshed: %+v, %v", rec, err)
	}

	tests := []struct {
		name    string
		token   string
		sid     string
		orderID string
	}{
		{"other key", other, sidOther, "ord_1"},
		{"not in ledger", owner, sidOwner, "ord_unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := env.orderGets.Load()
			res := decodeToolResult(t, env.do(http.MethodPost, tt.token, tt.sid,
				toolCall(ToolGetOrder, map[string]any{"order_id": tt.orderID})))
			if !res.IsError || !strings.Contains(res.Text, "Order not found") {
				t.Errorf("get_order = %s", res.Text)
			}
			if env.orderGets.Load() != before {
				t.Error("marketplace was queried for an order the key does not own")
			}
		})
	}
}

func TestSearchFallsBackToCache(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.createKey(t, model.PermissionRead)
	sid := env.initialize(t, token)

	res := decodeToolResult(t, env.do(http.MethodPost, token, sid, toolCall(ToolSearchProducts, map[string]any{"query": "hoodie"})))
	if res.IsError || !strings.Contains(res.Text, `"dataSource": "live"`) {
		t.Fatalf("live search = %s", res.Text)
	}

	env.marketDown.Store(true)
	res = decodeToolResult(t, env.do(http.MethodPost, token, sid, toolCall(ToolSearchProducts, map[string]any{"query": "hoodie"})))
	if res.IsError {
		t.Fatalf("cached search failed: %s", res.Text)
	}
	if !strings.Contains(res.Text, `"dataSource": "cached_db"`) || !strings.Contains(res.Text, "Bitcoin Hoodie") {
		t.Errorf("cached search = %s", res.Text)
	}

	res = decodeToolResult(t, env.do(http.MethodPost, token, sid, toolCall(ToolGetProduct, map[string]any{"product_id": "p1"})))
	if res.IsError || !strings.Contains(res.Text, `"cached_db"`) {
		t.Errorf("cached get_product = %s", res.Text)
	}

	res = decodeToolResult(t, env.do(http.MethodPost, token, sid, toolCall(ToolGetProduct, map[string]any{"product_id": "p9"})))
	if !res.IsError || !strings.Contains(res.Text, "Product not found") {
		t.Errorf("uncached get_product = %s", res.Text)
	}
}

func TestGetProductNotFoundLive(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.createKey(t, model.PermissionRead)
	sid := env.initialize(t, token)

	res := decodeToolResult(t, env.do(http.MethodPost, token, sid, toolCall(ToolGetProduct, map[string]any{"product_id": "p404"})))
	if !res.IsError || !strings.Contains(res.Text, "Product not found") || !strings.Contains(res.Text, `"live"`) {
		t.Errorf("get_product = %s", res.Text)
	}
}

func TestWhoami(t *testing.T) {
	env := newTestEnv(t)
	token, key := env.createKey(t, model.PermissionRead)
	sid := env.initialize(t, token)

	res := decodeToolResult(t, env.do(http.MethodPost, token, sid, toolCall(ToolWhoami, nil)))
	var info map[string]any
	if err := json.Unmarshal([]byte(res.Text), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["pubkey"] != testPubkey || info["permissions"] != model.PermissionRead || info["sessionId"] != sid {
		t.Errorf("whoami = %v", info)
	}
	if int64(info["keyId"].(float64)) != key.ID {
		t.Errorf("keyId = %v", info["keyId"])
	}
	if npub, _ := info["npub"].(string); !strings.HasPrefix(npub, "npub1") {
		t.Errorf("npub = %v", info["npub"])
	}
	if strings.Contains(res.Text, token) {
		t.Error("whoami must not echo the bearer token")
	}
}

func TestRequestsAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.createKey(t, model.PermissionRead)

	env.do(http.MethodPost, "", "", initializeBody)
	sid := env.initialize(t, token)
	env.do(http.MethodPost, token, sid, toolCall(ToolSearchProducts, nil))

	snap := env.recorder.Snapshot()
	if snap.TotalRequests != 3 || snap.TotalErrors != 1 {
		t.Errorf("totals = %d/%d, want 3/1", snap.TotalRequests, snap.TotalErrors)
	}
	if snap.ToolCalls["initialize"] != 2 || snap.ToolCalls[ToolSearchProducts] != 1 {
		t.Errorf("tool calls = %v", snap.ToolCalls)
	}
}

func TestClose(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.createKey(t, model.PermissionRead)
	env.initialize(t, token)
	env.initialize(t, token)
	if env.gw.Registry().Len() != 2 {
		t.Fatalf("registry len = %d, want 2", env.gw.Registry().Len())
	}

	env.gw.Close(context.Background())
	if env.gw.Registry().Len() != 0 {
		t.Errorf("registry len = %d after Close", env.gw.Registry().Len())
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer   abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", tt.header)
		if got := bearerToken(r); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestSessionIDManager(t *testing.T) {
	m := &sessionIDManager{id: "s1"}
	if m.Generate() != "s1" {
		t.Error("Generate must return the bound id")
	}
	if _, err := m.Validate("s2"); err == nil {
		t.Error("foreign id must not validate")
	}
	if term, err := m.Validate("s1"); err != nil || term {
		t.Errorf("Validate(s1) = %v, %v", term, err)
	}
	if _, err := m.Terminate("s1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if term, _ := m.Validate("s1"); !term {
		t.Error("expected terminated")
	}
	if m.terminate() {
		t.Error("second terminate should report false")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		val      int
		min      int
		max      int
		expected int
	}{
		{"value in range", 5, 1, 10, 5},
		{"value below min", -3, 1, 10, 1},
		{"value above max", 15, 1, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clamp(tt.val, tt.min, tt.max); got != tt.expected {
				t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.expected)
			}
		})
	}
}

func TestAnnotations(t *testing.T) {
	if ann := readOnlyAnnotation(); ann.ReadOnlyHint == nil || !*ann.ReadOnlyHint {
		t.Error("read-only annotation must set ReadOnlyHint")
	}
	if ann := mutatingAnnotation(); ann.ReadOnlyHint == nil || *ann.ReadOnlyHint {
		t.Error("mutating annotation must clear ReadOnlyHint")
	}
}
