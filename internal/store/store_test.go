package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/plebmarket/mcpgate/internal/model"
)

var (
	alice = strings.Repeat("a", 64)
	bob   = strings.Repeat("b", 64)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite("") // in-memory
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitializeSchema(context.Background()); err != nil {
		t.Fatalf("InitializeSchema: %v", err)
	}
	return s
}

func seedKey(t *testing.T, s *Store, raw, pubkey, perms string) *model.APIKey {
	t.Helper()
	k := &model.APIKey{
		KeyHash:     HashAPIKey(raw),
		KeyPrefix:   raw[:10],
		Name:        "test",
		Pubkey:      pubkey,
		Permissions: perms,
	}
	if err := s.InsertAPIKey(context.Background(), k); err != nil {
		t.Fatalf("InsertAPIKey: %v", err)
	}
	return k
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
	if _, err := Open("pgx", ""); err == nil {
		t.Error("expected error for empty postgres dsn")
	}
}

func TestInitializeSchema_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if !s.SchemaReady() {
		t.Fatal("expected schema ready")
	}
	for i := 0; i < 3; i++ {
		if err := s.InitializeSchema(context.Background()); err != nil {
			t.Fatalf("InitializeSchema #%d: %v", i, err)
		}
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	k := seedKey(t, s, "mcp_0123456789abcdef", alice, model.PermissionRead)
	if k.ID == 0 {
		t.Fatal("expected non-zero ID after insert")
	}

	got, err := s.GetActiveAPIKeyByHash(ctx, HashAPIKey("mcp_0123456789abcdef"))
	if err != nil {
		t.Fatalf("GetActiveAPIKeyByHash: %v", err)
	}
	if got.ID != k.ID || got.Pubkey != alice || got.Permissions != model.PermissionRead {
		t.Errorf("unexpected key %+v", got)
	}
	if got.KeyHash != "" {
		t.Error("key hash should not be selected")
	}
	if !got.IsActive {
		t.Error("expected active key")
	}
	if got.LastUsedAt != nil {
		t.Error("expected nil last used")
	}

	if err := s.TouchAPIKeyLastUsed(ctx, k.ID); err != nil {
		t.Fatalf("TouchAPIKeyLastUsed: %v", err)
	}
	got, _ = s.GetAPIKey(ctx, k.ID)
	if got.LastUsedAt == nil {
		t.Error("expected last used to be set")
	}

	if _, err := s.GetActiveAPIKeyByHash(ctx, HashAPIKey("mcp_nope")); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown hash: got %v, want ErrNotFound", err)
	}
	if err := s.TouchAPIKeyLastUsed(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("touch unknown: got %v, want ErrNotFound", err)
	}
}

func TestDuplicateHashRejected(t *testing.T) {
	s := newTestStore(t)
	seedKey(t, s, "mcp_samesamesame", alice, model.PermissionRead)

	dup := &model.APIKey{KeyHash: HashAPIKey("mcp_samesamesame"), KeyPrefix: "mcp_sames", Pubkey: bob, Permissions: model.PermissionRead}
	if err := s.InsertAPIKey(context.Background(), dup); err == nil {
		t.Error("expected unique constraint violation")
	}
}

func TestRevokeAPIKey_Ownership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k := seedKey(t, s, "mcp_ownedbyalice", alice, model.PermissionReadWrite)

	ok, err := s.RevokeAPIKey(ctx, k.ID, bob)
	if err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if ok {
		t.Error("bob must not revoke alice's key")
	}
	got, _ := s.GetAPIKey(ctx, k.ID)
	if !got.IsActive {
		t.Error("key should still be active after foreign revoke attempt")
	}

	ok, err = s.RevokeAPIKey(ctx, k.ID, alice)
	if err != nil || !ok {
		t.Fatalf("owner revoke: ok=%v err=%v", ok, err)
	}
	if _, err := s.GetActiveAPIKeyByHash(ctx, HashAPIKey("mcp_ownedbyalice")); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoked key lookup: got %v, want ErrNotFound", err)
	}
	got, err = s.GetAPIKey(ctx, k.ID)
	if err != nil {
		t.Fatalf("revoked row should still exist: %v", err)
	}
	if got.IsActive {
		t.Error("expected inactive key")
	}

	ok, _ = s.RevokeAPIKey(ctx, 4242, alice)
	if ok {
		t.Error("revoking a missing id should report false")
	}
}

func TestListAPIKeysByPubkey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k1 := seedKey(t, s, "mcp_alice_one_xx", alice, model.PermissionRead)
	seedKey(t, s, "mcp_alice_two_xx", alice, model.PermissionReadWrite)
	seedKey(t, s, "mcp_bob_only_xxx", bob, model.PermissionRead)
	s.RevokeAPIKey(ctx, k1.ID, alice)

	keys, err := s.ListAPIKeysByPubkey(ctx, alice)
	if err != nil {
		t.Fatalf("ListAPIKeysByPubkey: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2 (active and revoked)", len(keys))
	}
	for _, k := range keys {
		if k.KeyHash != "" {
			t.Errorf("key %d exposes hash", k.ID)
		}
		if k.Pubkey != alice {
			t.Errorf("key %d belongs to %s", k.ID, k.Pubkey)
		}
	}

	none, err := s.ListAPIKeysByPubkey(ctx, strings.Repeat("c", 64))
	if err != nil {
		t.Fatalf("ListAPIKeysByPubkey: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", none)
	}
}

func TestOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k := seedKey(t, s, "mcp_orderkey_xxx", alice, model.PermissionReadWrite)

	rec := &model.OrderRecord{
		OrderID: "ord_1", APIKeyID: k.ID, ProductID: "p1", Quantity: 2,
		BuyerPubkey: alice, Status: "pending", Total: 42, Currency: "SAT",
	}
	if err := s.InsertOrder(ctx, rec); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected ledger id")
	}

	if err := s.UpdateOrderStatus(ctx, "ord_1", "paid"); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	got, err := s.GetOrder(ctx, "ord_1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != "paid" || got.Quantity != 2 {
		t.Errorf("unexpected order %+v", got)
	}

	list, err := s.ListOrdersByAPIKey(ctx, k.ID, 10)
	if err != nil {
		t.Fatalf("ListOrdersByAPIKey: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d orders, want 1", len(list))
	}

	orphan := &model.OrderRecord{OrderID: "ord_2", APIKeyID: 9999, ProductID: "p1", Quantity: 1, BuyerPubkey: alice}
	if err := s.InsertOrder(ctx, orphan); err == nil {
		t.Error("expected foreign key violation for unknown api key")
	}

	if _, err := s.GetOrder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOrder(missing) = %v, want ErrNotFound", err)
	}
}

func TestProductCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	products := []model.Product{
		{ID: "p1", Name: "Bitcoin Hoodie", Price: 50000, Currency: "SAT"},
		{ID: "p2", Name: "Nostr Mug", Price: 21000, Currency: "SAT"},
	}
	if err := s.UpsertProducts(ctx, products); err != nil {
		t.Fatalf("UpsertProducts: %v", err)
	}

	products[0].Price = 45000
	if err := s.UpsertProducts(ctx, products[:1]); err != nil {
		t.Fatalf("UpsertProducts (update): %v", err)
	}

	got, err := s.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.Product.Price != 45000 {
		t.Errorf("price = %v, want 45000", got.Product.Price)
	}

	found, err := s.SearchProducts(ctx, "MUG", 10)
	if err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	if len(found) != 1 || found[0].Product.ID != "p2" {
		t.Errorf("search MUG = %+v", found)
	}

	all, _ := s.SearchProducts(ctx, "", 10)
	if len(all) != 2 {
		t.Errorf("empty query returned %d products, want 2", len(all))
	}

	if _, err := s.GetProduct(ctx, "p404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProduct(p404) = %v, want ErrNotFound", err)
	}
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k := seedKey(t, s, "mcp_countme_xxxx", alice, model.PermissionRead)
	seedKey(t, s, "mcp_countme_yyyy", alice, model.PermissionRead)
	s.RevokeAPIKey(ctx, k.ID, alice)
	s.UpsertProducts(ctx, []model.Product{{ID: "p1", Name: "x"}})

	c, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c.APIKeys != 2 || c.ActiveAPIKeys != 1 || c.Orders != 0 || c.CachedProducts != 1 {
		t.Errorf("unexpected counts %+v", c)
	}
}

func TestHashAPIKey(t *testing.T) {
	h1 := HashAPIKey("mcp_abc")
	h2 := HashAPIKey("mcp_abc")
	if h1 != h2 {
		t.Error("hash must be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
	if HashAPIKey("mcp_abd") == h1 {
		t.Error("different keys must hash differently")
	}
}
