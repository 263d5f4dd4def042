// Package service implements the API key lifecycle and the signed-event gate
// that protects it.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/nostrauth"
	"github.com/plebmarket/mcpgate/internal/store"
)

// KeyScheme prefixes every issued key so it is recognizable in configs and
// secret scanners.
const KeyScheme = "mcp_"

// KeyPrefixLen is how many leading characters of a key are kept for display.
const KeyPrefixLen = 10

// ErrInvalidInput wraps validation failures on caller-supplied fields.
var ErrInvalidInput = errors.New("invalid input")

// KeyService issues, validates, lists and revokes API keys.
type KeyService struct {
	store  *store.Store
	logger *slog.Logger

	touches      sync.WaitGroup
	touchTimeout time.Duration
}

// NewKeyService returns a KeyService backed by st.
func NewKeyService(st *store.Store, logger *slog.Logger) *KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{store: st, logger: logger, touchTimeout: 5 * time.Second}
}

// CreateKey generates a key for pubkey and persists its hash. The returned
// plaintext is the only copy; it is never stored or retrievable again.
func (s *KeyService) CreateKey(ctx context.Context, name, pubkey, permissions string) (string, *model.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > 100 {
		return "", nil, fmt.Errorf("%w: name must be at most 100 characters", ErrInvalidInput)
	}
	hexPub, err := nostrauth.NormalizePubkey(pubkey)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if permissions == "" {
		permissions = model.PermissionRead
	}
	if !model.ValidPermission(permissions) {
		return "", nil, fmt.Errorf("%w: permissions must be %q or %q", ErrInvalidInput, model.PermissionRead, model.PermissionReadWrite)
	}

	if err := s.store.InitializeSchema(ctx); err != nil {
		return "", nil, err
	}

	raw, err := GenerateKey()
	if err != nil {
		return "", nil, err
	}
	key := &model.APIKey{
		KeyHash:     store.HashAPIKey(raw),
		KeyPrefix:   raw[:KeyPrefixLen],
		Name:        name,
		Pubkey:      hexPub,
		Permissions: permissions,
	}
	if err := s.store.InsertAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("create api key: %w", err)
	}

	s.logger.Info("api key created", "key_id", key.ID, "prefix", key.KeyPrefix, "permissions", key.Permissions)
	return raw, key, nil
}

// ValidateKey resolves a plaintext bearer key to its active record. A miss
// (unknown or revoked key) returns (nil, nil); only storage failures return
// an error. On a hit last_used_at is refreshed in the background without
// delaying or affecting the result.
func (s *KeyService) ValidateKey(ctx context.Context, plaintext string) (*model.APIKey, error) {
	if !strings.HasPrefix(plaintext, KeyScheme) {
		return nil, nil
	}
	if err := s.store.InitializeSchema(ctx); err != nil {
		return nil, err
	}

	key, err := s.store.GetActiveAPIKeyByHash(ctx, store.HashAPIKey(plaintext))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("validate api key: %w", err)
	}

	s.touchLastUsed(key.ID)
	return key, nil
}

// touchLastUsed updates last_used_at without blocking the caller. Failures
// are logged and dropped.
func (s *KeyService) touchLastUsed(id int64) {
	s.touches.Add(1)
	go func() {
		defer s.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.touchTimeout)
		defer cancel()
		if err := s.store.TouchAPIKeyLastUsed(ctx, id); err != nil {
			s.logger.Warn("failed to update api key last used", "key_id", id, "error", err)
		}
	}()
}

// Wait blocks until all in-flight last-used updates have finished.
func (s *KeyService) Wait() {
	s.touches.Wait()
}

// ListKeys returns all keys, active and revoked, owned by pubkey.
func (s *KeyService) ListKeys(ctx context.Context, pubkey string) ([]model.APIKey, error) {
	hexPub, err := nostrauth.NormalizePubkey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.store.InitializeSchema(ctx); err != nil {
		return nil, err
	}
	return s.store.ListAPIKeysByPubkey(ctx, hexPub)
}

// RevokeKey deactivates key id when it belongs to pubkey and reports whether
// anything was revoked. There is no way to reactivate a key.
func (s *KeyService) RevokeKey(ctx context.Context, id int64, pubkey string) (bool, error) {
	hexPub, err := nostrauth.NormalizePubkey(pubkey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.store.InitializeSchema(ctx); err != nil {
		return false, err
	}
	ok, err := s.store.RevokeAPIKey(ctx, id, hexPub)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info("api key revoked", "key_id", id)
	}
	return ok, nil
}

// GenerateKey returns a new random plaintext key: KeyScheme followed by 64
// hex characters.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return KeyScheme + hex.EncodeToString(b), nil
}
