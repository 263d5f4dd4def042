package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/nostrauth"
	"github.com/plebmarket/mcpgate/internal/server/middleware"
	"github.com/plebmarket/mcpgate/internal/service"
)

// KeyHandler serves API key issuance, listing, revocation and introspection.
// Privileged operations are gated by a signed Nostr auth event.
type KeyHandler struct {
	keys   *service.KeyService
	gate   *service.EventGate
	logger *slog.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(keys *service.KeyService, gate *service.EventGate, logger *slog.Logger) *KeyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyHandler{keys: keys, gate: gate, logger: logger}
}

// createKeyRequest is the expected payload for CreateKey.
type createKeyRequest struct {
	Name        string          `json:"name"`
	Pubkey      string          `json:"pubkey"`
	Permissions string          `json:"permissions,omitempty"`
	SignedEvent json.RawMessage `json:"signedEvent,omitempty"`
}

// createKeyResponse includes the plaintext key (shown once only).
type createKeyResponse struct {
	APIKey      string    `json:"apiKey"` // Plaintext, shown ONCE.
	ID          int64     `json:"id"`
	KeyPrefix   string    `json:"keyPrefix"`
	Name        string    `json:"name"`
	Pubkey      string    `json:"pubkey"`
	Permissions string    `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
	Warning     string    `json:"warning"`
}

const plaintextWarning = "Store this key now. It cannot be retrieved again."

// CreateKey issues a new API key for a pubkey and returns the plaintext
// exactly once.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Pubkey == "" {
		writeError(w, http.StatusBadRequest, "name and pubkey are required")
		return
	}

	pubkey, err := nostrauth.NormalizePubkey(req.Pubkey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pubkey: expected 64 hex characters or an npub")
		return
	}
	if err := h.checkEvent(req.SignedEvent, pubkey); err != nil {
		writeServiceError(w, err, "Failed to verify auth event")
		return
	}

	plaintext, key, err := h.keys.CreateKey(r.Context(), req.Name, pubkey, req.Permissions)
	if err != nil {
		h.logError(r, "create api key failed", err)
		writeServiceError(w, err, "Failed to create API key")
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{
		APIKey:      plaintext,
		ID:          key.ID,
		KeyPrefix:   key.KeyPrefix,
		Name:        key.Name,
		Pubkey:      key.Pubkey,
		Permissions: key.Permissions,
		CreatedAt:   key.CreatedAt,
		Warning:     plaintextWarning,
	})
}

// ListKeys returns every key, active and revoked, owned by a pubkey. The
// signed event travels in the X-Nostr-Auth header.
// GET /api/v1/keys?pubkey=
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	raw := queryString(r, "pubkey")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "pubkey query parameter is required")
		return
	}
	pubkey, err := nostrauth.NormalizePubkey(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pubkey: expected 64 hex characters or an npub")
		return
	}

	ev, err := eventFromHeader(r)
	if err == nil {
		err = h.gate.Check(ev, pubkey)
	}
	if err != nil {
		writeServiceError(w, err, "Failed to verify auth event")
		return
	}

	keys, err := h.keys.ListKeys(r.Context(), pubkey)
	if err != nil {
		h.logError(r, "list api keys failed", err)
		writeServiceError(w, err, "Failed to list API keys")
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	})
}

// revokeKeyRequest is the expected payload for RevokeKey. The id is accepted
// as a JSON number or a numeric string.
type revokeKeyRequest struct {
	ID          json.Number     `json:"id"`
	Pubkey      string          `json:"pubkey"`
	SignedEvent json.RawMessage `json:"signedEvent,omitempty"`
}

// RevokeKey deactivates a key owned by the given pubkey.
// POST /api/v1/keys/revoke
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	var req revokeKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	id, err := strconv.ParseInt(req.ID.String(), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid key ID: "+req.ID.String())
		return
	}
	if req.Pubkey == "" {
		writeError(w, http.StatusBadRequest, "pubkey is required")
		return
	}
	pubkey, err := nostrauth.NormalizePubkey(req.Pubkey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pubkey: expected 64 hex characters or an npub")
		return
	}
	if err := h.checkEvent(req.SignedEvent, pubkey); err != nil {
		writeServiceError(w, err, "Failed to verify auth event")
		return
	}

	ok, err := h.keys.RevokeKey(r.Context(), id, pubkey)
	if err != nil {
		h.logError(r, "revoke api key failed", err)
		writeServiceError(w, err, "Failed to revoke API key")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "API key not found for this pubkey",
			map[string]interface{}{"id": id})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}

// Me describes the API key that authenticated the request. It must be
// mounted behind middleware.RequireAPIKey.
// GET /api/v1/keys/me
func (h *KeyHandler) Me(w http.ResponseWriter, r *http.Request) {
	key := middleware.GetAPIKey(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	npub, _ := nostrauth.EncodeNpub(key.Pubkey)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          key.ID,
		"name":        key.Name,
		"keyPrefix":   key.KeyPrefix,
		"pubkey":      key.Pubkey,
		"npub":        npub,
		"permissions": key.Permissions,
		"canWrite":    key.CanWrite(),
		"createdAt":   key.CreatedAt,
		"lastUsedAt":  key.LastUsedAt,
	})
}

// AuthTemplate returns an unsigned auth event for the caller to sign and send
// back with a privileged request.
// GET /api/v1/auth/template?pubkey=&action=
func (h *KeyHandler) AuthTemplate(w http.ResponseWriter, r *http.Request) {
	raw := queryString(r, "pubkey")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "pubkey query parameter is required")
		return
	}
	pubkey, err := nostrauth.NormalizePubkey(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pubkey: expected 64 hex characters or an npub")
		return
	}

	tmpl := nostrauth.CreateAuthEventTemplate(pubkey, queryString(r, "action"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event":         tmpl,
		"expiresInSecs": int(h.gate.Verifier.EffectiveWindow().Seconds()),
	})
}

func (h *KeyHandler) checkEvent(raw json.RawMessage, pubkey string) error {
	ev, err := parseEventField(raw)
	if err != nil {
		return err
	}
	return h.gate.Check(ev, pubkey)
}

func (h *KeyHandler) logError(r *http.Request, msg string, err error) {
	if service.IsAuthFailure(err) || errors.Is(err, service.ErrInvalidInput) {
		return
	}
	h.logger.Error(msg, "error", err, "request_id", middleware.GetRequestID(r.Context()))
}
