package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/nostrauth"
	"github.com/plebmarket/mcpgate/internal/ratelimit"
	"github.com/plebmarket/mcpgate/internal/server/middleware"
	"github.com/plebmarket/mcpgate/internal/service"
)

// OnboardHandler issues a first API key to an agent without any prior
// credential. It is rate limited per client IP.
type OnboardHandler struct {
	keys        *service.KeyService
	limiter     ratelimit.Limiter
	mcpEndpoint string
	logger      *slog.Logger
}

// NewOnboardHandler creates a new OnboardHandler. mcpEndpoint is the public
// URL of the MCP gateway returned to new agents.
func NewOnboardHandler(keys *service.KeyService, limiter ratelimit.Limiter, mcpEndpoint string, logger *slog.Logger) *OnboardHandler {
	if limiter == nil {
		limiter = ratelimit.NewFixedWindow(ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnboardHandler{keys: keys, limiter: limiter, mcpEndpoint: mcpEndpoint, logger: logger}
}

// onboardRequest is the optional payload for Onboard. An empty body asks for
// a freshly generated keypair.
type onboardRequest struct {
	Name        string `json:"name,omitempty"`
	Pubkey      string `json:"pubkey,omitempty"`
	Permissions string `json:"permissions,omitempty"`
}

// onboardResponse carries the plaintext API key and, for generated
// identities only, the private key. Both are disclosed exactly once.
type onboardResponse struct {
	APIKey      string `json:"apiKey"`
	KeyID       int64  `json:"keyId"`
	KeyPrefix   string `json:"keyPrefix"`
	Permissions string `json:"permissions"`
	Pubkey      string `json:"pubkey"`
	Npub        string `json:"npub"`
	PrivateKey  string `json:"privateKey,omitempty"`
	Nsec        string `json:"nsec,omitempty"`
	MCPEndpoint string `json:"mcpEndpoint"`
	Warning     string `json:"warning"`
}

const defaultOnboardName = "agent onboarding"

// Onboard creates an identity (or adopts the supplied pubkey) and issues an
// API key for it.
// POST /api/v1/onboard
func (h *OnboardHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	allowed, err := h.limiter.Allow(r.Context(), ip)
	if err != nil {
		h.logger.Error("onboard rate limiter failed", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeError(w, http.StatusServiceUnavailable, "Rate limiter unavailable, try again later")
		return
	}
	if !allowed {
		writeError(w, http.StatusTooManyRequests, "Too many onboarding requests. Try again later.")
		return
	}

	var req onboardRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}
	if req.Name == "" {
		req.Name = defaultOnboardName
	}

	resp := onboardResponse{MCPEndpoint: h.mcpEndpoint, Warning: plaintextWarning}
	if req.Pubkey != "" {
		pubkey, err := nostrauth.NormalizePubkey(req.Pubkey)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid pubkey: expected 64 hex characters or an npub")
			return
		}
		resp.Pubkey = pubkey
	} else {
		kp, err := nostrauth.GenerateKeyPair()
		if err != nil {
			h.logger.Error("generate keypair failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to generate keypair")
			return
		}
		resp.Pubkey = kp.PubkeyHex
		resp.PrivateKey = kp.SecretHex
		resp.Nsec = kp.Nsec
	}
	resp.Npub, _ = nostrauth.EncodeNpub(resp.Pubkey)

	if req.Permissions == "" {
		req.Permissions = model.PermissionReadWrite
	}
	plaintext, key, err := h.keys.CreateKey(r.Context(), req.Name, resp.Pubkey, req.Permissions)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidInput) {
			h.logger.Error("onboard create key failed", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		}
		writeServiceError(w, err, "Failed to create API key")
		return
	}

	resp.APIKey = plaintext
	resp.KeyID = key.ID
	resp.KeyPrefix = key.KeyPrefix
	resp.Permissions = key.Permissions

	h.logger.Info("agent onboarded", "key_id", key.ID, "generated_identity", resp.Nsec != "")
	writeJSON(w, http.StatusCreated, resp)
}
