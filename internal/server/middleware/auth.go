package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/plebmarket/mcpgate/internal/model"
)

type contextKeyAuth string

const (
	// APIKeyContextKey is the context key for the authenticated API key.
	APIKeyContextKey contextKeyAuth = "api_key"
)

// KeyValidator resolves a plaintext bearer key. A nil key with a nil error
// means the key is unknown or revoked.
type KeyValidator interface {
	ValidateKey(ctx context.Context, plaintext string) (*model.APIKey, error)
}

// RequireAPIKey returns an HTTP middleware that authenticates the request
// with an "Authorization: Bearer mcp_..." API key. On success the key record
// is attached to the request context. A missing or unknown key answers 401;
// a storage failure answers 500.
func RequireAPIKey(keys KeyValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}
			key, err := keys.ValidateKey(r.Context(), token)
			if err != nil {
				logger.Error("api key validation failed", "error", err, "request_id", GetRequestID(r.Context()))
				writeAuthError(w, http.StatusInternalServerError, "Could not validate API key")
				return
			}
			if key == nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid or revoked API key")
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKey extracts the authenticated API key from the context.
// Returns nil if the request was not authenticated.
func GetAPIKey(ctx context.Context) *model.APIKey {
	if k, ok := ctx.Value(APIKeyContextKey).(*model.APIKey); ok {
		return k
	}
	return nil
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":` + httpStatusString(status) + `,"message":"` + message + `"}}`))
}

func httpStatusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 403:
		return "403"
	default:
		return "500"
	}
}
