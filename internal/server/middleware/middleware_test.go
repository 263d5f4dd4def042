package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/plebmarket/mcpgate/internal/model"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID == "" {
		t.Error("expected X-Request-ID in response header")
	}
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestRequestIDReplacesMalformedClientID(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"spaces", "trace id"},
		{"newline", "abc\nlevel=ERROR"},
		{"too long", strings.Repeat("a", 129)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("X-Request-ID", tt.id)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			got := rr.Header().Get("X-Request-ID")
			if got == tt.id || len(got) != 36 {
				t.Errorf("X-Request-ID = %q, want a fresh UUID", got)
			}
		})
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	id := GetRequestID(context.Background())
	if id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// RequireAPIKey middleware tests
// ---------------------------------------------------------------------------

type stubValidator struct {
	keys map[string]*model.APIKey
	err  error
}

func (v stubValidator) ValidateKey(_ context.Context, plaintext string) (*model.APIKey, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.keys[plaintext], nil
}

func TestRequireAPIKey(t *testing.T) {
	key := &model.APIKey{ID: 9, Name: "agent", Permissions: model.PermissionRead, IsActive: true}
	valid := stubValidator{keys: map[string]*model.APIKey{"mcp_good": key}}

	tests := []struct {
		name      string
		validator stubValidator
		header    string
		want      int
	}{
		{"valid key", valid, "Bearer mcp_good", http.StatusOK},
		{"lowercase scheme", valid, "bearer mcp_good", http.StatusOK},
		{"missing header", valid, "", http.StatusUnauthorized},
		{"wrong scheme", valid, "Basic mcp_good", http.StatusUnauthorized},
		{"unknown key", valid, "Bearer mcp_bad", http.StatusUnauthorized},
		{"storage failure", stubValidator{err: errors.New("db down")}, "Bearer mcp_good", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *model.APIKey
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetAPIKey(r.Context())
				w.WriteHeader(http.StatusOK)
			})
			logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
			handler := RequireAPIKey(tt.validator, logger)(inner)

			req := httptest.NewRequest("GET", "/api/v1/keys/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
			if tt.want == http.StatusOK && got != key {
				t.Errorf("expected key in context, got %+v", got)
			}
			if tt.want != http.StatusOK && !strings.Contains(rr.Body.String(), `"error"`) {
				t.Errorf("expected error envelope, got %s", rr.Body.String())
			}
		})
	}
}

func TestGetAPIKeyWithoutValue(t *testing.T) {
	if got := GetAPIKey(context.Background()); got != nil {
		t.Error("expected nil key from bare context")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"BEARER  abc ", "abc"},
		{"Bearer", ""},
		{"Token abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", tt.header)
		if got := BearerToken(req); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Logger middleware tests
// ---------------------------------------------------------------------------

func TestLoggerRecordsStatusAndSession(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("gone"))
	}))

	req := httptest.NewRequest("DELETE", "/mcp", nil)
	req.Header.Set(SessionIDHeader, "sess-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=404", "bytes=4", "session_id=sess-123", "path=/mcp"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestLoggerWriterFlushes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	rr := httptest.NewRecorder()
	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Flusher")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		f.Flush()
	}))
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/mcp", nil))

	if !rr.Flushed {
		t.Error("expected underlying recorder to be flushed")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Rate limit middleware tests
// ---------------------------------------------------------------------------

func TestRateLimitByIP(t *testing.T) {
	handler := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/v1/status", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestRateLimitByBearerSeparatesKeys(t *testing.T) {
	handler := RateLimitByBearer(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(token string) int {
		req := httptest.NewRequest("POST", "/mcp", nil)
		req.RemoteAddr = "203.0.113.8:5000"
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if got := send("mcp_a"); got != http.StatusOK {
		t.Fatalf("first request for key a = %d", got)
	}
	if got := send("mcp_a"); got != http.StatusTooManyRequests {
		t.Errorf("second request for key a = %d, want 429", got)
	}
	if got := send("mcp_b"); got != http.StatusOK {
		t.Errorf("first request for key b = %d, want 200", got)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	handler := RateLimit(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rr.Code)
		}
	}
}
