package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/plebmarket/mcpgate/internal/market"
	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/store"
)

// SessionContext is what every tool handler invocation sees: the key that
// created the session, the bearer token of the current request, and the
// collaborators tools may call.
type SessionContext struct {
	SessionID string
	APIKey    *model.APIKey
	Token     string
	Market    *market.Client
	Store     *store.Store
	Logger    *slog.Logger
}

type sessionContextKey struct{}

// WithSessionContext attaches sc to ctx.
func WithSessionContext(ctx context.Context, sc *SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sc)
}

// SessionContextFrom returns the SessionContext attached to ctx, or nil.
func SessionContextFrom(ctx context.Context) *SessionContext {
	sc, _ := ctx.Value(sessionContextKey{}).(*SessionContext)
	return sc
}

var errUnknownSession = errors.New("unknown session id")

// sessionIDManager hands out exactly one session id and accepts nothing
// else, so each transport only ever serves the session it was created for.
type sessionIDManager struct {
	id string

	mu         sync.Mutex
	terminated bool
}

func (m *sessionIDManager) Generate() string { return m.id }

func (m *sessionIDManager) Validate(sessionID string) (bool, error) {
	if sessionID != m.id {
		return false, fmt.Errorf("%w: %q", errUnknownSession, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated, nil
}

func (m *sessionIDManager) Terminate(sessionID string) (bool, error) {
	if sessionID != m.id {
		return false, fmt.Errorf("%w: %q", errUnknownSession, sessionID)
	}
	m.terminate()
	return false, nil
}

// terminate marks the id terminated and reports whether this call did it.
func (m *sessionIDManager) terminate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated {
		return false
	}
	m.terminated = true
	return true
}
