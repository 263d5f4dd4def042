package mcp

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/plebmarket/mcpgate/internal/model"
)

// Session is one established MCP session: a dedicated protocol server and
// transport bound to the API key that initialized it.
type Session struct {
	ID        string
	APIKey    *model.APIKey
	CreatedAt time.Time

	server    *server.MCPServer
	transport *server.StreamableHTTPServer
	ids       *sessionIDManager

	// established is set once initialize has succeeded on this session.
	established atomic.Bool
}

// Transport returns the streamable HTTP transport serving this session.
func (s *Session) Transport() *server.StreamableHTTPServer { return s.transport }

// close terminates the session's transport state. Safe to call twice.
func (s *Session) close(ctx context.Context) {
	if s.ids.terminate() {
		s.server.UnregisterSession(ctx, s.ID)
	}
}

// Registry holds the sessions of one gateway. It is process-local; a client
// must keep talking to the instance that created its session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add stores s under its ID, replacing any previous entry.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Get returns the session for id, or nil.
func (r *Registry) Get(id string) *Session {
	if id == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove deletes id and returns the removed session, or nil.
func (r *Registry) Remove(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of open sessions, oldest first.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Drain removes and returns every session.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	return out
}
