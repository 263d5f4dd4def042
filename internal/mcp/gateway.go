package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/plebmarket/mcpgate/internal/market"
	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/store"
)

// DefaultMaxBodyBytes caps the size of a JSON-RPC POST body.
const DefaultMaxBodyBytes = 4 << 20

const codeParseError = -32700

// KeyValidator resolves a bearer token to an active API key. A nil key with
// a nil error means the token is unknown or revoked.
type KeyValidator interface {
	ValidateKey(ctx context.Context, plaintext string) (*model.APIKey, error)
}

// RequestRecorder receives the outcome of every gateway request.
type RequestRecorder interface {
	RecordRequest(d time.Duration, success bool, tool string)
}

// Config wires a Gateway to its collaborators.
type Config struct {
	Name    string
	Version string

	Keys     KeyValidator
	Registry *Registry
	Market   *market.Client // optional; tools fall back to the snapshot cache
	Store    *store.Store
	Metrics  RequestRecorder
	Logger   *slog.Logger

	MaxBodyBytes int64
	Now          func() time.Time
}

// Gateway authenticates every request to the MCP endpoint, multiplexes
// sessions over it and records the outcome of each request.
type Gateway struct {
	name    string
	version string

	keys     KeyValidator
	registry *Registry
	market   *market.Client
	store    *store.Store
	metrics  RequestRecorder
	logger   *slog.Logger

	maxBody int64
	now     func() time.Time
}

// New returns a Gateway. Keys and Store are required.
func New(cfg Config) *Gateway {
	g := &Gateway{
		name:     cfg.Name,
		version:  cfg.Version,
		keys:     cfg.Keys,
		registry: cfg.Registry,
		market:   cfg.Market,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		maxBody:  cfg.MaxBodyBytes,
		now:      cfg.Now,
	}
	if g.name == "" {
		g.name = "mcpgate"
	}
	if g.version == "" {
		g.version = "dev"
	}
	if g.registry == nil {
		g.registry = NewRegistry()
	}
	if g.metrics == nil {
		g.metrics = nopRecorder{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.maxBody <= 0 {
		g.maxBody = DefaultMaxBodyBytes
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Registry returns the gateway's session registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// ServeHTTP implements the session state machine over POST, GET and DELETE.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := g.now()
	tw := &timedWriter{ResponseWriter: w, status: http.StatusOK}
	var msg rpcPeek
	defer func() {
		g.metrics.RecordRequest(g.now().Sub(start), tw.status < http.StatusBadRequest, msg.label())
	}()

	token := bearerToken(r)
	if token == "" {
		writeRPCError(tw, http.StatusUnauthorized, CodeUnauthorized, msgMissingToken)
		return
	}
	key, err := g.keys.ValidateKey(r.Context(), token)
	if err != nil {
		g.logger.Error("api key validation failed", "error", err)
		writeRPCError(tw, http.StatusInternalServerError, CodeInternalError, msgKeyCheckFailed)
		return
	}
	if key == nil {
		writeRPCError(tw, http.StatusUnauthorized, CodeUnauthorized, msgInvalidKey)
		return
	}

	if r.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(tw, r.Body, g.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeRPCError(tw, http.StatusRequestEntityTooLarge, codeParseError, "Request body too large")
				return
			}
			writeRPCError(tw, http.StatusBadRequest, codeParseError, "Parse error: could not read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		msg = peekMessage(body)
	}

	sessionID := r.Header.Get(server.HeaderKeySessionID)

	switch r.Method {
	case http.MethodPost:
		if sess := g.lookup(sessionID, key); sess != nil {
			sess.transport.ServeHTTP(tw, r)
			return
		}
		if msg.isInitialize() {
			sess := g.newSession(key)
			sess.transport.ServeHTTP(tw, r)
			if !sess.established.Load() {
				sess.close(r.Context())
			}
			return
		}
		if sessionID == "" {
			writeRPCError(tw, http.StatusBadRequest, CodeSessionError, msgNotInitialized)
			return
		}
		writeRPCError(tw, http.StatusBadRequest, CodeSessionError, msgNoSession)

	case http.MethodGet:
		sess := g.lookup(sessionID, key)
		if sess == nil {
			writeRPCError(tw, http.StatusBadRequest, CodeSessionError, msgNoSession)
			return
		}
		sess.transport.ServeHTTP(tw, r)

	case http.MethodDelete:
		sess := g.lookup(sessionID, key)
		if sess == nil {
			writeRPCError(tw, http.StatusNotFound, CodeSessionError, msgSessionNotFound)
			return
		}
		sess.transport.ServeHTTP(tw, r)
		g.registry.Remove(sess.ID)
		sess.close(r.Context())
		g.logger.Info("mcp session closed", "session_id", sess.ID, "key_id", sess.APIKey.ID)

	default:
		tw.Header().Set("Allow", "GET, POST, DELETE")
		writeRPCError(tw, http.StatusMethodNotAllowed, CodeSessionError, msgMethodNotAllow)
	}
}

// lookup returns the session for id when it was created by the same key.
// A session presented with another key is treated as unknown.
func (g *Gateway) lookup(id string, key *model.APIKey) *Session {
	sess := g.registry.Get(id)
	if sess == nil || sess.APIKey.ID != key.ID {
		return nil
	}
	return sess
}

// newSession builds a protocol server and transport for key. The session is
// added to the registry only after a successful initialize; a rejected
// handshake leaves it unregistered and the caller closes it.
func (g *Gateway) newSession(key *model.APIKey) *Session {
	sess := &Session{
		ID:        uuid.NewString(),
		APIKey:    key,
		CreatedAt: g.now(),
	}
	sess.ids = &sessionIDManager{id: sess.ID}

	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, res *mcp.InitializeResult) {
		sess.established.Store(true)
	})
	// The transport registers after any initialize response, including a
	// rejected one, so only sessions marked by AfterInitialize are kept.
	hooks.AddOnRegisterSession(func(ctx context.Context, cs server.ClientSession) {
		if cs.SessionID() != sess.ID || !sess.established.Load() {
			return
		}
		g.registry.Add(sess)
		g.logger.Info("mcp session established",
			"session_id", sess.ID,
			"key_id", key.ID,
			"permissions", key.Permissions,
		)
	})

	sess.server = newSessionServer(g.name, g.version, hooks)
	sess.transport = server.NewStreamableHTTPServer(sess.server,
		server.WithSessionIdManager(sess.ids),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return WithSessionContext(ctx, &SessionContext{
				SessionID: sess.ID,
				APIKey:    key,
				Token:     bearerToken(r),
				Market:    g.market,
				Store:     g.store,
				Logger:    g.logger.With("session_id", sess.ID),
			})
		}),
		server.WithLogger(slogAdapter{logger: g.logger}),
	)
	return sess
}

// Close terminates every open session. Clients must re-initialize after a
// restart.
func (g *Gateway) Close(ctx context.Context) {
	sessions := g.registry.Drain()
	for _, s := range sessions {
		s.close(ctx)
	}
	if len(sessions) > 0 {
		g.logger.Info("mcp sessions closed", "count", len(sessions))
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// rpcPeek is the part of a JSON-RPC request the gateway looks at before the
// transport does.
type rpcPeek struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func peekMessage(body []byte) rpcPeek {
	var m rpcPeek
	_ = json.Unmarshal(bytes.TrimSpace(body), &m)
	return m
}

func (m rpcPeek) isInitialize() bool {
	return m.Method == string(mcp.MethodInitialize)
}

// label names the request for metrics: the tool for tools/call, otherwise
// the JSON-RPC method.
func (m rpcPeek) label() string {
	if m.Method == string(mcp.MethodToolsCall) {
		var p struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(m.Params, &p) == nil && p.Name != "" {
			return p.Name
		}
	}
	return m.Method
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(time.Duration, bool, string) {}
