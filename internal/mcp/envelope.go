package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/plebmarket/mcpgate/internal/model"
)

// JSON-RPC error codes used by the gateway before a request reaches a
// session transport.
const (
	CodeSessionError  = -32000
	CodeUnauthorized  = -32001
	CodeInternalError = -32603
)

const (
	msgMissingToken    = "Unauthorized: missing bearer token"
	msgInvalidKey      = "Unauthorized: invalid or revoked API key"
	msgKeyCheckFailed  = "Internal error: could not validate API key"
	msgNoSession       = "Bad Request: No valid session ID provided"
	msgNotInitialized  = "Bad Request: Server not initialized"
	msgSessionNotFound = "Session not found"
	msgMethodNotAllow  = "Method not allowed"
)

// writeRPCError answers with the JSON-RPC error envelope and id null.
func writeRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.NewRPCError(code, message))
}

// timedWriter captures the status code of whatever handled the request so
// the gateway can record the outcome after the fact.
type timedWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *timedWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *timedWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush lets the transport stream SSE through the wrapper.
func (w *timedWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *timedWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// slogAdapter satisfies the transport's Infof/Errorf logger with slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Infof(format string, v ...any) {
	a.logger.Debug("mcp transport", "detail", fmt.Sprintf(format, v...))
}

func (a slogAdapter) Errorf(format string, v ...any) {
	a.logger.Error("mcp transport", "error", fmt.Sprintf(format, v...))
}
