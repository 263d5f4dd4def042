package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/nostrauth"
	"github.com/plebmarket/mcpgate/internal/service"
)

// NostrAuthHeader carries a signed auth event on requests that have no body.
const NostrAuthHeader = "X-Nostr-Auth"

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeServiceError maps errors from the key service onto HTTP statuses:
// auth event failures are 401, bad input is 400, everything else is 500.
func writeServiceError(w http.ResponseWriter, err error, fallbackMsg string) {
	var af *service.AuthFailure
	switch {
	case errors.As(err, &af):
		writeError(w, http.StatusUnauthorized, af.Message)
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": "))
	default:
		writeError(w, http.StatusInternalServerError, fallbackMsg)
	}
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryString extracts a trimmed string query parameter.
func queryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// parseEventField decodes the optional signedEvent member of a request body.
// A malformed event is returned as an AuthFailure so it answers 401 like any
// other bad proof.
func parseEventField(raw json.RawMessage) (*nostrauth.Event, error) {
	ev, err := nostrauth.ParseEvent(raw)
	if err != nil {
		return nil, &service.AuthFailure{Message: nostrauth.MsgMissingEvent}
	}
	return ev, nil
}

// eventFromHeader reads a signed event from the X-Nostr-Auth header. The value
// may be raw JSON or base64 (standard or URL alphabet) encoded JSON.
func eventFromHeader(r *http.Request) (*nostrauth.Event, error) {
	v := strings.TrimSpace(r.Header.Get(NostrAuthHeader))
	if v == "" {
		return nil, nil
	}
	if !strings.HasPrefix(v, "{") {
		decoded, err := decodeBase64(v)
		if err != nil {
			return nil, &service.AuthFailure{Message: nostrauth.MsgMissingEvent}
		}
		v = string(decoded)
	}
	return parseEventField(json.RawMessage(v))
}

func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("invalid base64")
}

// clientIP returns the caller's address without the port. RealIP middleware
// has already rewritten RemoteAddr when the server sits behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
