package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/plebmarket/mcpgate/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI description of the REST surface. The
// document is built on first request and cached; it only depends on the
// public URL and the build version.
type OpenAPIHandler struct {
	baseURL string
	version string

	once sync.Once
	body []byte
	err  error
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(baseURL, version string) *OpenAPIHandler {
	return &OpenAPIHandler{baseURL: baseURL, version: version}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		doc, err := openapi.Generate(h.baseURL, h.version)
		if err != nil {
			h.err = err
			return
		}
		h.body, h.err = json.MarshalIndent(doc, "", "  ")
	})
	if h.err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate OpenAPI spec: "+h.err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(h.body)
}
