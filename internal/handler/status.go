package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/plebmarket/mcpgate/internal/market"
	"github.com/plebmarket/mcpgate/internal/metrics"
	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/store"
)

// statusMarketTimeout bounds how long the status page waits on the
// marketplace for its aggregate counts.
const statusMarketTimeout = 3 * time.Second

// StatusHandler reports gateway metrics merged with aggregate counts from the
// local store and, when configured, the marketplace.
type StatusHandler struct {
	recorder *metrics.Recorder
	store    *store.Store
	market   *market.Client
	sessions func() int
	version  string
	logger   *slog.Logger
}

// NewStatusHandler creates a new StatusHandler. market and sessions may be nil.
func NewStatusHandler(recorder *metrics.Recorder, st *store.Store, mc *market.Client, sessions func() int, version string, logger *slog.Logger) *StatusHandler {
	if sessions == nil {
		sessions = func() int { return 0 }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{
		recorder: recorder,
		store:    st,
		market:   mc,
		sessions: sessions,
		version:  version,
		logger:   logger,
	}
}

type statusResponse struct {
	Status         string             `json:"status"`
	Version        string             `json:"version"`
	Metrics        metrics.Snapshot   `json:"metrics"`
	ActiveSessions int                `json:"activeSessions"`
	Counts         *store.Counts      `json:"counts"`
	Marketplace    *model.MarketStats `json:"marketplace"`
	Warnings       []string           `json:"warnings,omitempty"`
	GeneratedAt    time.Time          `json:"generatedAt"`
}

// Status returns the metrics snapshot and aggregate counts. A failing count
// source degrades the status instead of failing the request. The response is
// cacheable for 30 seconds.
// GET /api/v1/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:         "ok",
		Version:        h.version,
		Metrics:        h.recorder.Snapshot(),
		ActiveSessions: h.sessions(),
		GeneratedAt:    time.Now().UTC(),
	}

	if err := h.store.InitializeSchema(r.Context()); err == nil {
		counts, err := h.store.Counts(r.Context())
		if err == nil {
			resp.Counts = &counts
		} else {
			h.logger.Warn("status: store counts failed", "error", err)
			resp.Warnings = append(resp.Warnings, "store counts unavailable")
		}
	} else {
		h.logger.Warn("status: schema not ready", "error", err)
		resp.Warnings = append(resp.Warnings, "store unavailable")
	}

	if h.market != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statusMarketTimeout)
		stats, err := h.market.Stats(ctx)
		cancel()
		if err == nil {
			resp.Marketplace = stats
		} else {
			h.logger.Warn("status: marketplace stats failed", "error", err)
			resp.Warnings = append(resp.Warnings, "marketplace stats unavailable")
		}
	}

	if len(resp.Warnings) > 0 {
		resp.Status = "degraded"
	}

	w.Header().Set("Cache-Control", "public, max-age=30")
	writeJSON(w, http.StatusOK, resp)
}
