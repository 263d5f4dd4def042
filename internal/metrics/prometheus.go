package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus mirrors recorded requests into Prometheus collectors on its own
// registry.
type Prometheus struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheus registers the gateway collectors. activeSessions, when not
// nil, backs the mcpgate_active_sessions gauge.
func NewPrometheus(activeSessions func() int) *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	p := &Prometheus{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpgate_requests_total",
			Help: "Total number of gateway requests by tool and outcome",
		}, []string{"tool", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpgate_request_duration_seconds",
			Help:    "Duration of gateway requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	if activeSessions != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mcpgate_active_sessions",
			Help: "Number of open MCP sessions",
		}, func() float64 { return float64(activeSessions()) })
	}
	return p
}

// Observe implements Observer.
func (p *Prometheus) Observe(rec RequestRecord) {
	tool := rec.Tool
	if tool == "" {
		tool = "none"
	}
	outcome := "success"
	if !rec.Success {
		outcome = "error"
	}
	p.requests.WithLabelValues(tool, outcome).Inc()
	p.duration.WithLabelValues(tool).Observe(rec.Duration.Seconds())
}

// Registry exposes the underlying registry for tests and extra collectors.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
