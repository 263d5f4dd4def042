// Package metrics records gateway requests in a bounded in-memory buffer and
// derives latency percentiles, throughput and error rates from it.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultCapacity bounds the number of retained request records.
	DefaultCapacity = 10000
	// DefaultWindow is the trailing window used for latency and throughput.
	DefaultWindow = 5 * time.Minute
)

// RequestRecord is one completed gateway request.
type RequestRecord struct {
	At       time.Time
	Duration time.Duration
	Success  bool
	Tool     string
}

// Observer receives every recorded request. Implementations must be safe for
// concurrent use.
type Observer interface {
	Observe(rec RequestRecord)
}

// Snapshot is the computed view returned by the status endpoint.
type Snapshot struct {
	TotalRequests     int            `json:"totalRequests"`
	TotalErrors       int            `json:"totalErrors"`
	SuccessRate       float64        `json:"successRate"`
	P50Ms             float64        `json:"p50Ms"`
	P95Ms             float64        `json:"p95Ms"`
	P99Ms             float64        `json:"p99Ms"`
	RequestsPerMinute float64        `json:"requestsPerMinute"`
	ToolCalls         map[string]int `json:"toolCalls"`
	Uptime            string         `json:"uptime"`
	StartedAt         time.Time      `json:"startedAt"`
}

// Recorder is a fixed-capacity ring buffer of request records. Once full, the
// oldest record is overwritten.
type Recorder struct {
	mu      sync.Mutex
	buf     []RequestRecord
	next    int
	full    bool
	window  time.Duration
	started time.Time

	now       func() time.Time
	observers []Observer
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.buf = make([]RequestRecord, n)
		}
	}
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithClock sets the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithObserver adds an observer notified on every RecordRequest.
func WithObserver(o Observer) Option {
	return func(r *Recorder) { r.observers = append(r.observers, o) }
}

// NewRecorder returns an empty Recorder whose uptime starts now.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		buf:    make([]RequestRecord, DefaultCapacity),
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.now()
	return r
}

// RecordRequest appends a request outcome. tool may be empty.
func (r *Recorder) RecordRequest(d time.Duration, success bool, tool string) {
	rec := RequestRecord{At: r.now(), Duration: d, Success: success, Tool: tool}

	r.mu.Lock()
	r.buf[r.next] = rec
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()

	for _, o := range r.observers {
		o.Observe(rec)
	}
}

// Len returns the number of retained records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// records returns retained records oldest first. Caller holds mu.
func (r *Recorder) records() []RequestRecord {
	if !r.full {
		out := make([]RequestRecord, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]RequestRecord, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Snapshot computes totals over the whole buffer and latency, throughput and
// per-tool counts over the trailing window.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	recs := r.records()
	r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	snap := Snapshot{
		TotalRequests: len(recs),
		ToolCalls:     map[string]int{},
		StartedAt:     r.started,
		Uptime:        FormatUptime(now.Sub(r.started)),
	}

	var recent []float64
	for _, rec := range recs {
		if !rec.Success {
			snap.TotalErrors++
		}
		if rec.At.Before(cutoff) {
			continue
		}
		recent = append(recent, float64(rec.Duration)/float64(time.Millisecond))
		if rec.Tool != "" {
			snap.ToolCalls[rec.Tool]++
		}
	}

	if snap.TotalRequests == 0 {
		snap.SuccessRate = 100
	} else {
		ok := snap.TotalRequests - snap.TotalErrors
		snap.SuccessRate = round2(float64(ok) / float64(snap.TotalRequests) * 100)
	}

	sort.Float64s(recent)
	snap.P50Ms = Percentile(recent, 50)
	snap.P95Ms = Percentile(recent, 95)
	snap.P99Ms = Percentile(recent, 99)
	snap.RequestsPerMinute = round2(float64(len(recent)) / r.window.Minutes())
	return snap
}

// Percentile returns the nearest-rank percentile of sorted values:
// sorted[ceil(p/100*n)-1], clamped to the slice bounds. Empty input gives 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// FormatUptime renders d as "Xd Yh Zm", omitting leading zero units.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Minute)
	days := total / (24 * 60)
	hours := (total / 60) % 24
	mins := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
