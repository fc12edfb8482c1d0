// Package metrics exposes Prometheus collectors for the server and proxy
// roles together with a small HTTP endpoint serving them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pario-ai/linecompute/pkg/cache/lru"
)

// Request outcomes used as the "outcome" label.
const (
	OutcomeOK                  = "ok"
	OutcomeBadRequest          = "bad_request"
	OutcomeEvalError           = "eval_error"
	OutcomeBackendError        = "backend_error"
	OutcomeUpstreamUnavailable = "upstream_unavailable"
	OutcomeUpstreamError       = "upstream_error"
)

// Metrics holds all collectors for one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Requests          *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	CacheLookups      *prometheus.CounterVec
	Connections       *prometheus.CounterVec
	ActiveConnections *prometheus.GaugeVec
	MalformedFrames   *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled by role, mode and outcome",
		}, []string{"role", "mode", "outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request handling latency by role and mode",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"role", "mode"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by role and result",
		}, []string{"role", "result"}),
		Connections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections by role",
		}, []string{"role"}),
		ActiveConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Currently open connections by role",
		}, []string{"role"}),
		MalformedFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Frames rejected as malformed by role",
		}, []string{"role"}),
		UpstreamFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Proxy upstream failures by reason",
		}, []string{"reason"}),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(role, mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(role, mode, outcome).Inc()
	m.RequestDuration.WithLabelValues(role, mode).Observe(d.Seconds())
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(role string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(role, result).Inc()
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened(role string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(role).Inc()
	m.ActiveConnections.WithLabelValues(role).Inc()
}

// ConnClosed records a closed connection.
func (m *Metrics) ConnClosed(role string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(role).Dec()
}

// MalformedFrame records a rejected frame.
func (m *Metrics) MalformedFrame(role string) {
	if m == nil {
		return
	}
	m.MalformedFrames.WithLabelValues(role).Inc()
}

// UpstreamFailure records a proxy upstream failure.
func (m *Metrics) UpstreamFailure(reason string) {
	if m == nil {
		return
	}
	m.UpstreamFailures.WithLabelValues(reason).Inc()
}

// RegisterCache exports the size and eviction count of c under the given role.
func (m *Metrics) RegisterCache(namespace, role string, c *lru.Cache) error {
	if m == nil {
		return nil
	}
	labels := prometheus.Labels{"role": role}
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "cache_entries",
			Help:        "Entries currently held in the result cache",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "cache_capacity",
			Help:        "Maximum entries the result cache holds",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Capacity()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_evictions_total",
			Help:        "Entries evicted from the result cache",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Stats().Evictions) }),
	}
	for _, col := range collectors {
		if err := m.registry.Register(col); err != nil {
			return fmt.Errorf("register cache metrics: %w", err)
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Router serves /metrics and a liveness probe at /healthz.
func (m *Metrics) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves Router on addr until ctx is cancelled.
func (m *Metrics) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zerolog.Ctx(ctx).Info().Str("addr", addr).Msg("metrics listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
