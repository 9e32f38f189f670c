// Package metrics exposes Prometheus counters for the validation pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Compile outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeFault  = "fault"
	OutcomeCached = "cached"
	OutcomeEmpty  = "empty"
)

// Metrics owns a private registry, not the global default one.
type Metrics struct {
	reg *prometheus.Registry

	compiles     *prometheus.CounterVec
	compileTime  prometheus.Histogram
	discarded    *prometheus.CounterVec
	scheduled    *prometheus.CounterVec
	userMessages *prometheus.CounterVec
	roots        prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		compiles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bamlls_compiles_total",
			Help: "Compile attempts by outcome",
		}, []string{"outcome"}),
		compileTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bamlls_compile_seconds",
			Help:    "Time spent in the compiler adapter",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		discarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bamlls_results_discarded_total",
			Help: "Compile results dropped at commit time by reason",
		}, []string{"reason"}),
		scheduled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bamlls_validations_scheduled_total",
			Help: "Scheduled runs started by cadence and edge",
		}, []string{"cadence", "edge"}),
		userMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bamlls_user_messages_total",
			Help: "User-visible messages by severity",
		}, []string{"severity"}),
		roots: f.NewGauge(prometheus.GaugeOpts{
			Name: "bamlls_roots",
			Help: "Project roots known to the registry",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Compiled records one adapter call.
func (m *Metrics) Compiled(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.compiles.WithLabelValues(outcome).Inc()
	if outcome != OutcomeEmpty {
		m.compileTime.Observe(took.Seconds())
	}
}

// Discarded records a result dropped at commit time.
func (m *Metrics) Discarded(reason string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(reason).Inc()
}

// Scheduled records a scheduler firing.
func (m *Metrics) Scheduled(cadence string, leading bool) {
	if m == nil {
		return
	}
	edge := "trailing"
	if leading {
		edge = "leading"
	}
	m.scheduled.WithLabelValues(cadence, edge).Inc()
}

// UserMessage records a user-visible message.
func (m *Metrics) UserMessage(severity string) {
	if m == nil {
		return
	}
	m.userMessages.WithLabelValues(severity).Inc()
}

// SetRoots records the number of known roots.
func (m *Metrics) SetRoots(n int) {
	if m == nil {
		return
	}
	m.roots.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
