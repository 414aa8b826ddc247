// Package metrics exposes Prometheus collectors for sync runs, searches and
// the query sandbox. Every Metrics value owns its registry, so several
// instances can coexist in one process (tests, multiple servers).
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	syncRuns        *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	chunksWritten   prometheus.Counter
	chunksFailed    prometheus.Counter
	orphansDeleted  prometheus.Counter
	searchRequests  *prometheus.CounterVec
	searchDuration  *prometheus.HistogramVec
	queriesRejected *prometheus.CounterVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		syncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noteindex_sync_runs_total",
				Help: "Sync runs by outcome",
			},
			[]string{"outcome"}, // done, declined, error
		),
		syncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "noteindex_sync_duration_seconds",
				Help:    "Duration of sync runs",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
		),
		chunksWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "noteindex_chunks_written_total",
			Help: "Chunks persisted by sync runs",
		}),
		chunksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "noteindex_chunks_failed_total",
			Help: "Chunks refused by validation or the database",
		}),
		orphansDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "noteindex_orphan_chunks_deleted_total",
			Help: "Chunks removed because their note no longer exists",
		}),
		searchRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noteindex_search_requests_total",
				Help: "Search requests by kind and cache result",
			},
			[]string{"kind", "cache"}, // kind: notes, reference; cache: hit, miss
		),
		searchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noteindex_search_duration_seconds",
				Help:    "Duration of search requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		queriesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noteindex_sandbox_queries_rejected_total",
				Help: "Sandbox queries rejected before execution, by rule",
			},
			[]string{"rule"},
		),
	}
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSync records one finished sync run
func (m *Metrics) ObserveSync(outcome string, d time.Duration, written, failed, orphans int) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(d.Seconds())
	m.chunksWritten.Add(float64(written))
	m.chunksFailed.Add(float64(failed))
	m.orphansDeleted.Add(float64(orphans))
}

// ObserveSearch records one search request
func (m *Metrics) ObserveSearch(kind string, cacheHit bool, d time.Duration) {
	if m == nil {
		return
	}
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	m.searchRequests.WithLabelValues(kind, cache).Inc()
	m.searchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRejectedQuery records a sandbox rejection
func (m *Metrics) ObserveRejectedQuery(rule string) {
	if m == nil {
		return
	}
	m.queriesRejected.WithLabelValues(rule).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
