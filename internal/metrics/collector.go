// Package metrics exposes Prometheus metrics for backends and scheduled slides.
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

// Collector holds the restyle metrics. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	backendQueueDepth *prometheus.GaugeVec
	backendAlive      *prometheus.GaugeVec
	jobsTotal         *prometheus.CounterVec

	slidesTotal  *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	scenesActive prometheus.Gauge
}

// NewCollector registers the metrics on a fresh registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		backendQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_queue_depth",
			Help:      "Jobs queued or running on a backend",
		}, []string{"backend"}),
		backendAlive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_alive",
			Help:      "1 while a backend accepts jobs, 0 once it is marked dead",
		}, []string{"backend"}),
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Restyle jobs by backend and outcome",
		}, []string{"backend", "outcome"}),
		slidesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slides_total",
			Help:      "Resolved slides by node kind and whether work was skipped",
		}, []string{"kind", "skipped"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Time from a node becoming ready to its slide resolving",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),
		scenesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scenes_active",
			Help:      "Scene pipelines currently running",
		}),
	}
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) BackendDepth(backend string, depth int) {
	if c == nil {
		return
	}
	c.backendQueueDepth.WithLabelValues(backend).Set(float64(depth))
}

func (c *Collector) BackendAlive(backend string, alive bool) {
	if c == nil {
		return
	}
	v := 0.0
	if alive {
		v = 1
	}
	c.backendAlive.WithLabelValues(backend).Set(v)
}

// Job counts a job outcome: "ok", "failed", "skipped" or "failover".
func (c *Collector) Job(backend, outcome string) {
	if c == nil {
		return
	}
	c.jobsTotal.WithLabelValues(backend, outcome).Inc()
}

func (c *Collector) Slide(kind string, skipped bool, d time.Duration) {
	if c == nil {
		return
	}
	s := "false"
	if skipped {
		s = "true"
	}
	c.slidesTotal.WithLabelValues(kind, s).Inc()
	if !skipped {
		c.nodeDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (c *Collector) SceneStarted() {
	if c != nil {
		c.scenesActive.Inc()
	}
}

func (c *Collector) SceneFinished() {
	if c != nil {
		c.scenesActive.Dec()
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
