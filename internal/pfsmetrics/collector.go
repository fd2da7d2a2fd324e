// Package pfsmetrics collects Prometheus metrics for mount-engine and
// cache activity and optionally serves them over HTTP.
package pfsmetrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/physfsgo/physfs/pkg/pfserrors"
)

// Config controls whether metrics are collected and, if so, where the
// Prometheus HTTP endpoint is served.
type Config struct {
	Enabled   bool
	Port      int
	Path      string
	Namespace string
	Subsystem string
}

// Collector records mount-engine operation counts/durations, cache
// hit/miss ratios, and a live mounted-archive gauge, and optionally
// exposes them over an HTTP /metrics endpoint.
type Collector struct {
	config   Config
	registry *prometheus.Registry
	server   *http.Server

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	cacheCounter      *prometheus.CounterVec
	mountedGauge      prometheus.Gauge
	errorCounter      *prometheus.CounterVec

	mu         sync.RWMutex
	operations map[string]*OperationTotals
}

// OperationTotals tracks cumulative counts for one operation name,
// available without scraping Prometheus (used by health checks and
// debugging endpoints).
type OperationTotals struct {
	Count         int64
	Errors        int64
	TotalDuration time.Duration
}

// NewCollector builds a Collector. When config.Enabled is false nothing is
// exported to Prometheus and Start does nothing; RecordOperation still
// updates the in-process Totals.
func NewCollector(config Config) (*Collector, error) {
	if config.Namespace == "" {
		config.Namespace = "physfs"
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	c := &Collector{config: config, operations: make(map[string]*OperationTotals)}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "operations_total", Help: "Total number of mount engine operations.",
	}, []string{"operation", "status"})
	c.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "operation_duration_seconds", Help: "Duration of mount engine operations in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"operation"})
	c.cacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "cache_requests_total", Help: "Total number of decompressed-entry cache lookups.",
	}, []string{"result"})
	c.mountedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "mounted_archives", Help: "Number of archives currently mounted into the search path.",
	})
	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "errors_total", Help: "Total number of errors by code.",
	}, []string{"operation", "code"})

	for _, metric := range []prometheus.Collector{
		c.operationCounter, c.operationDuration, c.cacheCounter, c.mountedGauge, c.errorCounter,
	} {
		if err := c.registry.Register(metric); err != nil {
			return nil, pfserrors.New(pfserrors.CodeOther, "failed to register metric").
				WithComponent("pfsmetrics").WithCause(err)
		}
	}
	return c, nil
}

// Start serves /metrics over HTTP in the background. A no-op if metrics
// are disabled.
func (c *Collector) Start() error {
	if !c.config.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = c.server.ListenAndServe() }()
	return nil
}

// Stop shuts down the HTTP endpoint, if one was started.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordOperation records one mount-engine call's outcome and latency.
func (c *Collector) RecordOperation(operation string, duration time.Duration, err error) {
	c.mu.Lock()
	totals, ok := c.operations[operation]
	if !ok {
		totals = &OperationTotals{}
		c.operations[operation] = totals
	}
	totals.Count++
	totals.TotalDuration += duration
	if err != nil {
		totals.Errors++
	}
	c.mu.Unlock()

	if !c.config.Enabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
	if err != nil {
		c.errorCounter.With(prometheus.Labels{"operation": operation, "code": string(pfserrors.CodeOf(err))}).Inc()
	}
}

// RecordCacheHit records a decompressed-entry cache hit.
func (c *Collector) RecordCacheHit() {
	if c.config.Enabled {
		c.cacheCounter.With(prometheus.Labels{"result": "hit"}).Inc()
	}
}

// RecordCacheMiss records a decompressed-entry cache miss.
func (c *Collector) RecordCacheMiss() {
	if c.config.Enabled {
		c.cacheCounter.With(prometheus.Labels{"result": "miss"}).Inc()
	}
}

// SetMountedArchives reports the current count of mounted archives.
func (c *Collector) SetMountedArchives(n int) {
	if c.config.Enabled {
		c.mountedGauge.Set(float64(n))
	}
}

// Totals returns a snapshot of cumulative per-operation counters,
// independent of whether Prometheus collection is enabled.
func (c *Collector) Totals() map[string]OperationTotals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]OperationTotals, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}
