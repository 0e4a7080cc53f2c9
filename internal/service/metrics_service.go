package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	storeOpDuration *prometheus.HistogramVec
	storeOpErrors   *prometheus.CounterVec
	conflictsTotal  *prometheus.CounterVec
	batchItemsTotal *prometheus.CounterVec
	scanPagesTotal  *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	storeOpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "timetable_store_operation_seconds",
		Help:    "Duration of timetable store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	storeOpErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_store_errors_total",
		Help: "Timetable store operations that returned an error",
	}, []string{"operation"})

	conflictsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_conflicts_total",
		Help: "Assignments rejected by the conflict checker",
	}, []string{"kind", "same_batch"})

	batchItemsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_batch_items_total",
		Help: "Batch items processed by outcome",
	}, []string{"outcome"})

	scanPagesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_scan_pages_total",
		Help: "Pages read by full-table scans",
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		storeOpDuration, storeOpErrors, conflictsTotal, batchItemsTotal, scanPagesTotal, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		storeOpDuration: storeOpDuration,
		storeOpErrors:   storeOpErrors,
		conflictsTotal:  conflictsTotal,
		batchItemsTotal: batchItemsTotal,
		scanPagesTotal:  scanPagesTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveStoreOperation records the latency and outcome of a store call.
func (m *MetricsService) ObserveStoreOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpErrors.WithLabelValues(operation).Inc()
	}
}

// RecordConflict counts a conflict-checker rejection.
func (m *MetricsService) RecordConflict(kind string, sameBatch bool) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(kind, fmt.Sprintf("%t", sameBatch)).Inc()
}

// RecordBatchItem counts one processed batch item ("committed" or a rejection code).
func (m *MetricsService) RecordBatchItem(outcome string) {
	if m == nil {
		return
	}
	m.batchItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordScanPage counts one page read by a full-table scan.
func (m *MetricsService) RecordScanPage(query string) {
	if m == nil {
		return
	}
	m.scanPagesTotal.WithLabelValues(query).Inc()
}
