package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry and the collectors the API
// and workflow emit into.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	saveOutcomes    *prometheus.CounterVec
	rfcTransitions  *prometheus.CounterVec
	mergeDuration   prometheus.Observer
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

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "programme_cache_hits_total",
		Help: "Programme tree cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "programme_cache_misses_total",
		Help: "Programme tree cache misses",
	})

	saveOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "programme_save_outcomes_total",
		Help: "Programme saves partitioned by outcome code",
	}, []string{"outcome"})

	rfcTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "change_request_transitions_total",
		Help: "Change-request state transitions",
	}, []string{"to"})

	mergeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "programme_merge_duration_seconds",
		Help:    "Duration of the transactional programme merge",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, saveOutcomes, rfcTransitions, mergeDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		saveOutcomes:    saveOutcomes,
		rfcTransitions:  rfcTransitions,
		mergeDuration:   mergeDuration,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheLookup counts a programme cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordSaveOutcome counts a save by its outcome code.
func (m *MetricsService) RecordSaveOutcome(outcome SaveOutcome) {
	if m == nil {
		return
	}
	m.saveOutcomes.WithLabelValues(string(outcome)).Inc()
}

// RecordTransition counts a workflow transition by target state.
func (m *MetricsService) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.rfcTransitions.WithLabelValues(to).Inc()
}

// ObserveMerge records how long a transactional merge took.
func (m *MetricsService) ObserveMerge(duration time.Duration) {
	if m == nil {
		return
	}
	m.mergeDuration.Observe(duration.Seconds())
}
