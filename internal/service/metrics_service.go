package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openscholar/journal-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the session
// lifecycle and provides lightweight snapshots for the admin surface.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	sessionsIssued    prometheus.Counter
	tokenRotations    prometheus.Counter
	rotationConflicts prometheus.Counter
	blacklistHits     prometheus.Counter
	dbQueryDuration   *prometheus.HistogramVec

	requestCount         uint64
	requestDurationTotal uint64
	sessionsIssuedCount  uint64
	rotationCount        uint64
	conflictCount        uint64
	blacklistHitCount    uint64
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

	sessionsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_issued_total",
		Help: "Total number of successful logins",
	})

	tokenRotations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "token_rotations_total",
		Help: "Total number of successful refresh token rotations",
	})

	rotationConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "token_rotation_conflicts_total",
		Help: "Refresh attempts that lost the single-use rotation race",
	})

	blacklistHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "token_blacklist_hits_total",
		Help: "Access token validations rejected by the blacklist",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, sessionsIssued, tokenRotations, rotationConflicts, blacklistHits, dbQueryDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		sessionsIssued:    sessionsIssued,
		tokenRotations:    tokenRotations,
		rotationConflicts: rotationConflicts,
		blacklistHits:     blacklistHits,
		dbQueryDuration:   dbQueryDuration,
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

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// IncSessionIssued counts a successful login.
func (m *MetricsService) IncSessionIssued() {
	if m == nil {
		return
	}
	m.sessionsIssued.Inc()
	atomic.AddUint64(&m.sessionsIssuedCount, 1)
}

// IncRotation counts a successful refresh rotation.
func (m *MetricsService) IncRotation() {
	if m == nil {
		return
	}
	m.tokenRotations.Inc()
	atomic.AddUint64(&m.rotationCount, 1)
}

// IncRotationConflict counts a refresh attempt that lost the rotation race.
func (m *MetricsService) IncRotationConflict() {
	if m == nil {
		return
	}
	m.rotationConflicts.Inc()
	atomic.AddUint64(&m.conflictCount, 1)
}

// IncBlacklistHit counts a validation rejected by the blacklist.
func (m *MetricsService) IncBlacklistHit() {
	if m == nil {
		return
	}
	m.blacklistHits.Inc()
	atomic.AddUint64(&m.blacklistHitCount, 1)
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// Snapshot returns aggregated stats for the admin surface.
func (m *MetricsService) Snapshot() models.SystemStats {
	if m == nil {
		return models.SystemStats{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemStats{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		SessionsIssued:           atomic.LoadUint64(&m.sessionsIssuedCount),
		TokenRotations:           atomic.LoadUint64(&m.rotationCount),
		RotationConflicts:        atomic.LoadUint64(&m.conflictCount),
		BlacklistHits:            atomic.LoadUint64(&m.blacklistHitCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
