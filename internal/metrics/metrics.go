// Package metrics exposes Prometheus metrics for the submission and
// leaderboard pipeline on a custom registry (no default Go collectors).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every metric the service records.
type Manager struct {
	registry prometheus.Registerer

	deliveries        *prometheus.CounterVec
	submissionsStored *prometheus.CounterVec
	refreshDuration   prometheus.Histogram
	leaderboardSize   *prometheus.GaugeVec
	apiRequests       *prometheus.CounterVec
}

var (
	customRegistry = prometheus.NewRegistry()
	globalManager  = NewManager(customRegistry)
)

// NewManager registers all metrics on the given registry.
func NewManager(reg prometheus.Registerer) *Manager {
	m := &Manager{registry: reg}
	auto := promauto.With(reg)

	m.deliveries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaiaboard",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Inbound webhook deliveries by terminal outcome",
	}, []string{"outcome"})

	m.submissionsStored = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaiaboard",
		Subsystem: "submissions",
		Name:      "stored_total",
		Help:      "Submissions accepted into the store by level, split, and source",
	}, []string{"level", "split", "source"})

	m.refreshDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gaiaboard",
		Subsystem: "leaderboard",
		Name:      "refresh_duration_seconds",
		Help:      "Duration of leaderboard materialization passes",
		Buckets:   prometheus.DefBuckets,
	})

	m.leaderboardSize = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gaiaboard",
		Subsystem: "leaderboard",
		Name:      "entries",
		Help:      "Materialized leaderboard entries by view, level, and split",
	}, []string{"view", "level", "split"})

	m.apiRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaiaboard",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "API requests by route, method, and status code",
	}, []string{"route", "method", "status"})

	return m
}

// RecordDelivery counts one processed webhook delivery.
func RecordDelivery(outcome string) {
	globalManager.deliveries.WithLabelValues(outcome).Inc()
}

// RecordSubmissionStored counts one accepted submission.
func RecordSubmissionStored(level int, split, source string) {
	globalManager.submissionsStored.WithLabelValues(strconv.Itoa(level), split, source).Inc()
}

// ObserveRefreshDuration records one materialization pass.
func ObserveRefreshDuration(d time.Duration) {
	globalManager.refreshDuration.Observe(d.Seconds())
}

// UpdateLeaderboardSize sets the entry count for one view.
func UpdateLeaderboardSize(view string, level int, split string, n int) {
	globalManager.leaderboardSize.WithLabelValues(view, strconv.Itoa(level), split).Set(float64(n))
}

// RecordAPIRequest counts one handled API request.
func RecordAPIRequest(route, method string, status int) {
	globalManager.apiRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// Handler serves the custom registry for GET /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}

// Registry returns the custom registry, mainly for tests.
func Registry() *prometheus.Registry {
	return customRegistry
}
