// Package metrics registers prometheus counters, gauges, and histograms for
// the voyage lifecycle. Sail and ship bootstrap update the counters and
// histograms; TasksByStatus, StaleTasksTotal and ActiveVoyages are
// registered but not set anywhere in this module. Handler returns the
// promhttp handler; no command starts an HTTP listener for it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ShipsBootstrapped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyage_ships_bootstrapped_total",
			Help: "Total number of ship bootstrap attempts by outcome",
		},
		[]string{"outcome"},
	)

	SailDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voyage_sail_duration_seconds",
			Help:    "Time taken for a sail invocation to return",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	ShipBootstrapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voyage_ship_bootstrap_duration_seconds",
			Help:    "Time taken to bootstrap a single ship",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voyage_tasks_by_status",
			Help: "Number of tasks observed at last status/derive call, by status",
		},
		[]string{"status"},
	)

	StaleTasksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voyage_stale_tasks",
			Help: "Number of in_progress tasks observed as stale at last derive call",
		},
	)

	ActiveVoyages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voyage_active_total",
			Help: "Number of voyages with a storage VM present at last discovery",
		},
	)

	ProviderOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyage_provider_operations_total",
			Help: "Total provider port calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(ShipsBootstrapped)
	prometheus.MustRegister(SailDuration)
	prometheus.MustRegister(ShipBootstrapDuration)
	prometheus.MustRegister(TasksByStatus)
	prometheus.MustRegister(StaleTasksTotal)
	prometheus.MustRegister(ActiveVoyages)
	prometheus.MustRegister(ProviderOperationsTotal)
}

// Handler returns the Prometheus HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
