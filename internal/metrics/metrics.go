// Package metrics holds the Prometheus collectors for database retries and
// library scans.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry collects everything below plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// LockRetries counts statements retried after a busy or locked error.
	LockRetries = factory.NewCounter(prometheus.CounterOpts{
		Name: "shelf_db_lock_retries_total",
		Help: "Statements retried after the database reported busy or locked",
	})

	// LockExhausted counts calls that ran out of retry budget.
	LockExhausted = factory.NewCounter(prometheus.CounterOpts{
		Name: "shelf_db_lock_exhausted_total",
		Help: "Calls that gave up after exhausting their retry budget",
	})

	// ScanFiles counts scanned files by outcome.
	ScanFiles = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "shelf_scan_files_total",
		Help: "Files handled by library scans, by outcome",
	}, []string{"outcome"})

	// Scans counts finished scans by mode and status.
	Scans = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "shelf_scans_total",
		Help: "Library scans by mode and status",
	}, []string{"mode", "status"})

	// ScanDuration observes wall time of scans.
	ScanDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shelf_scan_duration_seconds",
		Help:    "Duration of library scans",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"mode"})
)

// Scan file outcomes.
const (
	OutcomeAdded     = "added"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeRemoved   = "removed"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
