// Package metrics exposes Prometheus instrumentation for the upload service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the upload service.
type Metrics struct {
	// UploadsInitiated counts sessions created, labeled by upload type
	// (simple or multipart).
	UploadsInitiated *prometheus.CounterVec

	// UploadsCompleted counts successfully finalized uploads.
	UploadsCompleted prometheus.Counter

	// UploadsAborted counts explicitly aborted uploads.
	UploadsAborted prometheus.Counter

	// PartsPresigned counts presigned part URLs issued.
	PartsPresigned prometheus.Counter

	// PartsRecorded counts part upload reports accepted.
	PartsRecorded prometheus.Counter

	// BytesCompleted counts total bytes in finalized uploads.
	BytesCompleted prometheus.Counter

	// CompleteDuration observes how long finalize calls take.
	CompleteDuration prometheus.Histogram

	// CleanupSessionsRemoved counts sessions reaped by the sweeper.
	CleanupSessionsRemoved prometheus.Counter

	// CleanupLastRunTime is the unix time of the last sweeper run.
	CleanupLastRunTime prometheus.Gauge
}

// New creates and registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UploadsInitiated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "uploads_initiated_total",
			Help:      "Number of upload sessions initiated, by upload type.",
		}, []string{"type"}),
		UploadsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "uploads_completed_total",
			Help:      "Number of uploads finalized successfully.",
		}),
		UploadsAborted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "uploads_aborted_total",
			Help:      "Number of uploads explicitly aborted.",
		}),
		PartsPresigned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "parts_presigned_total",
			Help:      "Number of presigned part URLs issued.",
		}),
		PartsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "parts_recorded_total",
			Help:      "Number of part upload reports accepted.",
		}),
		BytesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "bytes_completed_total",
			Help:      "Total bytes in finalized uploads.",
		}),
		CompleteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meridian",
			Name:      "complete_duration_seconds",
			Help:      "Duration of upload finalize calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		CleanupSessionsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "cleanup_sessions_removed_total",
			Help:      "Number of stale sessions removed by the sweeper.",
		}),
		CleanupLastRunTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "meridian",
			Name:      "cleanup_last_run_timestamp_seconds",
			Help:      "Unix time of the last cleanup sweeper run.",
		}),
	}
}

// RecordCompleted records one finalized upload of the given size.
func (m *Metrics) RecordCompleted(bytes int64, seconds float64) {
	m.UploadsCompleted.Inc()
	m.BytesCompleted.Add(float64(bytes))
	m.CompleteDuration.Observe(seconds)
}

// RecordCleanupRun records one sweeper run that removed n sessions.
func (m *Metrics) RecordCleanupRun(removed int) {
	m.CleanupSessionsRemoved.Add(float64(removed))
	m.CleanupLastRunTime.SetToCurrentTime()
}
