package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	runs          *prometheus.CounterVec
	lastSuccessMs prometheus.Gauge
	snapshotBytes prometheus.Histogram
}

// newMetrics registers the sync collectors on registerer; a nil registerer keeps them unregistered.
func newMetrics(registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)
	return &metrics{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookworm_sync_runs_total",
				Help: "Total number of sync attempts by trigger and outcome",
			},
			[]string{"trigger", "outcome"}, // load/upload/flush, skipped/hydrated/uploaded/failed
		),
		lastSuccessMs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bookworm_sync_last_success_timestamp_ms",
				Help: "Unix milliseconds of the last successful sync",
			},
		),
		snapshotBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bookworm_sync_snapshot_bytes",
				Help:    "Size of uploaded snapshots",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
		),
	}
}

func (m *metrics) observe(trigger string, outcome Outcome) {
	m.runs.WithLabelValues(trigger, string(outcome)).Inc()
}
