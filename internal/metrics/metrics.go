// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbsync_documents_processed_total",
			Help: "Source documents read, by target table.",
		},
		[]string{"table"},
	)

	rowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbsync_rows_total",
			Help: "Target rows by table and outcome (inserted, skipped, failed).",
		},
		[]string{"table", "outcome"},
	)

	batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbsync_batch_duration_seconds",
			Help:    "Wall time of one source batch through transform and load.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	tableDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbsync_table_duration_seconds",
			Help:    "Wall time of one table's full export phase.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"table"},
	)
)

// ObserveBatch records one processed source batch.
func ObserveBatch(table string, documents int, elapsed time.Duration) {
	documentsProcessed.WithLabelValues(table).Add(float64(documents))
	batchDuration.WithLabelValues(table).Observe(elapsed.Seconds())
}

// ObserveTable records one completed table phase.
func ObserveTable(table string, elapsed time.Duration) {
	tableDuration.WithLabelValues(table).Observe(elapsed.Seconds())
}

// CountRows records row outcomes for a table.
func CountRows(table, outcome string, count int) {
	if count > 0 {
		rowsWritten.WithLabelValues(table, outcome).Add(float64(count))
	}
}
