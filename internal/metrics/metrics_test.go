package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveBatch(t *testing.T) {
	before := testutil.ToFloat64(documentsProcessed.WithLabelValues("users"))
	ObserveBatch("users", 250, 120*time.Millisecond)
	after := testutil.ToFloat64(documentsProcessed.WithLabelValues("users"))
	assert.InDelta(t, 250, after-before, 1e-9)
}

func TestCountRows(t *testing.T) {
	before := testutil.ToFloat64(rowsWritten.WithLabelValues("users", "inserted"))
	CountRows("users", "inserted", 10)
	CountRows("users", "inserted", 0) // zero counts are not recorded
	after := testutil.ToFloat64(rowsWritten.WithLabelValues("users", "inserted"))
	assert.InDelta(t, 10, after-before, 1e-9)
}

func TestObserveTable(t *testing.T) {
	// Histogram observation must not panic; value assertions need a full
	// registry scrape which the other tests already cover for counters.
	ObserveTable("users", 3*time.Second)
}
