package migrate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryCounters(t *testing.T) {
	s := NewSummary()

	s.RecordSuccess("users", 9)
	s.RecordSkipped("users", 2)
	s.RecordError("users", "foreign key constraint", map[string]any{"id": "abc"})

	assert.Equal(t, 9, s.Good("users"))
	assert.Equal(t, 2, s.Skipped("users"))
	assert.Equal(t, 1, s.BadTotal("users"))
	assert.Equal(t, 1, s.BadByReason("users", "foreign key constraint"))
	assert.Equal(t, 12, s.Tried("users"))
}

func TestSummaryTriedInvariant(t *testing.T) {
	s := NewSummary()
	s.RecordSuccess("t", 5)
	s.RecordSkipped("t", 3)
	s.RecordError("t", "NULL constraint", nil)
	s.RecordError("t", "foreign key constraint", nil)

	assert.Equal(t, s.Good("t")+s.Skipped("t")+s.BadTotal("t"), s.Tried("t"))
}

func TestSummarySampleBound(t *testing.T) {
	s := NewSummary()
	for i := 0; i < 25; i++ {
		s.RecordError("users", "NULL constraint", map[string]any{"id": i})
	}

	assert.Equal(t, 25, s.BadByReason("users", "NULL constraint"))
	assert.Len(t, s.Samples("users"), maxFailedSamples)
}

func TestSummarySampleDetails(t *testing.T) {
	s := NewSummary()
	s.RecordError("users", "foreign key constraint", map[string]any{
		"id":     "abc123",
		"values": []any{"abc123", strings.Repeat("x", 300)},
	})

	samples := s.Samples("users")
	require.Len(t, samples, 1)
	assert.Equal(t, "abc123", samples[0].RecordID)
	assert.Equal(t, "foreign key constraint", samples[0].Reason)
	assert.LessOrEqual(t, len(samples[0].Details), 203)
}

func TestSummaryMerge(t *testing.T) {
	a := NewSummary()
	a.RecordSuccess("users", 3)

	b := NewSummary()
	b.RecordSuccess("users", 2)
	b.RecordError("users", "NULL constraint", map[string]any{"id": "x"})
	b.RecordSuccess("events", 1)

	a.Merge(b)

	assert.Equal(t, 5, a.Good("users"))
	assert.Equal(t, 1, a.BadTotal("users"))
	assert.Equal(t, 1, a.Good("events"))
	assert.Len(t, a.Samples("users"), 1)
}

func TestSummaryPrint(t *testing.T) {
	s := NewSummary()
	s.RecordSuccess("users", 10)
	s.RecordSkipped("users", 1)
	s.RecordError("users", "foreign key constraint", map[string]any{"id": "bad1"})
	s.RecordSuccess("events", 4)

	var buf strings.Builder
	s.Print(&buf)
	out := buf.String()

	assert.Contains(t, out, "IMPORT SUMMARY")
	assert.Contains(t, out, "users:")
	assert.Contains(t, out, "good: 10")
	assert.Contains(t, out, "skipped: 1")
	assert.Contains(t, out, "foreign key constraint: 1")
	assert.Contains(t, out, "id=bad1")
	assert.Contains(t, out, "TOTALS: 14 good, 1 bad, 1 skipped")
}
