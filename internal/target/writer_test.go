package target

import (
	"errors"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertSQL(t *testing.T) {
	got := insertSQL("users", []string{"id", "name"}, 1, " ON CONFLICT (id) DO NOTHING")
	assert.Equal(t, "INSERT INTO users (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING", got)

	got = insertSQL("users", []string{"id", "name"}, 3, "")
	assert.Equal(t, "INSERT INTO users (id, name) VALUES ($1, $2), ($3, $4), ($5, $6)", got)
}

func TestFlatten(t *testing.T) {
	got := flatten([][]any{{"a", 1}, {"b", 2}})
	assert.Equal(t, []any{"a", 1, "b", 2}, got)
	assert.Nil(t, flatten(nil))
}

func TestIsIntegrityError(t *testing.T) {
	assert.True(t, isIntegrityError(&pq.Error{Code: "23503"}))
	assert.True(t, isIntegrityError(&pq.Error{Code: "23502"}))
	assert.True(t, isIntegrityError(&pq.Error{Code: "23505"}))
	assert.False(t, isIntegrityError(&pq.Error{Code: "42601"}))
	assert.False(t, isIntegrityError(errors.New("network down")))
}

type captureRecorder struct {
	good    map[string]int
	skipped map[string]int
	errors  []struct {
		table  string
		reason string
	}
}

func newCaptureRecorder() *captureRecorder {
	return &captureRecorder{good: map[string]int{}, skipped: map[string]int{}}
}

func (c *captureRecorder) RecordSuccess(table string, count int) { c.good[table] += count }
func (c *captureRecorder) RecordSkipped(table string, count int) { c.skipped[table] += count }
func (c *captureRecorder) RecordError(table, reason string, sample map[string]any) {
	c.errors = append(c.errors, struct {
		table  string
		reason string
	}{table, reason})
}

func TestRecordIntegrityError_Classification(t *testing.T) {
	rec := newCaptureRecorder()
	w := &Writer{summary: rec}

	w.recordIntegrityError("appointments", &pq.Error{Code: "23503", Message: "violates foreign key"}, []any{"row1"})
	w.recordIntegrityError("appointments", &pq.Error{Code: "23502", Message: "null value"}, []any{"row2"})
	w.recordIntegrityError("appointments", &pq.Error{Code: "23505", Message: strings.Repeat("long ", 50)}, []any{"row3"})

	require.Len(t, rec.errors, 3)
	assert.Equal(t, ReasonForeignKey, rec.errors[0].reason)
	assert.Equal(t, ReasonNull, rec.errors[1].reason)
	assert.True(t, strings.HasPrefix(rec.errors[2].reason, "other integrity error: "))
	assert.LessOrEqual(t, len(rec.errors[2].reason), len("other integrity error: ")+100)
}

func TestSampleRow(t *testing.T) {
	sample := sampleRow([]any{"abc", 1, nil})
	assert.Equal(t, "abc", sample["id"])
	assert.Equal(t, []any{"abc", 1, nil}, sample["values"])

	empty := sampleRow(nil)
	_, hasID := empty["id"]
	assert.False(t, hasID)
}

func TestTableFromStatement(t *testing.T) {
	assert.Equal(t, "users", tableFromStatement("INSERT INTO users (id) VALUES ('a')"))
	assert.Equal(t, "users", tableFromStatement("insert into users (id) values ('a')"))
	assert.Equal(t, "unknown", tableFromStatement("DELETE FROM users"))
}

func TestTruncateReason(t *testing.T) {
	short := truncateReason("prefix: ", errors.New("boom"))
	assert.Equal(t, "prefix: boom", short)

	long := truncateReason("prefix: ", errors.New(strings.Repeat("x", 500)))
	assert.Equal(t, len("prefix: ")+100, len(long))
}
