package target

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValue(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"plain", "'plain'"},
		{"O'Brien", "'O''Brien'"},
		{when, "'2024-03-01T12:30:45'"},
		{&when, "'2024-03-01T12:30:45'"},
		{(*time.Time)(nil), "NULL"},
		{true, "TRUE"},
		{false, "FALSE"},
		{42, "42"},
		{3.5, "3.5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in))
	}
}

func TestFileWriter_RoundTrip(t *testing.T) {
	fw := NewFileWriter(t.TempDir())

	rows := [][]any{
		{"a", "Alice", nil},
		{"b", "O'Brien", 7},
	}
	n, err := fw.WriteBatch(rows, []string{"id", "name", "score"}, "users", " ON CONFLICT (id) DO NOTHING")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(fw.Path("users"))
	require.NoError(t, err)
	content := string(data)

	lines := strings.Split(strings.TrimSpace(content), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "INSERT INTO users (id, name, score) VALUES ('a', 'Alice', NULL) ON CONFLICT (id) DO NOTHING;", lines[0])
	assert.Equal(t, "INSERT INTO users (id, name, score) VALUES ('b', 'O''Brien', 7) ON CONFLICT (id) DO NOTHING;", lines[1])

	statements, err := fw.ReadStatements(fw.Path("users"))
	require.NoError(t, err)
	assert.Len(t, statements, 2)
	assert.True(t, strings.HasPrefix(statements[0], "INSERT INTO users"))
}

func TestFileWriter_AppendsAcrossBatches(t *testing.T) {
	fw := NewFileWriter(t.TempDir())

	_, err := fw.WriteBatch([][]any{{"a"}}, []string{"id"}, "users", "")
	require.NoError(t, err)
	_, err = fw.WriteBatch([][]any{{"b"}}, []string{"id"}, "users", "")
	require.NoError(t, err)

	statements, err := fw.ReadStatements(fw.Path("users"))
	require.NoError(t, err)
	assert.Len(t, statements, 2)
}

func TestFileWriter_Reset(t *testing.T) {
	fw := NewFileWriter(t.TempDir())

	_, err := fw.WriteBatch([][]any{{"a"}}, []string{"id"}, "users", "")
	require.NoError(t, err)
	require.NoError(t, fw.Reset("users"))

	statements, err := fw.ReadStatements(fw.Path("users"))
	require.NoError(t, err)
	assert.Empty(t, statements)

	// Resetting a missing file is fine.
	require.NoError(t, fw.Reset("users"))
}

func TestFileWriter_WriteDelete(t *testing.T) {
	fw := NewFileWriter(t.TempDir())

	n, err := fw.WriteDelete("user_events", "user_id", []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	statements, err := fw.ReadStatements(fw.Path("user_events"))
	require.NoError(t, err)
	require.Len(t, statements, 1)
	assert.Equal(t, "DELETE FROM user_events WHERE user_id IN ('u1', 'u2')", statements[0])
}

func TestReadStatements_MissingFile(t *testing.T) {
	fw := NewFileWriter(t.TempDir())
	statements, err := fw.ReadStatements(fw.Path("nope"))
	require.NoError(t, err)
	assert.Nil(t, statements)
}
