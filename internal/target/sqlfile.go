package target

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileWriter emits idempotent SQL to per-table export files for offline
// application. One statement per line, terminated by a semicolon.
type FileWriter struct {
	dir string
}

// NewFileWriter builds a file writer rooted at dir.
func NewFileWriter(dir string) *FileWriter {
	if dir == "" {
		dir = "sql_exports"
	}
	return &FileWriter{dir: dir}
}

// Path returns the export file for a table.
func (f *FileWriter) Path(table string) string {
	return filepath.Join(f.dir, table+"_import.sql")
}

// Reset removes a table's export file so a fresh run starts clean.
func (f *FileWriter) Reset(table string) error {
	err := os.Remove(f.Path(table))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset export file for %s: %w", table, err)
	}
	return nil
}

// WriteBatch appends one INSERT statement per row and returns the row count.
func (f *FileWriter) WriteBatch(rows [][]any, columns []string, table, onConflictClause string) (int, error) {
	if len(rows) == 0 || len(columns) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	file, err := os.OpenFile(f.Path(table), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open export file for %s: %w", table, err)
	}
	defer file.Close()

	var b strings.Builder
	for _, row := range rows {
		values := make([]string, len(row))
		for i, v := range row {
			values[i] = FormatValue(v)
		}
		fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)%s;\n",
			table, strings.Join(columns, ", "), strings.Join(values, ", "), onConflictClause)
	}

	if _, err := file.WriteString(b.String()); err != nil {
		return 0, fmt.Errorf("failed to append to export file for %s: %w", table, err)
	}
	return len(rows), nil
}

// WriteDelete appends a DELETE statement for the given parent identifiers.
func (f *FileWriter) WriteDelete(table, column string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	file, err := os.OpenFile(f.Path(table), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open export file for %s: %w", table, err)
	}
	defer file.Close()

	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = FormatValue(id)
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s);\n", table, column, strings.Join(values, ", "))
	if _, err := file.WriteString(stmt); err != nil {
		return 0, fmt.Errorf("failed to append delete to export file for %s: %w", table, err)
	}
	return len(ids), nil
}

// ReadStatements loads an export file and splits it into statements.
// Splitting is on every literal semicolon, so a semicolon inside a quoted
// value also ends a statement.
func (f *FileWriter) ReadStatements(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sql file %s: %w", path, err)
	}

	var statements []string
	for _, part := range strings.Split(string(data), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements, nil
}

// FormatValue renders a value as a SQL literal: NULL for nil, single quotes
// doubled in strings, timestamps in ISO-8601.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case time.Time:
		return "'" + val.Format("2006-01-02T15:04:05.999999") + "'"
	case *time.Time:
		if val == nil {
			return "NULL"
		}
		return "'" + val.Format("2006-01-02T15:04:05.999999") + "'"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", val)
	}
}
