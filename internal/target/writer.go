package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/logging"
)

// Row-level failure reasons as recorded against the summary.
const (
	ReasonForeignKey = "foreign key constraint"
	ReasonNull       = "NULL constraint"
)

// maxStatementParams bounds a single multi-row statement below the wire
// protocol's parameter limit.
const maxStatementParams = 60000

// Recorder receives per-row accounting. The import summary implements it.
type Recorder interface {
	RecordSuccess(table string, count int)
	RecordSkipped(table string, count int)
	RecordError(table string, reason string, sample map[string]any)
}

// Writer applies batches to the target over one dedicated connection, so
// savepoints are well-defined. One writer exists per run.
type Writer struct {
	conn     *sql.Conn
	summary  Recorder
	byBatch  bool
	direct   bool
	files    *FileWriter
	logger   *slog.Logger
	redactor *logging.Redactor
}

// WriterOptions configures writer behavior for the run.
type WriterOptions struct {
	Summary  Recorder
	ByBatch  bool
	Direct   bool
	// ExportDir receives per-table SQL files in deferred mode.
	ExportDir string
	Logger    *slog.Logger
	Redactor  *logging.Redactor
}

// Writer acquires a dedicated connection and builds the run's writer.
func (s *Store) Writer(ctx context.Context, opts WriterOptions) (*Writer, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire write connection: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		conn:     conn,
		summary:  opts.Summary,
		byBatch:  opts.ByBatch,
		direct:   opts.Direct,
		files:    NewFileWriter(opts.ExportDir),
		logger:   logger,
		redactor: opts.Redactor,
	}, nil
}

// Close releases the dedicated connection.
func (w *Writer) Close() error {
	return w.conn.Close()
}

// Direct reports whether the writer executes against the live connection.
func (w *Writer) Direct() bool {
	return w.direct
}

// Files exposes the deferred-mode file writer.
func (w *Writer) Files() *FileWriter {
	return w.files
}

// SetSummary redirects accounting, one summary per table.
func (w *Writer) SetSummary(summary Recorder) {
	w.summary = summary
}

// ExecuteBatch applies one batch of rows and returns the inserted count.
// In deferred mode the statements are appended to the table's SQL file
// instead. Rows that fail during per-row application are recorded with
// their reason and skipped; a non-integrity error from the whole-batch
// statement, or a failing transaction or savepoint command, is returned.
func (w *Writer) ExecuteBatch(ctx context.Context, rows [][]any, columns []string, table string, useOnConflict bool, onConflictClause string) (int, error) {
	filtered := rows[:0:0]
	for _, r := range rows {
		if len(r) > 0 {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 || len(columns) == 0 {
		return 0, nil
	}

	clause := onConflictClause
	if clause == "" && useOnConflict {
		clause = " ON CONFLICT (id) DO NOTHING"
	}

	if !w.direct {
		n, err := w.files.WriteBatch(filtered, columns, table, clause)
		if err != nil {
			return 0, err
		}
		w.summary.RecordSuccess(table, n)
		return n, nil
	}

	maxRows := maxStatementParams / len(columns)
	if maxRows < 1 {
		maxRows = 1
	}

	total := 0
	for start := 0; start < len(filtered); start += maxRows {
		end := start + maxRows
		if end > len(filtered) {
			end = len(filtered)
		}
		n, err := w.executeChunk(ctx, filtered[start:end], columns, table, useOnConflict, clause)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// executeChunk runs the savepoint batch algorithm on one chunk: try the
// whole chunk under a savepoint, fall back to per-row retry on integrity
// errors or on a rowcount mismatch outside upsert mode.
func (w *Writer) executeChunk(ctx context.Context, rows [][]any, columns []string, table string, useOnConflict bool, clause string) (int, error) {
	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin batch transaction: %w", err)
	}

	singleSQL := insertSQL(table, columns, 1, clause)

	inserted, err := func() (int, error) {
		if !w.byBatch {
			return w.rowByRow(ctx, tx, singleSQL, rows, table, "individual_insert")
		}

		if _, err := tx.ExecContext(ctx, "SAVEPOINT batch_insert"); err != nil {
			return 0, err
		}

		res, execErr := tx.ExecContext(ctx, insertSQL(table, columns, len(rows), clause), flatten(rows)...)
		if execErr != nil {
			if !isIntegrityError(execErr) {
				return 0, execErr
			}
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT batch_insert"); err != nil {
				return 0, err
			}
			return w.rowByRow(ctx, tx, singleSQL, rows, table, "individual_retry")
		}

		affected64, _ := res.RowsAffected()
		affected := int(affected64)

		// A shortfall without an upsert clause means the engine resolved
		// something silently; retry row by row for precise accounting.
		if !useOnConflict && affected != len(rows) {
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT batch_insert"); err != nil {
				return 0, err
			}
			return w.rowByRow(ctx, tx, singleSQL, rows, table, "individual_retry")
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT batch_insert"); err != nil {
			return 0, err
		}

		w.summary.RecordSuccess(table, affected)
		if skipped := len(rows) - affected; skipped > 0 {
			w.summary.RecordSkipped(table, skipped)
		}
		return affected, nil
	}()

	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("batch write to %s failed: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch to %s: %w", table, err)
	}
	return inserted, nil
}

// rowByRow applies rows one at a time under nested savepoints, classifying
// integrity failures instead of aborting the table.
func (w *Writer) rowByRow(ctx context.Context, tx *sql.Tx, singleSQL string, rows [][]any, table, savepoint string) (int, error) {
	successful := 0
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return successful, err
		}
		if _, err := tx.ExecContext(ctx, singleSQL, row...); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return successful, rbErr
			}
			if isIntegrityError(err) {
				w.recordIntegrityError(table, err, row)
				continue
			}
			w.summary.RecordError(table, truncateReason("unexpected error: ", err), sampleRow(row))
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return successful, err
		}
		w.summary.RecordSuccess(table, 1)
		successful++
	}
	return successful, nil
}

// DeleteByParentIDs removes every row whose parent column matches one of
// the given identifiers.
func (w *Writer) DeleteByParentIDs(ctx context.Context, table, column string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	if !w.direct {
		return w.files.WriteDelete(table, column, ids)
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", table, column, strings.Join(placeholders, ", "))

	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete on %s: %w", table, err)
	}
	deleted, _ := res.RowsAffected()
	return int(deleted), nil
}

// DeleteTuples removes exact (parent, child[, discriminator]) tuples, for
// the diff-based strategy.
func (w *Writer) DeleteTuples(ctx context.Context, table string, columns []string, tuples [][]string) (int, error) {
	if len(tuples) == 0 {
		return 0, nil
	}

	var groups []string
	var args []any
	i := 1
	for _, tuple := range tuples {
		ph := make([]string, len(tuple))
		for j, v := range tuple {
			ph[j] = fmt.Sprintf("$%d", i)
			args = append(args, v)
			i++
		}
		groups = append(groups, "("+strings.Join(ph, ", ")+")")
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE (%s) IN (%s)",
		table, strings.Join(columns, ", "), strings.Join(groups, ", "))

	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to delete tuples from %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit tuple delete on %s: %w", table, err)
	}
	deleted, _ := res.RowsAffected()
	return int(deleted), nil
}

// ExecuteSQLFile applies a deferred-mode export file, one statement per
// savepoint, and returns the number applied.
func (w *Writer) ExecuteSQLFile(ctx context.Context, path string) (int, error) {
	statements, err := w.files.ReadStatements(path)
	if err != nil {
		return 0, err
	}
	if len(statements) == 0 {
		return 0, nil
	}

	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin file transaction: %w", err)
	}

	executed := 0
	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT sql_statement"); err != nil {
			_ = tx.Rollback()
			return executed, err
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT sql_statement"); rbErr != nil {
				_ = tx.Rollback()
				return executed, rbErr
			}
			w.summary.RecordError(tableFromStatement(stmt), truncateReason("sql file error: ", err),
				map[string]any{"statement_index": i})
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT sql_statement"); err != nil {
			_ = tx.Rollback()
			return executed, err
		}
		executed++
	}

	if err := tx.Commit(); err != nil {
		return executed, fmt.Errorf("failed to commit sql file %s: %w", path, err)
	}
	return executed, nil
}

// Progress emits one redacted progress line.
func (w *Writer) Progress(msg string) {
	w.logger.Info(w.redactor.Redact(msg))
}

// insertSQL renders a parameterized multi-row INSERT.
func insertSQL(table string, columns []string, rowCount int, clause string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
	i := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i)
			i++
		}
		b.WriteString(")")
	}
	b.WriteString(clause)
	return b.String()
}

func flatten(rows [][]any) []any {
	if len(rows) == 0 {
		return nil
	}
	out := make([]any, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func isIntegrityError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Class() == "23"
}

func (w *Writer) recordIntegrityError(table string, err error, row []any) {
	var pqErr *pq.Error
	reason := truncateReason("other integrity error: ", err)
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503":
			reason = ReasonForeignKey
		case "23502":
			reason = ReasonNull
		}
	}
	w.summary.RecordError(table, reason, sampleRow(row))
}

func truncateReason(prefix string, err error) string {
	msg := err.Error()
	if len(msg) > 100 {
		msg = msg[:100]
	}
	return prefix + msg
}

func sampleRow(row []any) map[string]any {
	sample := map[string]any{"values": row}
	if len(row) > 0 {
		sample["id"] = row[0]
	}
	return sample
}

func tableFromStatement(stmt string) string {
	upper := strings.ToUpper(stmt)
	if i := strings.Index(upper, "INSERT INTO"); i >= 0 {
		rest := strings.Fields(stmt[i+len("INSERT INTO"):])
		if len(rest) > 0 {
			return strings.TrimRight(rest[0], "(")
		}
	}
	return "unknown"
}
