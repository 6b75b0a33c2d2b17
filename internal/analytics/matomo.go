// Package analytics mirrors timestamped Matomo tables from MariaDB into
// the PostgreSQL target. It is a sibling of the document sync: a plain
// relational batch copy with per-table incremental timestamps.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/config"
)

const batchSize = 1000

// TableSchema describes one mirrored analytics table.
type TableSchema struct {
	Name        string
	Description string `yaml:"description"`
	SourceTable string `yaml:"source_table"`
	// TimestampColumn drives the incremental filter; empty means the table
	// has no usable timestamp and is fully re-upserted each run.
	TimestampColumn string         `yaml:"timestamp_column"`
	Columns         []ColumnConfig `yaml:"columns"`
}

// ColumnConfig is one mirrored column.
type ColumnConfig struct {
	Name       string `yaml:"name"`
	SQLType    string `yaml:"sql_type"`
	Nullable   bool   `yaml:"nullable"`
	PrimaryKey bool   `yaml:"primary_key"`
}

// ColumnNames returns the column names in declaration order.
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// PrimaryKey returns the primary key column name, if any.
func (s *TableSchema) PrimaryKey() string {
	for _, col := range s.Columns {
		if col.PrimaryKey {
			return col.Name
		}
	}
	return ""
}

// CreateSQL renders the target CREATE TABLE statement.
func (s *TableSchema) CreateSQL() string {
	defs := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		def := fmt.Sprintf("%s %s", col.Name, col.SQLType)
		if !col.Nullable && !col.PrimaryKey {
			def += " NOT NULL"
		}
		if col.PrimaryKey {
			def += " PRIMARY KEY"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", s.Name, strings.Join(defs, ",\n\t"))
}

// UpsertSQL renders the target insert with its conflict clause.
func (s *TableSchema) UpsertSQL() string {
	columns := s.ColumnNames()
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.Name, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	pk := s.PrimaryKey()
	if pk == "" {
		return stmt
	}
	var updates []string
	for _, col := range columns {
		if col != pk {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", stmt, pk, strings.Join(updates, ", "))
}

// LoadSchemas reads the analytics schema configuration.
func LoadSchemas(path string) (map[string]*TableSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read analytics schema file: %w", err)
	}

	var raw map[string]*TableSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse analytics schema file: %w", err)
	}

	for name, schema := range raw {
		schema.Name = name
		if schema.SourceTable == "" {
			schema.SourceTable = name
		}
	}
	return raw, nil
}

// Mirror copies the configured tables from MariaDB to PostgreSQL.
type Mirror struct {
	maria  *sql.DB
	pg     *sql.DB
	logger *slog.Logger
}

// NewMirror opens the MariaDB source and wraps the target handle.
func NewMirror(ctx context.Context, cfg config.AnalyticsConfig, pg *sql.DB, logger *slog.Logger) (*Mirror, error) {
	maria, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics source: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := maria.PingContext(pingCtx); err != nil {
		maria.Close()
		return nil, fmt.Errorf("failed to ping analytics source: %w", err)
	}

	return &Mirror{maria: maria, pg: pg, logger: logger}, nil
}

// Close releases the MariaDB handle.
func (m *Mirror) Close() error {
	return m.maria.Close()
}

// SetupTables creates missing target tables.
func (m *Mirror) SetupTables(ctx context.Context, schemas map[string]*TableSchema) error {
	for _, schema := range schemas {
		if _, err := m.pg.ExecContext(ctx, schema.CreateSQL()); err != nil {
			return fmt.Errorf("failed to create %s: %w", schema.Name, err)
		}
	}
	return nil
}

// lastSyncTimestamp reads the incremental lower bound from the target.
func (m *Mirror) lastSyncTimestamp(ctx context.Context, schema *TableSchema) (*time.Time, error) {
	if schema.TimestampColumn == "" {
		return nil, nil
	}

	var exists bool
	err := m.pg.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, schema.Name).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	var last sql.NullTime
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", schema.TimestampColumn, schema.Name)
	if err := m.pg.QueryRowContext(ctx, query).Scan(&last); err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

// SyncTable mirrors one table and returns the synced row count.
func (m *Mirror) SyncTable(ctx context.Context, schema *TableSchema) (int, error) {
	after, err := m.lastSyncTimestamp(ctx, schema)
	if err != nil {
		return 0, fmt.Errorf("failed to read sync timestamp of %s: %w", schema.Name, err)
	}

	columns := schema.ColumnNames()
	selectSQL := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), schema.SourceTable)

	var rows *sql.Rows
	if after != nil && schema.TimestampColumn != "" {
		selectSQL += fmt.Sprintf(" WHERE %s > ?", schema.TimestampColumn)
		m.logger.Info("incremental analytics sync",
			slog.String("table", schema.Name), slog.Time("after", *after))
		rows, err = m.maria.QueryContext(ctx, selectSQL, *after)
	} else {
		m.logger.Info("full analytics sync", slog.String("table", schema.Name))
		rows, err = m.maria.QueryContext(ctx, selectSQL)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", schema.SourceTable, err)
	}
	defer rows.Close()

	upsertSQL := schema.UpsertSQL()
	synced := 0
	batch := make([][]any, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := m.applyBatch(ctx, upsertSQL, batch)
		synced += n
		batch = batch[:0]
		return err
	}

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return synced, fmt.Errorf("failed to scan %s row: %w", schema.SourceTable, err)
		}
		for i, col := range schema.Columns {
			values[i] = convertValue(values[i], col.SQLType)
		}

		batch = append(batch, values)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return synced, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return synced, err
	}
	if err := flush(); err != nil {
		return synced, err
	}

	m.logger.Info("analytics table synced",
		slog.String("table", schema.Name), slog.Int("rows", synced))
	return synced, nil
}

// applyBatch upserts one batch inside a transaction, retrying row by row
// when the batch fails.
func (m *Mirror) applyBatch(ctx context.Context, upsertSQL string, batch [][]any) (int, error) {
	tx, err := m.pg.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	batchOK := true
	for _, values := range batch {
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			batchOK = false
			break
		}
	}
	stmt.Close()

	if batchOK {
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return len(batch), nil
	}
	_ = tx.Rollback()

	// Row-by-row retry in its own transactions; bad rows are logged and
	// dropped rather than failing the table.
	applied := 0
	for _, values := range batch {
		if _, err := m.pg.ExecContext(ctx, upsertSQL, values...); err != nil {
			m.logger.Warn("analytics row rejected", slog.String("error", err.Error()))
			continue
		}
		applied++
	}
	return applied, nil
}

// SyncAll mirrors every configured table.
func (m *Mirror) SyncAll(ctx context.Context, schemas map[string]*TableSchema) error {
	if err := m.SetupTables(ctx, schemas); err != nil {
		return err
	}
	for _, schema := range schemas {
		if _, err := m.SyncTable(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// convertValue normalizes MariaDB driver values for lib/pq: byte slices
// become strings except for BYTEA columns, which pass through raw.
func convertValue(v any, sqlType string) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		if strings.EqualFold(sqlType, "BYTEA") {
			return b
		}
		return string(b)
	}
	return v
}
