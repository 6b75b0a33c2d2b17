package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// CurrentColumn is one column as reported by the target's system catalog.
type CurrentColumn struct {
	DataType   string
	IsNullable bool
	Default    string
}

// CurrentForeignKey is one foreign key as reported by the system catalog.
type CurrentForeignKey struct {
	ColumnName    string
	ForeignTable  string
	ForeignColumn string
}

// Plan is the ordered set of statements the reconciler proposes. Creates run
// first, then column additions, then deferred foreign key constraints.
// Warnings record columns that were degraded to nullable; they do not block
// the run.
type Plan struct {
	Creates     []string
	AddColumns  []string
	Constraints []string
	Warnings    []string
}

// Empty reports whether the plan proposes no changes.
func (p *Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.AddColumns) == 0 && len(p.Constraints) == 0
}

// Statements returns every statement in application order.
func (p *Plan) Statements() []string {
	out := make([]string, 0, len(p.Creates)+len(p.AddColumns)+len(p.Constraints))
	out = append(out, p.Creates...)
	out = append(out, p.AddColumns...)
	out = append(out, p.Constraints...)
	return out
}

// Reconciler compares the registry against the live target and applies the
// missing pieces. It never drops, renames, or retypes.
type Reconciler struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewReconciler builds a reconciler over the target handle.
func NewReconciler(db *sql.DB, logger *slog.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// Plan introspects every registered table and computes the change plan.
func (r *Reconciler) Plan(ctx context.Context, reg *Registry) (*Plan, error) {
	plan := &Plan{}

	for _, ts := range reg.Tables() {
		exists, err := r.tableExists(ctx, ts.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to check table %s: %w", ts.Name, err)
		}
		if !exists {
			plan.Creates = append(plan.Creates, ts.CreateSQL())
			continue
		}

		current, err := r.currentColumns(ctx, ts.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to introspect columns of %s: %w", ts.Name, err)
		}
		fks, err := r.currentForeignKeys(ctx, ts.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to introspect foreign keys of %s: %w", ts.Name, err)
		}
		rows, err := r.rowCount(ctx, ts.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to count rows of %s: %w", ts.Name, err)
		}

		diffTable(plan, ts, current, fks, rows)
	}

	return plan, nil
}

// diffTable appends the statements needed to bring one existing table up to
// its registered shape.
func diffTable(plan *Plan, ts *TableSchema, current map[string]CurrentColumn, fks []CurrentForeignKey, rowCount int64) {
	fkByColumn := make(map[string]CurrentForeignKey, len(fks))
	for _, fk := range fks {
		fkByColumn[fk.ColumnName] = fk
	}

	for _, col := range ts.Columns {
		if _, ok := current[col.Name]; ok {
			continue
		}

		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", ts.Name, col.Name, col.SQLType)
		switch {
		case col.Nullable || col.PrimaryKey:
			// Primary keys only appear on CREATE; an added PK column is
			// not supported and stays nullable here.
		case rowCount == 0:
			stmt += " NOT NULL"
		case col.Default != "":
			stmt += fmt.Sprintf(" DEFAULT %s NOT NULL", col.Default)
		default:
			plan.Warnings = append(plan.Warnings, fmt.Sprintf(
				"table %s: column %s declared NOT NULL but table has %d rows and no default; adding as nullable",
				ts.Name, col.Name, rowCount))
		}
		plan.AddColumns = append(plan.AddColumns, stmt)

		if col.ForeignKey != "" {
			plan.Constraints = append(plan.Constraints, fmt.Sprintf(
				"ALTER TABLE %s ADD CONSTRAINT %s_%s_fkey FOREIGN KEY (%s) REFERENCES %s",
				ts.Name, ts.Name, col.Name, col.Name, col.ForeignKey))
		}
	}

	// Foreign keys missing on columns that already exist.
	for _, col := range ts.Columns {
		if col.ForeignKey == "" {
			continue
		}
		if _, columnExists := current[col.Name]; !columnExists {
			continue
		}
		if _, ok := fkByColumn[col.Name]; !ok {
			plan.Constraints = append(plan.Constraints, fmt.Sprintf(
				"ALTER TABLE %s ADD CONSTRAINT %s_%s_fkey FOREIGN KEY (%s) REFERENCES %s",
				ts.Name, ts.Name, col.Name, col.Name, col.ForeignKey))
		}
	}
}

// Apply executes the plan in order. Any failure is blocking.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) error {
	for _, stmt := range plan.Statements() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
		r.logger.Info("applied schema change", slog.String("statement", stmt))
	}
	return nil
}

func (r *Reconciler) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table).Scan(&exists)
	return exists, err
}

func (r *Reconciler) currentColumns(ctx context.Context, table string) (map[string]CurrentColumn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]CurrentColumn)
	for rows.Next() {
		var name, dataType, nullable, def string
		if err := rows.Scan(&name, &dataType, &nullable, &def); err != nil {
			return nil, err
		}
		columns[name] = CurrentColumn{
			DataType:   dataType,
			IsNullable: nullable == "YES",
			Default:    def,
		}
	}
	return columns, rows.Err()
}

func (r *Reconciler) currentForeignKeys(ctx context.Context, table string) ([]CurrentForeignKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_name = $1`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []CurrentForeignKey
	for rows.Next() {
		var fk CurrentForeignKey
		if err := rows.Scan(&fk.ColumnName, &fk.ForeignTable, &fk.ForeignColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (r *Reconciler) rowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	return count, err
}

// NormalizeSQLType maps declared SQL type aliases to the catalog's reported
// names. The reconciler's column diff compares names only and does not use it.
func NormalizeSQLType(sqlType string) string {
	base := strings.ToUpper(strings.TrimSpace(sqlType))
	if i := strings.Index(base, "("); i > 0 {
		base = base[:i]
	}
	switch strings.TrimSpace(base) {
	case "VARCHAR":
		return "character varying"
	case "INT", "INTEGER", "SERIAL":
		return "integer"
	case "SMALLINT":
		return "smallint"
	case "BIGINT", "BIGSERIAL":
		return "bigint"
	case "BOOL", "BOOLEAN":
		return "boolean"
	case "TIMESTAMP":
		return "timestamp without time zone"
	case "DATE":
		return "date"
	case "TEXT":
		return "text"
	default:
		return strings.ToLower(base)
	}
}
