// Package schema defines target table schemas, their declarative
// configuration, and reconciliation against the live database.
package schema

import (
	"fmt"
	"strings"
)

// ColumnDefinition describes one target column.
type ColumnDefinition struct {
	Name       string `yaml:"name"`
	SQLType    string `yaml:"sql_type"`
	Nullable   bool   `yaml:"nullable"`
	PrimaryKey bool   `yaml:"primary_key"`
	// ForeignKey references another table as "table(column)".
	ForeignKey string `yaml:"foreign_key"`
	// Default is appended to ADD COLUMN statements so NOT NULL additions
	// stay safe on populated tables.
	Default string `yaml:"default"`
}

// ForeignKeyTable returns the referenced table name, if any.
func (c ColumnDefinition) ForeignKeyTable() string {
	if c.ForeignKey == "" {
		return ""
	}
	if i := strings.Index(c.ForeignKey, "("); i > 0 {
		return c.ForeignKey[:i]
	}
	return c.ForeignKey
}

// ArrayFieldSpec names one source array feeding a relationship table.
type ArrayFieldSpec struct {
	Field string `yaml:"field"`
	// RefKey is the key carrying the child reference when array elements
	// are embedded sub-documents instead of bare identifiers.
	RefKey string `yaml:"ref_key"`
	// DateKey is the key carrying a per-element timestamp, if any.
	DateKey string `yaml:"date_key"`
	// Discriminator is the value written to the type column for rows
	// extracted from this array.
	Discriminator string `yaml:"discriminator"`
}

// StrategySpec selects and parameterizes the import strategy for a table.
type StrategySpec struct {
	Name string `yaml:"name"`

	ParentColumn    string           `yaml:"parent_column"`
	ChildColumn     string           `yaml:"child_column"`
	TypeColumn      string           `yaml:"type_column"`
	Arrays          []ArrayFieldSpec `yaml:"arrays"`
	ChildCollection string           `yaml:"child_collection"`
	Columns         []string         `yaml:"columns"`
	// Threshold is the smart-diff degradation ratio; zero means default.
	Threshold float64 `yaml:"threshold"`
}

// Strategy names.
const (
	StrategyDirect          = "direct"
	StrategyArrayExtraction = "array_extraction"
	StrategyDeleteAndInsert = "delete_and_insert"
	StrategySmartDiff       = "smart_diff"
)

// TableSchema is the authoritative definition of one target table.
type TableSchema struct {
	Name             string
	SourceCollection string
	Columns          []ColumnDefinition
	// FieldMappings maps source-document field paths to target columns.
	FieldMappings     map[string]string
	UniqueConstraints [][]string
	ExportOrder       int
	Strategy          StrategySpec

	ForceReimport        bool
	TruncateBeforeImport bool
}

// NewTableSchema builds a schema with auto-generated field mappings: every
// column maps identity except id (covered by the _id convention) and columns
// claimed by an explicit mapping.
func NewTableSchema(name, sourceCollection string, columns []ColumnDefinition, explicit map[string]string) *TableSchema {
	if sourceCollection == "" {
		sourceCollection = name
	}

	excluded := map[string]bool{"id": true}
	for _, col := range explicit {
		excluded[col] = true
	}

	mappings := make(map[string]string, len(columns)+1)
	for _, col := range columns {
		if col.Name == "id" {
			mappings["_id"] = "id"
			break
		}
	}
	for _, col := range columns {
		if !excluded[col.Name] {
			mappings[col.Name] = col.Name
		}
	}
	for field, col := range explicit {
		mappings[field] = col
	}

	return &TableSchema{
		Name:             name,
		SourceCollection: sourceCollection,
		Columns:          columns,
		FieldMappings:    mappings,
	}
}

// PrimaryKey returns the primary key column, if the table declares one.
func (s *TableSchema) PrimaryKey() (ColumnDefinition, bool) {
	for _, col := range s.Columns {
		if col.PrimaryKey {
			return col, true
		}
	}
	return ColumnDefinition{}, false
}

// Column looks up a column definition by name.
func (s *TableSchema) Column(name string) (ColumnDefinition, bool) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnDefinition{}, false
}

// ColumnNames returns the declared column names in order.
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// CreateSQL renders the CREATE TABLE IF NOT EXISTS statement.
func (s *TableSchema) CreateSQL() string {
	var defs []string
	var fks []string

	for _, col := range s.Columns {
		def := fmt.Sprintf("%s %s", col.Name, col.SQLType)
		if col.PrimaryKey {
			def += " PRIMARY KEY"
		} else if !col.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)

		if col.ForeignKey != "" {
			fks = append(fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s", col.Name, col.ForeignKey))
		}
	}

	for _, constraint := range s.UniqueConstraints {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", strings.Join(constraint, ", ")))
	}
	defs = append(defs, fks...)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", s.Name, strings.Join(defs, ",\n\t"))
}

// OnConflictClause returns the upsert clause targeting the primary key or,
// failing that, the first unique constraint. The UPDATE SET covers every
// updatable column present in the insert; when the insert carries none it
// degrades to DO NOTHING. Tables with neither a primary key nor a unique
// constraint get no clause.
func (s *TableSchema) OnConflictClause(insertColumns []string) string {
	present := make(map[string]bool, len(insertColumns))
	for _, c := range insertColumns {
		present[c] = true
	}
	if len(insertColumns) == 0 {
		for _, col := range s.Columns {
			present[col.Name] = true
		}
	}

	if pk, ok := s.PrimaryKey(); ok {
		var updates []string
		for _, col := range s.Columns {
			if !col.PrimaryKey && present[col.Name] {
				updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col.Name, col.Name))
			}
		}
		if len(updates) == 0 {
			return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", pk.Name)
		}
		return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", pk.Name, strings.Join(updates, ", "))
	}

	if len(s.UniqueConstraints) > 0 {
		constraint := s.UniqueConstraints[0]
		inConstraint := make(map[string]bool, len(constraint))
		for _, c := range constraint {
			inConstraint[c] = true
		}
		var updates []string
		for _, col := range s.Columns {
			if !inConstraint[col.Name] && present[col.Name] {
				updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col.Name, col.Name))
			}
		}
		target := strings.Join(constraint, ", ")
		if len(updates) == 0 {
			return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", target)
		}
		return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", target, strings.Join(updates, ", "))
	}

	return ""
}
