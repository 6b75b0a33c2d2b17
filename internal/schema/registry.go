package schema

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Reserved watermark columns. Every table carries both so incremental scans
// can bound themselves by max(created_at, updated_at).
const (
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// tableConfig is the YAML shape of one table entry.
type tableConfig struct {
	Name                 string             `yaml:"name"`
	SourceCollection     string             `yaml:"source_collection"`
	IncludeBase          bool               `yaml:"include_base"`
	Columns              []ColumnDefinition `yaml:"columns"`
	AdditionalColumns    []ColumnDefinition `yaml:"additional_columns"`
	ExplicitMappings     map[string]string  `yaml:"explicit_mappings"`
	AdditionalMappings   map[string]string  `yaml:"additional_mappings"`
	UniqueConstraints    [][]string         `yaml:"unique_constraints"`
	ExportOrder          int                `yaml:"export_order"`
	Strategy             StrategySpec       `yaml:"strategy"`
	ForceReimport        bool               `yaml:"force_reimport"`
	TruncateBeforeImport bool               `yaml:"truncate_before_import"`
}

type registryFile struct {
	Tables map[string]tableConfig `yaml:"tables"`
}

// Registry holds every registered table schema for the run.
type Registry struct {
	tables map[string]*TableSchema
}

// baseColumns are shared by every entity table that opts into the base
// shape: a string id plus the watermark pair.
func baseColumns() []ColumnDefinition {
	return []ColumnDefinition{
		{Name: "id", SQLType: "VARCHAR(24)", PrimaryKey: true},
		{Name: ColumnCreatedAt, SQLType: "TIMESTAMP", Nullable: true},
		{Name: ColumnUpdatedAt, SQLType: "TIMESTAMP", Nullable: true},
	}
}

// baseMappings map the conventional source date fields onto the watermark
// columns.
func baseMappings() map[string]string {
	return map[string]string{
		"creation_date": ColumnCreatedAt,
		"update_date":   ColumnUpdatedAt,
	}
}

// LoadRegistry reads the declarative schema configuration and validates it.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	if len(file.Tables) == 0 {
		return nil, fmt.Errorf("schema file %s declares no tables", path)
	}

	reg := &Registry{tables: make(map[string]*TableSchema, len(file.Tables))}

	for key, tc := range file.Tables {
		name := tc.Name
		if name == "" {
			name = key
		}

		columns := tc.Columns
		explicit := tc.ExplicitMappings
		if tc.IncludeBase {
			columns = append(baseColumns(), tc.AdditionalColumns...)
			explicit = baseMappings()
			for field, col := range tc.AdditionalMappings {
				explicit[field] = col
			}
		}

		ts := NewTableSchema(name, tc.SourceCollection, columns, explicit)
		ts.UniqueConstraints = tc.UniqueConstraints
		ts.ExportOrder = tc.ExportOrder
		ts.Strategy = tc.Strategy
		ts.ForceReimport = tc.ForceReimport
		ts.TruncateBeforeImport = tc.TruncateBeforeImport
		if ts.Strategy.Name == "" {
			ts.Strategy.Name = StrategyDirect
		}

		reg.tables[name] = ts
	}

	if err := reg.validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// validate enforces the registry invariants before any data phase.
func (r *Registry) validate() error {
	validStrategies := map[string]bool{
		StrategyDirect:          true,
		StrategyArrayExtraction: true,
		StrategyDeleteAndInsert: true,
		StrategySmartDiff:       true,
	}

	for name, ts := range r.tables {
		pkCount := 0
		colSet := make(map[string]bool, len(ts.Columns))
		for _, col := range ts.Columns {
			if col.PrimaryKey {
				pkCount++
			}
			colSet[col.Name] = true
		}

		if pkCount > 1 {
			return fmt.Errorf("table %s: more than one primary key column", name)
		}
		if pkCount == 0 && len(ts.UniqueConstraints) == 0 {
			return fmt.Errorf("table %s: needs a primary key or a unique constraint to target upserts", name)
		}

		for _, mapped := range ts.FieldMappings {
			if !colSet[mapped] {
				return fmt.Errorf("table %s: mapping targets undeclared column %s", name, mapped)
			}
		}

		for _, constraint := range ts.UniqueConstraints {
			for _, col := range constraint {
				if !colSet[col] {
					return fmt.Errorf("table %s: unique constraint names undeclared column %s", name, col)
				}
			}
		}

		for _, col := range ts.Columns {
			fkTable := col.ForeignKeyTable()
			if fkTable == "" {
				continue
			}
			ref, ok := r.tables[fkTable]
			if !ok {
				return fmt.Errorf("table %s: foreign key references unregistered table %s", name, fkTable)
			}
			if ref.ExportOrder >= ts.ExportOrder {
				return fmt.Errorf("table %s (order %d): foreign key target %s must have a lower export order (has %d)",
					name, ts.ExportOrder, fkTable, ref.ExportOrder)
			}
		}

		if !validStrategies[ts.Strategy.Name] {
			return fmt.Errorf("table %s: unknown import strategy %q", name, ts.Strategy.Name)
		}
	}

	return nil
}

// Get returns the schema for a table.
func (r *Registry) Get(name string) (*TableSchema, bool) {
	ts, ok := r.tables[name]
	return ts, ok
}

// Tables returns every schema sorted by export order, name-stable within
// equal ranks. Parents therefore always precede their dependents.
func (r *Registry) Tables() []*TableSchema {
	out := make([]*TableSchema, 0, len(r.tables))
	for _, ts := range r.tables {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExportOrder != out[j].ExportOrder {
			return out[i].ExportOrder < out[j].ExportOrder
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	return len(r.tables)
}
