package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchemaFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validSchemas = `
tables:
  companies:
    include_base: true
    export_order: 1
    additional_columns:
      - name: name
        sql_type: VARCHAR(255)
        nullable: false
  users:
    include_base: true
    export_order: 2
    additional_columns:
      - name: email
        sql_type: VARCHAR(255)
        nullable: false
      - name: company_id
        sql_type: VARCHAR(24)
        nullable: true
        foreign_key: companies(id)
    additional_mappings:
      company: company_id
  user_events:
    source_collection: users
    export_order: 3
    columns:
      - name: user_id
        sql_type: VARCHAR(24)
        nullable: false
        foreign_key: users(id)
      - name: event_id
        sql_type: VARCHAR(24)
        nullable: false
      - name: created_at
        sql_type: TIMESTAMP
        nullable: true
      - name: updated_at
        sql_type: TIMESTAMP
        nullable: true
    unique_constraints:
      - [user_id, event_id]
    strategy:
      name: smart_diff
      parent_column: user_id
      child_column: event_id
      arrays:
        - field: registered_events
          ref_key: event
`

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(writeSchemaFile(t, validSchemas))
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())

	users, ok := reg.Get("users")
	require.True(t, ok)
	assert.Equal(t, "users", users.SourceCollection)
	assert.Equal(t, StrategyDirect, users.Strategy.Name)
	assert.Equal(t, "created_at", users.FieldMappings["creation_date"])
	assert.Equal(t, "company_id", users.FieldMappings["company"])

	events, ok := reg.Get("user_events")
	require.True(t, ok)
	assert.Equal(t, "users", events.SourceCollection)
	assert.Equal(t, StrategySmartDiff, events.Strategy.Name)
}

func TestLoadRegistry_TablesSortedByExportOrder(t *testing.T) {
	reg, err := LoadRegistry(writeSchemaFile(t, validSchemas))
	require.NoError(t, err)

	tables := reg.Tables()
	require.Len(t, tables, 3)
	assert.Equal(t, "companies", tables[0].Name)
	assert.Equal(t, "users", tables[1].Name)
	assert.Equal(t, "user_events", tables[2].Name)
}

func TestLoadRegistry_ForeignKeyOrderInvariant(t *testing.T) {
	_, err := LoadRegistry(writeSchemaFile(t, `
tables:
  companies:
    include_base: true
    export_order: 2
    additional_columns:
      - name: name
        sql_type: VARCHAR(255)
  users:
    include_base: true
    export_order: 2
    additional_columns:
      - name: company_id
        sql_type: VARCHAR(24)
        nullable: true
        foreign_key: companies(id)
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lower export order")
}

func TestLoadRegistry_UnknownStrategy(t *testing.T) {
	_, err := LoadRegistry(writeSchemaFile(t, `
tables:
  users:
    include_base: true
    export_order: 1
    strategy:
      name: telepathy
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown import strategy")
}

func TestLoadRegistry_NeedsUpsertTarget(t *testing.T) {
	_, err := LoadRegistry(writeSchemaFile(t, `
tables:
  raw:
    export_order: 1
    columns:
      - name: value
        sql_type: TEXT
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary key or a unique constraint")
}

func TestLoadRegistry_UnregisteredForeignKey(t *testing.T) {
	_, err := LoadRegistry(writeSchemaFile(t, `
tables:
  users:
    include_base: true
    export_order: 1
    additional_columns:
      - name: company_id
        sql_type: VARCHAR(24)
        nullable: true
        foreign_key: companies(id)
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered table")
}
