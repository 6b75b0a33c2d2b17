package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userSchema() *TableSchema {
	ts := NewTableSchema("users", "", []ColumnDefinition{
		{Name: "id", SQLType: "VARCHAR(24)", PrimaryKey: true},
		{Name: "firstname", SQLType: "VARCHAR(255)"},
		{Name: "email", SQLType: "VARCHAR(255)"},
		{Name: "company_id", SQLType: "VARCHAR(24)", Nullable: true, ForeignKey: "companies(id)"},
		{Name: "created_at", SQLType: "TIMESTAMP", Nullable: true},
		{Name: "updated_at", SQLType: "TIMESTAMP", Nullable: true},
	}, map[string]string{
		"creation_date": "created_at",
		"update_date":   "updated_at",
		"company":       "company_id",
	})
	return ts
}

func TestNewTableSchema_Mappings(t *testing.T) {
	ts := userSchema()

	assert.Equal(t, "users", ts.SourceCollection)
	assert.Equal(t, "id", ts.FieldMappings["_id"])
	assert.Equal(t, "firstname", ts.FieldMappings["firstname"])
	assert.Equal(t, "created_at", ts.FieldMappings["creation_date"])
	assert.Equal(t, "company_id", ts.FieldMappings["company"])

	// Columns claimed by explicit mappings must not also map identity.
	_, hasIdentity := ts.FieldMappings["created_at"]
	assert.False(t, hasIdentity)
	_, hasID := ts.FieldMappings["id"]
	assert.False(t, hasID)
}

func TestCreateSQL(t *testing.T) {
	ts := userSchema()
	sql := ts.CreateSQL()

	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS users")
	assert.Contains(t, sql, "id VARCHAR(24) PRIMARY KEY")
	assert.Contains(t, sql, "firstname VARCHAR(255) NOT NULL")
	assert.Contains(t, sql, "company_id VARCHAR(24)")
	assert.Contains(t, sql, "FOREIGN KEY (company_id) REFERENCES companies(id)")
	assert.NotContains(t, sql, "company_id VARCHAR(24) NOT NULL")
}

func TestCreateSQL_UniqueConstraints(t *testing.T) {
	ts := NewTableSchema("user_events", "users", []ColumnDefinition{
		{Name: "user_id", SQLType: "VARCHAR(24)"},
		{Name: "event_id", SQLType: "VARCHAR(24)"},
	}, nil)
	ts.UniqueConstraints = [][]string{{"user_id", "event_id"}}

	assert.Contains(t, ts.CreateSQL(), "UNIQUE (user_id, event_id)")
}

func TestOnConflictClause_PrimaryKey(t *testing.T) {
	ts := userSchema()
	clause := ts.OnConflictClause([]string{"id", "firstname", "email"})

	require.True(t, strings.HasPrefix(clause, " ON CONFLICT (id) DO UPDATE SET "))
	assert.Contains(t, clause, "firstname = EXCLUDED.firstname")
	assert.Contains(t, clause, "email = EXCLUDED.email")
	assert.NotContains(t, clause, "id = EXCLUDED.id")
	assert.NotContains(t, clause, "company_id")
}

func TestOnConflictClause_DegradesToDoNothing(t *testing.T) {
	ts := userSchema()
	clause := ts.OnConflictClause([]string{"id"})
	assert.Equal(t, " ON CONFLICT (id) DO NOTHING", clause)
}

func TestOnConflictClause_UniqueConstraint(t *testing.T) {
	ts := NewTableSchema("user_events", "users", []ColumnDefinition{
		{Name: "user_id", SQLType: "VARCHAR(24)"},
		{Name: "event_id", SQLType: "VARCHAR(24)"},
		{Name: "created_at", SQLType: "TIMESTAMP", Nullable: true},
	}, nil)
	ts.UniqueConstraints = [][]string{{"user_id", "event_id"}}

	clause := ts.OnConflictClause([]string{"user_id", "event_id", "created_at"})
	assert.Equal(t, " ON CONFLICT (user_id, event_id) DO UPDATE SET created_at = EXCLUDED.created_at", clause)

	clause = ts.OnConflictClause([]string{"user_id", "event_id"})
	assert.Equal(t, " ON CONFLICT (user_id, event_id) DO NOTHING", clause)
}

func TestOnConflictClause_NoTarget(t *testing.T) {
	ts := NewTableSchema("raw", "", []ColumnDefinition{
		{Name: "value", SQLType: "TEXT"},
	}, nil)
	assert.Empty(t, ts.OnConflictClause([]string{"value"}))
}

func TestForeignKeyTable(t *testing.T) {
	col := ColumnDefinition{ForeignKey: "companies(id)"}
	assert.Equal(t, "companies", col.ForeignKeyTable())

	assert.Empty(t, ColumnDefinition{}.ForeignKeyTable())
}
