package migrate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/schema"
)

func directTestSchema() *schema.TableSchema {
	return schema.NewTableSchema("users", "users", []schema.ColumnDefinition{
		{Name: "id", SQLType: "VARCHAR(24)", PrimaryKey: true},
		{Name: "firstname", SQLType: "VARCHAR(255)"},
		{Name: "company_id", SQLType: "VARCHAR(24)", Nullable: true},
		{Name: "created_at", SQLType: "TIMESTAMP", Nullable: true},
		{Name: "updated_at", SQLType: "TIMESTAMP", Nullable: true},
	}, map[string]string{
		"creation_date": "created_at",
		"update_date":   "updated_at",
		"company":       "company_id",
	})
}

func TestDirectStrategy_ColumnsFollowDeclarationOrder(t *testing.T) {
	s := NewDirectStrategy(directTestSchema())
	assert.Equal(t, []string{"id", "firstname", "company_id", "created_at", "updated_at"}, s.columns)
}

func TestDirectStrategy_ExtractRows(t *testing.T) {
	s := NewDirectStrategy(directTestSchema())

	oid := primitive.NewObjectID()
	company := primitive.NewObjectID()
	created := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

	doc := bson.M{
		"_id":           oid,
		"firstname":     "Alice",
		"company":       company,
		"creation_date": primitive.NewDateTimeFromTime(created),
	}

	rows, columns, err := s.ExtractRows(context.Background(), doc, ImportConfig{SourceCollection: "users"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, len(columns), len(rows[0]))

	assert.Equal(t, oid.Hex(), rows[0][0])
	assert.Equal(t, "Alice", rows[0][1])
	assert.Equal(t, company.Hex(), rows[0][2])
	assert.Equal(t, created, rows[0][3])
	// Missing update_date becomes NULL.
	assert.Nil(t, rows[0][4])
}

func TestDirectStrategy_StringIdentifiersPassThrough(t *testing.T) {
	s := NewDirectStrategy(directTestSchema())

	doc := bson.M{
		"_id":     "64b0c5f2e4b0a1a2b3c4d5e6",
		"company": "64b0c5f2e4b0a1a2b3c4d5e7",
	}

	rows, _, err := s.ExtractRows(context.Background(), doc, ImportConfig{})
	require.NoError(t, err)
	assert.Equal(t, "64b0c5f2e4b0a1a2b3c4d5e6", rows[0][0])
	assert.Equal(t, "64b0c5f2e4b0a1a2b3c4d5e7", rows[0][2])
}

func TestDirectStrategy_FilterSkips(t *testing.T) {
	s := NewDirectStrategy(directTestSchema())

	cfg := ImportConfig{
		Filter: func(doc bson.M) bool { return doc["firstname"] != "Bob" },
	}

	rows, columns, err := s.ExtractRows(context.Background(), bson.M{
		"_id":       primitive.NewObjectID(),
		"firstname": "Bob",
	}, cfg)
	require.NoError(t, err)
	assert.Nil(t, rows)
	assert.Nil(t, columns)
}

func TestDirectStrategy_MissingID(t *testing.T) {
	s := NewDirectStrategy(directTestSchema())

	_, _, err := s.ExtractRows(context.Background(), bson.M{"firstname": "NoID"}, ImportConfig{})
	require.Error(t, err)
}

func TestDirectStrategy_UsesUpsert(t *testing.T) {
	s := NewDirectStrategy(directTestSchema())
	assert.True(t, s.UseOnConflict())
	assert.Contains(t, s.OnConflictClause(s.columns), "ON CONFLICT (id) DO UPDATE SET")
}
