package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/schema"
)

func TestNewStrategy_ResolvesVariants(t *testing.T) {
	direct := directTestSchema()
	s, err := NewStrategy(direct)
	require.NoError(t, err)
	assert.IsType(t, &DirectStrategy{}, s)

	smart := usersTargetsSchema()
	s, err = NewStrategy(smart)
	require.NoError(t, err)
	assert.IsType(t, &SmartDiffStrategy{}, s)

	di := userEventsSchema()
	di.Strategy.Name = schema.StrategyDeleteAndInsert
	s, err = NewStrategy(di)
	require.NoError(t, err)
	assert.IsType(t, &DeleteAndInsertStrategy{}, s)
}

func TestNewStrategy_ArrayExtraction(t *testing.T) {
	ts := schema.NewTableSchema("quizzs_links_questions", "quizzs", []schema.ColumnDefinition{
		{Name: "id", SQLType: "VARCHAR(24)", PrimaryKey: true},
		{Name: "quizz_id", SQLType: "VARCHAR(24)"},
		{Name: "created_at", SQLType: "TIMESTAMP", Nullable: true},
		{Name: "updated_at", SQLType: "TIMESTAMP", Nullable: true},
	}, nil)
	ts.Strategy = schema.StrategySpec{
		Name:            schema.StrategyArrayExtraction,
		ChildCollection: "quizzquestions",
		Columns:         []string{"id", "quizz_id", "created_at", "updated_at"},
		Arrays:          []schema.ArrayFieldSpec{{Field: "questions"}},
	}

	s, err := NewStrategy(ts)
	require.NoError(t, err)
	assert.IsType(t, &ArrayExtractionStrategy{}, s)
	assert.True(t, s.UseOnConflict())
}

func TestNewStrategy_ArrayExtractionValidation(t *testing.T) {
	ts := schema.NewTableSchema("bad", "quizzs", []schema.ColumnDefinition{
		{Name: "id", SQLType: "VARCHAR(24)", PrimaryKey: true},
	}, nil)
	ts.Strategy = schema.StrategySpec{Name: schema.StrategyArrayExtraction}

	_, err := NewStrategy(ts)
	require.Error(t, err)
}

func TestDeleteAndInsertStrategy_NoConflictClause(t *testing.T) {
	ts := userEventsSchema()
	ts.Strategy.Name = schema.StrategyDeleteAndInsert
	s, err := NewDeleteAndInsertStrategy(ts)
	require.NoError(t, err)

	assert.False(t, s.UseOnConflict())
	assert.Empty(t, s.OnConflictClause(nil))
}
