package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestDateFilter(t *testing.T) {
	assert.Empty(t, DateFilter(nil))

	after := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	filter := DateFilter(&after)

	or, ok := filter["$or"].(bson.A)
	require.True(t, ok)
	require.Len(t, or, 2)

	assert.Equal(t, bson.M{FieldCreationDate: bson.M{"$gte": after}}, or[0])
	assert.Equal(t, bson.M{FieldUpdateDate: bson.M{"$gte": after}}, or[1])
}

func TestArrayFilter_SingleFieldNoDate(t *testing.T) {
	filter := ArrayFilter([]string{"registered_events"}, nil)
	assert.Equal(t, bson.M{"registered_events": bson.M{"$exists": true, "$ne": bson.A{}}}, filter)
}

func TestArrayFilter_MultipleFieldsNoDate(t *testing.T) {
	filter := ArrayFilter([]string{"targets", "health_targets"}, nil)

	or, ok := filter["$or"].(bson.A)
	require.True(t, ok)
	assert.Len(t, or, 2)
}

func TestArrayFilter_SingleFieldWithDate(t *testing.T) {
	after := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	filter := ArrayFilter([]string{"registered_events"}, &after)

	// The array condition and the date disjunction merge into one filter.
	assert.Contains(t, filter, "registered_events")
	assert.Contains(t, filter, "$or")
}

func TestArrayFilter_MultipleFieldsWithDate(t *testing.T) {
	after := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	filter := ArrayFilter([]string{"targets", "health_targets"}, &after)

	// Two disjunctions must both hold, so they land under $and.
	and, ok := filter["$and"].(bson.A)
	require.True(t, ok)
	require.Len(t, and, 2)
}

func TestArrayFilter_NoFields(t *testing.T) {
	after := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	filter := ArrayFilter(nil, &after)
	assert.Contains(t, filter, "$or")
}
