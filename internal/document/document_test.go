package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestIDString(t *testing.T) {
	oid := primitive.NewObjectID()

	id, ok := IDString(oid)
	require.True(t, ok)
	assert.Equal(t, oid.Hex(), id)

	id, ok = IDString("64b0c5f2e4b0a1a2b3c4d5e6")
	require.True(t, ok)
	assert.Equal(t, "64b0c5f2e4b0a1a2b3c4d5e6", id)

	_, ok = IDString(42)
	assert.False(t, ok)
	_, ok = IDString(nil)
	assert.False(t, ok)
}

func TestGet(t *testing.T) {
	doc := bson.M{
		"name": "Alice",
		"profile": bson.M{
			"address": bson.M{"city": "Paris"},
		},
	}

	v, ok := Get(doc, "name")
	require.True(t, ok)
	assert.Equal(t, "Alice", v)

	v, ok = Get(doc, "profile.address.city")
	require.True(t, ok)
	assert.Equal(t, "Paris", v)

	_, ok = Get(doc, "profile.phone")
	assert.False(t, ok)

	_, ok = Get(doc, "name.sub")
	assert.False(t, ok)
}

func TestSQLValue(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid.Hex(), SQLValue(oid))

	dt := primitive.NewDateTimeFromTime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, dt.Time().UTC(), SQLValue(dt))

	assert.Equal(t, "plain", SQLValue("plain"))
	assert.Equal(t, int32(7), SQLValue(int32(7)))
	assert.Nil(t, SQLValue(bson.M{"nested": 1}))
	assert.Nil(t, SQLValue(primitive.A{1, 2}))
}

func TestRefID(t *testing.T) {
	oid := primitive.NewObjectID()

	// Bare identifier elements.
	id, ok := RefID(oid, "event")
	require.True(t, ok)
	assert.Equal(t, oid.Hex(), id)

	id, ok = RefID(oid.Hex(), "event")
	require.True(t, ok)
	assert.Equal(t, oid.Hex(), id)

	// Embedded sub-document carrying the reference under the named key.
	id, ok = RefID(bson.M{"event": oid, "date": time.Now()}, "event")
	require.True(t, ok)
	assert.Equal(t, oid.Hex(), id)

	// Falls back to _id when the named key is absent.
	id, ok = RefID(bson.M{"_id": oid}, "event")
	require.True(t, ok)
	assert.Equal(t, oid.Hex(), id)

	_, ok = RefID(bson.M{"other": 1}, "event")
	assert.False(t, ok)
	_, ok = RefID(42, "event")
	assert.False(t, ok)
}

func TestRefTime(t *testing.T) {
	when := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)

	got, ok := RefTime(bson.M{"date": when}, "date")
	require.True(t, ok)
	assert.Equal(t, when, got)

	got, ok = RefTime(bson.M{"date": primitive.NewDateTimeFromTime(when)}, "date")
	require.True(t, ok)
	assert.Equal(t, when, got)

	_, ok = RefTime(bson.M{}, "date")
	assert.False(t, ok)
	_, ok = RefTime(primitive.NewObjectID(), "date")
	assert.False(t, ok)
}

func TestArray(t *testing.T) {
	elems, ok := Array(primitive.A{"a", "b"})
	require.True(t, ok)
	assert.Len(t, elems, 2)

	_, ok = Array("not an array")
	assert.False(t, ok)
}
