package migrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineFloor(t *testing.T) {
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("no floor keeps table date", func(t *testing.T) {
		got := CombineFloor(&late, nil)
		require.NotNil(t, got)
		assert.Equal(t, late, *got)
	})

	t.Run("no table date uses floor", func(t *testing.T) {
		got := CombineFloor(nil, &early)
		require.NotNil(t, got)
		assert.Equal(t, early, *got)
	})

	t.Run("earlier floor widens window backward", func(t *testing.T) {
		got := CombineFloor(&late, &early)
		require.NotNil(t, got)
		assert.Equal(t, early, *got)
	})

	t.Run("later floor is ignored", func(t *testing.T) {
		got := CombineFloor(&early, &late)
		require.NotNil(t, got)
		assert.Equal(t, early, *got)
	})

	t.Run("both nil means full import", func(t *testing.T) {
		assert.Nil(t, CombineFloor(nil, nil))
	})
}
