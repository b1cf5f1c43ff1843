package tiles_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soilloss/rusle-pipeline/internal/tiles"
)

func TestColorForValue_ExactBoundaries(t *testing.T) {
	assert.Equal(t, tiles.Palette[0].Color, tiles.ColorForValue(0))
	assert.Equal(t, tiles.Palette[4].Color, tiles.ColorForValue(50))
	assert.Equal(t, tiles.Palette[4].Color, tiles.ColorForValue(1000))
}

func TestColorForValue_InterpolatesBetweenStops(t *testing.T) {
	low := tiles.ColorForValue(5)
	mid := tiles.ColorForValue(10)
	high := tiles.ColorForValue(15)

	assert.NotEqual(t, low, mid)
	assert.NotEqual(t, mid, high)
}
