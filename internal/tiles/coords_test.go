package tiles_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"

	"github.com/soilloss/rusle-pipeline/internal/tiles"
)

func TestTilesInBound_CoversSingleZoomLevel(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{68.0, 38.0}, Max: orb.Point{68.5, 38.5}}

	got := tiles.TilesInBound(bound, 6, 6)
	assert.NotEmpty(t, got)
	for _, c := range got {
		assert.Equal(t, uint32(6), c.Z)
	}
}

func TestTilesInBound_SpansMultipleZooms(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{68.0, 38.0}, Max: orb.Point{68.5, 38.5}}

	got := tiles.TilesInBound(bound, 6, 8)
	zoomsSeen := map[uint32]bool{}
	for _, c := range got {
		zoomsSeen[c.Z] = true
	}
	assert.Len(t, zoomsSeen, 3)
}

func TestCoords_String(t *testing.T) {
	c := tiles.Coords{Z: 10, X: 5, Y: 3}
	assert.Equal(t, "z10_x5_y3", c.String())
}
