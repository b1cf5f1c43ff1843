package tiles_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"

	"github.com/soilloss/rusle-pipeline/internal/tiles"
)

func TestPolygonMask_InsideVsOutsideRing(t *testing.T) {
	tileBound := orb.Bound{Min: orb.Point{68.0, 38.0}, Max: orb.Point{68.1, 38.1}}

	// A polygon covering the left half of the tile window.
	ring := orb.Ring{
		{68.0, 38.0}, {68.05, 38.0}, {68.05, 38.1}, {68.0, 38.1}, {68.0, 38.0},
	}
	poly := orb.Polygon{ring}

	mask := tiles.PolygonMask(poly, tileBound)

	insideAlpha := mask.GrayAt(50, 128).Y
	outsideAlpha := mask.GrayAt(200, 128).Y

	assert.Greater(t, insideAlpha, outsideAlpha)
}

func TestPolygonMask_EmptyGeometryProducesFullyTransparentMask(t *testing.T) {
	tileBound := orb.Bound{Min: orb.Point{68.0, 38.0}, Max: orb.Point{68.1, 38.1}}
	mask := tiles.PolygonMask(orb.Polygon{}, tileBound)

	assert.Equal(t, uint8(0), mask.GrayAt(128, 128).Y)
}
