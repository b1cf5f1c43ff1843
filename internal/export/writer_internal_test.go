package export

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestLonLatBoundToMercator_OriginMapsToOrigin(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	merc := lonLatBoundToMercator(bound)

	assert.InDelta(t, 0, merc.Min[0], 1e-6)
	assert.InDelta(t, 0, merc.Min[1], 1e-6)
	assert.Greater(t, merc.Max[0], 0.0)
	assert.Greater(t, merc.Max[1], 0.0)
}

// TestLonLatBoundToMercator_HighLatitudeStretchesY pins the actual defect
// this reprojection fixes: near the poles a degree of latitude spans far
// more Mercator-Y than a degree near the equator, so the same-sized
// lon/lat bound must not produce the same-sized Mercator Y extent.
func TestLonLatBoundToMercator_HighLatitudeStretchesY(t *testing.T) {
	equator := lonLatBoundToMercator(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}})
	highLat := lonLatBoundToMercator(orb.Bound{Min: orb.Point{0, 60}, Max: orb.Point{1, 61}})

	equatorHeight := equator.Max[1] - equator.Min[1]
	highLatHeight := highLat.Max[1] - highLat.Min[1]

	assert.Greater(t, highLatHeight, equatorHeight)
}

func TestResampleRowsToMercator_PreservesRowCountAndColumnValues(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{68.0, 38.0}, Max: orb.Point{69.0, 39.0}}
	grid := [][]float64{
		{10, 10},
		{20, 20},
		{30, 30},
	}

	out := resampleRowsToMercator(grid, bound)

	assert.Len(t, out, 3)
	assert.Len(t, out[0], 2)
	// Row 0 (north) and the last row (south) should stay close to their
	// original extreme values; only interior rows shift to account for
	// Mercator's nonlinear latitude spacing.
	assert.InDelta(t, 10, out[0][0], 2)
	assert.InDelta(t, 30, out[2][0], 2)
}

func TestResampleRowsToMercator_SingleRowIsUnchanged(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{68.0, 38.0}, Max: orb.Point{69.0, 39.0}}
	grid := [][]float64{{5, 6, 7}}

	out := resampleRowsToMercator(grid, bound)

	assert.Equal(t, grid, out)
}
