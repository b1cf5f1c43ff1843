package tiles

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

// TestLonLatToTilePx_MatchesMercatorWindow pins the bug this fixes: the
// mask's per-vertex pixel placement must agree with writeTile's own
// Mercator-projected sampling window, not a raw linear-latitude
// interpolation (the two disagree by several pixels near a tile's edges,
// most visibly at low zoom where a tile spans many degrees of latitude).
func TestLonLatToTilePx_MatchesMercatorWindow(t *testing.T) {
	tileBound := orb.Bound{Min: orb.Point{60.0, 0.0}, Max: orb.Point{61.0, 66.5}}
	mercBound := lonLatBoundToMercator(tileBound)

	// A point at the tile's own Mercator vertical midpoint should land at
	// pixel row TileSize/2, not at the midpoint of raw latitude (which, at
	// these latitudes, is a materially different point under Mercator).
	midMercY := (mercBound.Min[1] + mercBound.Max[1]) / 2
	_, midLat := mercatorToLonLat(0, midMercY)

	_, y := lonLatToTilePx(tileBound.Min[0], midLat, mercBound)
	assert.InDelta(t, float64(TileSize)/2, y, 0.5)

	// The raw-latitude midpoint of the bound (what the old, buggy
	// implementation used) is a different latitude than midLat at these
	// spans, confirming the two projections genuinely diverge here.
	rawMidLat := (tileBound.Min[1] + tileBound.Max[1]) / 2
	assert.NotEqual(t, midLat, rawMidLat)
}

func TestLonLatToTilePx_CornersMapToTileCorners(t *testing.T) {
	tileBound := orb.Bound{Min: orb.Point{68.0, 38.0}, Max: orb.Point{69.0, 39.0}}
	mercBound := lonLatBoundToMercator(tileBound)

	x, y := lonLatToTilePx(tileBound.Min[0], tileBound.Max[1], mercBound)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	x, y = lonLatToTilePx(tileBound.Max[0], tileBound.Min[1], mercBound)
	assert.InDelta(t, TileSize, x, 1e-6)
	assert.InDelta(t, TileSize, y, 1e-6)
}
