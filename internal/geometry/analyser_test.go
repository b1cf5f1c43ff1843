package geometry_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilloss/rusle-pipeline/internal/geometry"
)

func squareRing(minLon, minLat, maxLon, maxLat float64) orb.Ring {
	return orb.Ring{
		{minLon, minLat},
		{maxLon, minLat},
		{maxLon, maxLat},
		{minLon, maxLat},
		{minLon, minLat},
	}
}

func TestAnalyseGeometry_Low(t *testing.T) {
	a := geometry.NewAnalyser(geometry.DefaultThresholds())

	poly := orb.Polygon{squareRing(68.0, 38.0, 68.05, 38.05)}

	result, err := a.AnalyseGeometry(poly, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, geometry.ComplexityLow, result.Complexity)
	assert.Equal(t, 10, result.Params.GridRows)
	assert.Greater(t, result.AreaKM2, 0.0)
	assert.Equal(t, 5, result.CoordCount)
}

func TestAnalyseGeometry_CallerGridOverride(t *testing.T) {
	a := geometry.NewAnalyser(geometry.DefaultThresholds())
	poly := orb.Polygon{squareRing(68.0, 38.0, 68.05, 38.05)}

	result, err := a.AnalyseGeometry(poly, 3, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Params.GridRows)
	assert.Equal(t, 3, result.Params.GridCols)
}

func TestAnalyseGeometry_EmptyRingFails(t *testing.T) {
	a := geometry.NewAnalyser(geometry.DefaultThresholds())

	_, err := a.AnalyseGeometry(orb.Polygon{}, 0, 0)
	assert.Error(t, err)
}

func TestAnalyseGeometry_UnclosedRingFails(t *testing.T) {
	a := geometry.NewAnalyser(geometry.DefaultThresholds())
	bad := orb.Polygon{{
		{68.0, 38.0}, {68.1, 38.0}, {68.1, 38.1},
	}}

	_, err := a.AnalyseGeometry(bad, 0, 0)
	assert.Error(t, err)
}
