package rusle_test

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/rusle"
)

type fakeRasterService struct {
	zonal     map[string]rusle.ZonalResult
	failWith  error
	healthErr error
}

func (f *fakeRasterService) ZonalStats(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, scaleM float64) (rusle.ZonalResult, error) {
	if f.failWith != nil {
		return rusle.ZonalResult{}, f.failWith
	}
	if r, ok := f.zonal[datasetID+"/"+band]; ok {
		return r, nil
	}
	return rusle.ZonalResult{Mean: 1, Min: 0.5, Max: 1.5, StdDev: 0.1}, nil
}

func (f *fakeRasterService) SampleGrid(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, rows, cols int, scaleM float64) ([][]float64, error) {
	grid := make([][]float64, rows)
	for r := range grid {
		grid[r] = make([]float64, cols)
	}
	return grid, nil
}

func (f *fakeRasterService) Thumbnail(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, scaleM float64) (float64, error) {
	return 1, nil
}

func (f *fakeRasterService) HealthCheck(ctx context.Context) error {
	return f.healthErr
}

func testGeometry() domain.Geometry {
	ring := orb.Ring{{68.0, 38.0}, {68.1, 38.0}, {68.1, 38.1}, {68.0, 38.1}, {68.0, 38.0}}
	poly := orb.Polygon{ring}
	return domain.Geometry{Original: poly, Simplified: poly}
}

func TestEngineCompute_ProducesFiveFactorsAndComposite(t *testing.T) {
	svc := &fakeRasterService{
		zonal: map[string]rusle.ZonalResult{
			"UCSB-CHG/CHIRPS/DAILY/precipitation": {Mean: 500, Min: 400, Max: 600, StdDev: 50},
		},
	}
	engine := rusle.NewEngine(svc, 5*time.Second)

	result, err := engine.Compute(context.Background(), domain.YearRange{Start: 2015, End: 2020}, testGeometry(), domain.ConfigOverrides{}, rusle.ComplexityParams{RusleScaleM: 200, AreaKM2: 80})
	require.NoError(t, err)

	assert.Greater(t, result.Composite.Mean, 0.0)
	assert.Greater(t, result.Factors.R.Mean, 0.0)
	assert.Greater(t, result.Factors.K.Mean, 0.0)
	assert.Len(t, result.Severity, 5)

	sumPct, sumArea := 0.0, 0.0
	for _, band := range result.Severity {
		sumPct += band.Percentage
		sumArea += band.Area
	}
	assert.InDelta(t, 100, sumPct, 0.5)
	// Severity areas must derive from the geodesic area passed in via
	// ComplexityParams.AreaKM2, not a bounding-box approximation.
	assert.InDelta(t, 80, sumArea, 0.5)
}

func TestEngineCompute_PropagatesNoDataAvailable(t *testing.T) {
	svc := &fakeRasterService{
		zonal: map[string]rusle.ZonalResult{
			"UCSB-CHG/CHIRPS/DAILY/precipitation": {Mean: nanValue()},
		},
	}
	engine := rusle.NewEngine(svc, 5*time.Second)

	_, err := engine.Compute(context.Background(), domain.YearRange{Start: 2015, End: 2020}, testGeometry(), domain.ConfigOverrides{}, rusle.ComplexityParams{RusleScaleM: 200})
	require.Error(t, err)
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}
