package rusle_test

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/rusle"
)

type increasingRainfallService struct {
	year int
}

func (s *increasingRainfallService) ZonalStats(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, scaleM float64) (rusle.ZonalResult, error) {
	s.year++
	return rusle.ZonalResult{Mean: 400 + float64(s.year)*10}, nil
}

func (s *increasingRainfallService) SampleGrid(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, rows, cols int, scaleM float64) ([][]float64, error) {
	return nil, nil
}

func (s *increasingRainfallService) Thumbnail(ctx context.Context, datasetID, band, start, end string, geometry orb.Geometry, scaleM float64) (float64, error) {
	return 0, nil
}

func (s *increasingRainfallService) HealthCheck(ctx context.Context) error { return nil }

func TestRainfallStatistics_PositiveTrendForIncreasingRainfall(t *testing.T) {
	svc := &increasingRainfallService{}
	years := domain.YearRange{Start: 2015, End: 2020}

	stats, err := rusle.RainfallStatistics(context.Background(), svc, years, testGeometry().Original, 200)
	require.NoError(t, err)

	assert.Greater(t, stats.TrendMMPerYear, 0.0)
	assert.Greater(t, stats.MeanAnnualRainfallMM, 0.0)
}
