package rusle

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
)

// RainfallStatistics is computed independently of the factor stack: mean
// annual rainfall, its linear trend across the year range, and its
// coefficient of variation.
func RainfallStatistics(ctx context.Context, svc RasterService, years YearRange, geom orb.Geometry, scaleM float64) (domain.RainfallStatistics, error) {
	annualTotals := make([]float64, 0, years.End-years.Start+1)
	yearIndices := make([]float64, 0, cap(annualTotals))

	for year := years.Start; year <= years.End; year++ {
		start, end := dateRange(domain.YearRange{Start: year, End: year})
		result, err := svc.ZonalStats(ctx, DatasetPrecipitation, "precipitation", start, end, geom, scaleM)
		if err != nil {
			return domain.RainfallStatistics{}, err
		}
		if math.IsNaN(result.Mean) {
			return domain.RainfallStatistics{}, apperrors.ErrNoDataAvailable
		}
		annualTotals = append(annualTotals, result.Mean)
		yearIndices = append(yearIndices, float64(year))
	}

	if len(annualTotals) == 0 {
		return domain.RainfallStatistics{}, apperrors.ErrNoDataAvailable
	}

	meanRainfall := stat.Mean(annualTotals, nil)
	stdDev := stat.StdDev(annualTotals, nil)

	var trend float64
	if len(annualTotals) >= 2 {
		_, slope := stat.LinearRegression(yearIndices, annualTotals, nil, false)
		trend = slope
	}

	cv := 0.0
	if meanRainfall != 0 {
		cv = (stdDev / meanRainfall) * 100
	}

	return domain.RainfallStatistics{
		MeanAnnualRainfallMM:          meanRainfall,
		TrendMMPerYear:                trend,
		CoefficientOfVariationPercent: cv,
	}, nil
}
