package rusle

import (
	"context"
	"math"

	"github.com/paulmach/orb"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
)

// RFactor computes mean annual rainfall erosivity: R = coefficient * P^exponent,
// aggregated from daily precipitation over the year range.
func RFactor(ctx context.Context, svc RasterService, years YearRange, geom orb.Geometry, cfg FactorConfig, params ComplexityParams) (FactorResult, error) {
	start, end := dateRange(years)

	precip, err := svc.ZonalStats(ctx, DatasetPrecipitation, "precipitation", start, end, geom, params.RusleScaleM)
	if err != nil {
		return FactorResult{}, err
	}
	if math.IsNaN(precip.Mean) {
		return FactorResult{}, apperrors.ErrNoDataAvailable
	}

	coeff := floatFrom(cfg, "coefficient", 0.0483)
	exponent := floatFrom(cfg, "exponent", 1.61)

	toR := func(p float64) float64 {
		if p <= 0 {
			return 0
		}
		return coeff * math.Pow(p, exponent)
	}

	return FactorResult{
		Name: "r",
		Stats: domain.FactorStats{
			Mean:        toR(precip.Mean),
			Min:         toR(precip.Min),
			Max:         toR(precip.Max),
			StdDev:      toR(precip.Mean+precip.StdDev) - toR(precip.Mean),
			Unit:        "MJ*mm/(ha*h*yr)",
			Description: "rainfall erosivity",
		},
	}, nil
}
