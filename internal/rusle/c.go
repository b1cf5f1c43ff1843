package rusle

import (
	"context"
	"math"

	"github.com/paulmach/orb"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
)

// CFactor derives the cover-management factor from the harmonised NDVI
// archive over the year range; C is an inverse function of mean NDVI.
func CFactor(ctx context.Context, svc RasterService, years YearRange, geom orb.Geometry, cfg FactorConfig, params ComplexityParams) (FactorResult, error) {
	start, end := dateRange(years)

	ndvi, err := svc.ZonalStats(ctx, DatasetNDVI, "ndvi", start, end, geom, params.RusleScaleM)
	if err != nil {
		return FactorResult{}, err
	}
	if math.IsNaN(ndvi.Mean) {
		return FactorResult{}, apperrors.ErrNoDataAvailable
	}

	clampMin := floatFrom(cfg, "clamp_min", 0.001)
	clampMax := floatFrom(cfg, "clamp_max", 1.0)

	toC := func(n float64) float64 {
		// exp(-alpha*NDVI) is the standard inverse-exponential mapping used
		// when a direct cover-management lookup table isn't available.
		const alpha = 2.5
		return clamp(math.Exp(-alpha*n), clampMin, clampMax)
	}

	mean := toC(ndvi.Mean)
	lo := toC(ndvi.Max)
	hi := toC(ndvi.Min)

	return FactorResult{
		Name: "c",
		Stats: domain.FactorStats{
			Mean:        mean,
			Min:         lo,
			Max:         hi,
			StdDev:      math.Abs(hi-lo) / 4,
			Unit:        "dimensionless",
			Description: "cover-management factor",
		},
	}, nil
}
