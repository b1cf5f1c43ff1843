package rusle

import (
	"context"
	"math"

	"github.com/paulmach/orb"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
)

// LSFactor derives the topographic factor from an SRTM-like DEM. Slope
// length is approximated from the zonal slope/flow-accumulation reduction;
// the S-factor piecewise switches formula at the 9-degree standard RUSLE
// break.
func LSFactor(ctx context.Context, svc RasterService, years YearRange, geom orb.Geometry, cfg FactorConfig, params ComplexityParams) (FactorResult, error) {
	slope, err := svc.ZonalStats(ctx, DatasetDEM, "slope_degrees", "", "", geom, params.RusleScaleM)
	if err != nil {
		return FactorResult{}, err
	}
	flowAccum, err := svc.ZonalStats(ctx, DatasetDEM, "flow_accumulation_m", "", "", geom, params.RusleScaleM)
	if err != nil {
		return FactorResult{}, err
	}
	if math.IsNaN(slope.Mean) {
		return FactorResult{}, apperrors.ErrNoDataAvailable
	}

	slopeBreakDeg := floatFrom(cfg, "slope_break_degrees", 9.0)

	lsFor := func(slopeDeg, flowLengthM float64) float64 {
		slopeRad := slopeDeg * math.Pi / 180
		sinSlope := math.Sin(slopeRad)

		var sFactor float64
		if slopeDeg < slopeBreakDeg {
			sFactor = 10.8*sinSlope + 0.03
		} else {
			sFactor = 16.8*sinSlope - 0.5
		}
		if sFactor < 0 {
			sFactor = 0
		}

		m := slopeExponent(slopeDeg)
		lFactor := math.Pow(flowLengthM/22.13, m)

		return lFactor * sFactor
	}

	mean := lsFor(slope.Mean, flowAccum.Mean)
	min := lsFor(slope.Min, flowAccum.Min)
	max := lsFor(slope.Max, flowAccum.Max)

	return FactorResult{
		Name: "ls",
		Stats: domain.FactorStats{
			Mean:        mean,
			Min:         math.Min(min, max),
			Max:         math.Max(min, max),
			StdDev:      math.Abs(max-min) / 4,
			Unit:        "dimensionless",
			Description: "topographic factor",
		},
	}, nil
}

// slopeExponent is the standard RUSLE exponent table for the L sub-factor.
func slopeExponent(slopeDeg float64) float64 {
	slopePct := math.Tan(slopeDeg*math.Pi/180) * 100
	switch {
	case slopePct < 1:
		return 0.2
	case slopePct < 3:
		return 0.3
	case slopePct < 5:
		return 0.4
	default:
		return 0.5
	}
}
