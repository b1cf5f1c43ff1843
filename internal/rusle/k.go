package rusle

import (
	"context"
	"math"

	"github.com/paulmach/orb"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
)

// KFactor computes soil erodibility from SoilGrids-like texture bands via
// the configured USDA nomograph variant, clamped to [clamp_min, clamp_max].
func KFactor(ctx context.Context, svc RasterService, years YearRange, geom orb.Geometry, cfg FactorConfig, params ComplexityParams) (FactorResult, error) {
	start, end := dateRange(years)

	clay, err := svc.ZonalStats(ctx, DatasetSoilGrids, "clay", start, end, geom, params.RusleScaleM)
	if err != nil {
		return FactorResult{}, err
	}
	silt, err := svc.ZonalStats(ctx, DatasetSoilGrids, "silt", start, end, geom, params.RusleScaleM)
	if err != nil {
		return FactorResult{}, err
	}
	sand, err := svc.ZonalStats(ctx, DatasetSoilGrids, "sand", start, end, geom, params.RusleScaleM)
	if err != nil {
		return FactorResult{}, err
	}
	organicCarbon, err := svc.ZonalStats(ctx, DatasetSoilGrids, "organic_carbon", start, end, geom, params.RusleScaleM)
	if err != nil {
		return FactorResult{}, err
	}
	if math.IsNaN(clay.Mean) || math.IsNaN(silt.Mean) || math.IsNaN(sand.Mean) {
		return FactorResult{}, apperrors.ErrNoDataAvailable
	}

	clayCoeff := floatFrom(cfg, "clay_coeff", 0.2)
	siltCoeff := floatFrom(cfg, "silt_coeff", 0.3)
	sandCoeff := floatFrom(cfg, "sand_coeff", 0.25)
	ocCoeff := floatFrom(cfg, "organic_carbon_coeff", 0.0256)
	clampMin := floatFrom(cfg, "clamp_min", 0.01)
	clampMax := floatFrom(cfg, "clamp_max", 0.7)

	nomograph := func(clayPct, siltPct, sandPct, oc float64) float64 {
		// USDA-style nomograph: texture-weighted base modulated by organic
		// carbon content. The structure_code and permeability_class values
		// the resolver carries are not read here and do not affect K.
		base := clayCoeff*clayPct + siltCoeff*siltPct + sandCoeff*sandPct
		k := base * math.Exp(-ocCoeff*oc)
		return clamp(k, clampMin, clampMax)
	}

	mean := nomograph(clay.Mean, silt.Mean, sand.Mean, organicCarbon.Mean)
	min := nomograph(clay.Min, silt.Min, sand.Min, organicCarbon.Max)
	max := nomograph(clay.Max, silt.Max, sand.Max, organicCarbon.Min)

	return FactorResult{
		Name: "k",
		Stats: domain.FactorStats{
			Mean:        mean,
			Min:         math.Min(min, max),
			Max:         math.Max(min, max),
			StdDev:      math.Abs(max-min) / 4,
			Unit:        "t*ha*h/(ha*MJ*mm)",
			Description: "soil erodibility",
		},
	}, nil
}
