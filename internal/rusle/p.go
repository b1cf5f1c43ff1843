package rusle

import (
	"context"
	"math"

	"github.com/paulmach/orb"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
)

// defaultPLookup maps ESA-WorldCover-like class codes to support-practice
// values. Values outside the table fall back to 1.0 (no conservation
// practice assumed).
var defaultPLookup = map[int]float64{
	10: 0.5,  // tree cover
	20: 0.6,  // shrubland
	30: 0.55, // grassland
	40: 0.35, // cropland (terraced/contoured assumption)
	50: 1.0,  // built-up
	60: 1.0,  // bare/sparse vegetation
	70: 1.0,  // snow and ice
	80: 1.0,  // permanent water bodies
	90: 0.45, // herbaceous wetland
	95: 0.45, // mangroves
	100: 0.6, // moss and lichen
}

// PFactor derives the support-practice factor from a land-cover
// classification mapped through the built-in defaultPLookup table. The
// config's "lookup" name is read, but every name resolves to that table.
func PFactor(ctx context.Context, svc RasterService, years YearRange, geom orb.Geometry, cfg FactorConfig, params ComplexityParams) (FactorResult, error) {
	landcover, err := svc.ZonalStats(ctx, DatasetLandCover, "classification", "", "", geom, params.RusleScaleM)
	if err != nil {
		return FactorResult{}, err
	}
	if math.IsNaN(landcover.Mean) {
		return FactorResult{}, apperrors.ErrNoDataAvailable
	}

	lookup := defaultPLookup
	if stringFrom(cfg, "lookup", "default") != "default" {
		// A non-default lookup name would be resolved against a persisted
		// table outside this core's scope; fall back to the built-in
		// table rather than fabricate one.
		lookup = defaultPLookup
	}

	valueFor := func(classCode float64) float64 {
		code := int(math.Round(classCode))
		if v, ok := lookup[code]; ok {
			return v
		}
		return 1.0
	}

	mean := valueFor(landcover.Mean)
	lo := valueFor(landcover.Min)
	hi := valueFor(landcover.Max)
	if lo > hi {
		lo, hi = hi, lo
	}

	return FactorResult{
		Name: "p",
		Stats: domain.FactorStats{
			Mean:        mean,
			Min:         lo,
			Max:         hi,
			StdDev:      math.Abs(hi-lo) / 4,
			Unit:        "dimensionless",
			Description: "support-practice factor",
		},
	}, nil
}
