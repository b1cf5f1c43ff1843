package rusle

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/soilloss/rusle-pipeline/internal/domain"
)

// YearRange is the inclusive [Start, End] year window a compute targets.
type YearRange = domain.YearRange

// FactorConfig is the resolved per-factor slice of the effective config
// (e.g. effectiveConfig["k_factor"]).
type FactorConfig map[string]interface{}

// ComplexityParams carries the scale/sampling recommendation from C1.
type ComplexityParams struct {
	RusleScaleM  float64
	SampleScaleM float64
	GridRows     int
	GridCols     int

	// AreaKM2 is the geometry's true geodesic area (internal/geometry's
	// s2-based polygon area, not a bounding-box approximation), used by
	// SeverityDistribution to turn per-class percentages into square
	// kilometres.
	AreaKM2 float64
}

// FactorResult is a single factor's raster-derived statistics.
type FactorResult struct {
	Name  string
	Stats domain.FactorStats
}

// FactorFunc computes one RUSLE factor over a geometry/year range.
type FactorFunc func(ctx context.Context, svc RasterService, years YearRange, geom orb.Geometry, cfg FactorConfig, params ComplexityParams) (FactorResult, error)

func floatFrom(cfg FactorConfig, key string, fallback float64) float64 {
	if v, ok := cfg[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return fallback
}

func intFrom(cfg FactorConfig, key string, fallback int) int {
	if v, ok := cfg[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return fallback
}

func stringFrom(cfg FactorConfig, key string, fallback string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func dateRange(years YearRange) (string, string) {
	return fmt.Sprintf("%04d-01-01", years.Start), fmt.Sprintf("%04d-12-31", years.End)
}
