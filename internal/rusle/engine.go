package rusle

import (
	"context"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
)

// factorFuncs is the fixed R/K/LS/C/P tuple, assembled once. This is never a
// plugin registry: the five factors are a closed set.
var factorFuncs = [5]FactorFunc{RFactor, KFactor, LSFactor, CFactor, PFactor}

// ComputeResult is the engine's full output for one area/year-range/config.
type ComputeResult struct {
	Composite  domain.FactorStats
	Factors    domain.RusleFactors
	Rainfall   domain.RainfallStatistics
	Severity   []domain.SeverityBand
}

// Engine drives RasterService through the fixed factor stack.
type Engine struct {
	svc            RasterService
	computeTimeout time.Duration
}

func NewEngine(svc RasterService, computeTimeout time.Duration) *Engine {
	if computeTimeout <= 0 {
		computeTimeout = 600 * time.Second
	}
	return &Engine{svc: svc, computeTimeout: computeTimeout}
}

// Compute runs all five factors plus the rainfall auxiliary over geometry,
// combines them into the composite soil-loss statistic, and classifies
// severity. effectiveConfig holds one sub-map per factor
// ("r_factor", "k_factor", "ls_factor", "c_factor", "p_factor").
func (e *Engine) Compute(ctx context.Context, years YearRange, geom domain.Geometry, effectiveConfig domain.ConfigOverrides, params ComplexityParams) (*ComputeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.computeTimeout)
	defer cancel()

	results, err := e.computeFactors(ctx, years, geom.Original, effectiveConfig, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.ErrComputationTimeout
		}
		return nil, err
	}

	composite := combineFactors(results)

	rainfall, err := RainfallStatistics(ctx, e.svc, years, geom.Original, params.RusleScaleM)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.ErrComputationTimeout
		}
		return nil, err
	}

	severity := SeverityDistribution(composite.Mean, composite.StdDev, params.AreaKM2)

	return &ComputeResult{
		Composite: composite,
		Factors: domain.RusleFactors{
			R:  results[0].Stats,
			K:  results[1].Stats,
			LS: results[2].Stats,
			C:  results[3].Stats,
			P:  results[4].Stats,
		},
		Rainfall: rainfall,
		Severity: severity,
	}, nil
}

func (e *Engine) computeFactors(ctx context.Context, years YearRange, geom orb.Geometry, effectiveConfig domain.ConfigOverrides, params ComplexityParams) ([5]FactorResult, error) {
	var results [5]FactorResult
	factorKeys := [5]string{"r_factor", "k_factor", "ls_factor", "c_factor", "p_factor"}

	for i, fn := range factorFuncs {
		cfg := subConfig(effectiveConfig, factorKeys[i])
		result, err := fn(ctx, e.svc, years, geom, cfg, params)
		if err != nil {
			return results, err
		}
		results[i] = result
	}
	return results, nil
}

func subConfig(effectiveConfig domain.ConfigOverrides, key string) FactorConfig {
	if v, ok := effectiveConfig[key]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return FactorConfig(m)
		}
	}
	return FactorConfig{}
}

// combineFactors computes A = R*K*LS*C*P and its propagated uncertainty,
// treating each factor's relative std dev as independent.
func combineFactors(results [5]FactorResult) domain.FactorStats {
	mean := 1.0
	relVarSum := 0.0
	for _, r := range results {
		mean *= r.Stats.Mean
		if r.Stats.Mean != 0 {
			rel := r.Stats.StdDev / r.Stats.Mean
			relVarSum += rel * rel
		}
	}

	stdDev := mean * math.Sqrt(relVarSum)

	min := 1.0
	max := 1.0
	for _, r := range results {
		lo, hi := r.Stats.Min, r.Stats.Max
		if lo > hi {
			lo, hi = hi, lo
		}
		min *= lo
		max *= hi
	}
	if min > max {
		min, max = max, min
	}

	return domain.FactorStats{
		Mean:        mean,
		Min:         min,
		Max:         max,
		StdDev:      stdDev,
		Unit:        "t/ha/yr",
		Description: "annual soil loss",
	}
}
