package domain

import "math"

// FactorStats is the {mean, min, max, std_dev} tuple extracted for a single
// RUSLE factor, plus the fixed unit/description pair used for display.
type FactorStats struct {
	Mean        float64 `json:"mean"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	StdDev      float64 `json:"std_dev"`
	Unit        string  `json:"unit"`
	Description string  `json:"description"`
}

// RusleFactors bundles the five factor statistics under their canonical
// single-letter keys.
type RusleFactors struct {
	R FactorStats `json:"r"`
	K FactorStats `json:"k"`
	LS FactorStats `json:"ls"`
	C FactorStats `json:"c"`
	P FactorStats `json:"p"`
}

// RainfallStatistics is the independent rainfall auxiliary computed over
// the requested year range.
type RainfallStatistics struct {
	MeanAnnualRainfallMM         float64 `json:"mean_annual_rainfall_mm"`
	TrendMMPerYear               float64 `json:"trend_mm_per_year"`
	CoefficientOfVariationPercent float64 `json:"coefficient_of_variation_percent"`
}

// SeverityClass is one of the fixed five soil-loss severity bands.
type SeverityClass string

const (
	SeverityVeryLow   SeverityClass = "Very Low"
	SeverityLow       SeverityClass = "Low"
	SeverityModerate  SeverityClass = "Moderate"
	SeveritySevere    SeverityClass = "Severe"
	SeverityExcessive SeverityClass = "Excessive"
)

// SeverityBoundaries are the fixed class boundaries in t·ha⁻¹·yr⁻¹, the last
// class open-ended to +Inf.
var SeverityBoundaries = []float64{0, 5, 15, 30, 50, math.Inf(1)}

// SeverityNames are SeverityBoundaries' class names, same length - 1.
var SeverityNames = []SeverityClass{
	SeverityVeryLow, SeverityLow, SeverityModerate, SeveritySevere, SeverityExcessive,
}

// SeverityBand is one entry of the severity distribution: a class, the area
// (geodesic km²) it covers, and its percentage of the total area.
type SeverityBand struct {
	Class      SeverityClass `json:"class"`
	Area       float64       `json:"area"`
	Percentage float64       `json:"percentage"`
}

// RawStatistics is what the RUSLE engine produces directly: the composite
// soil-loss aggregate, the per-factor breakdown, and the rainfall auxiliary.
// It carries none of the derived aliases - those are added by Enrich.
type RawStatistics struct {
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`

	RusleFactors RusleFactors       `json:"rusle_factors"`
	Rainfall     RainfallStatistics `json:"rainfallStatistics"`

	SeverityDistribution []SeverityBand `json:"severity_distribution"`
}

// StatisticsBundle is the enriched, display-ready statistics object stored
// on a completed PrecomputedMap and returned to API callers. Every alias is
// a pure derivation of RawStatistics; nothing here is computed twice.
type StatisticsBundle struct {
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`

	MeanErosionRate float64 `json:"meanErosionRate"`
	MinErosionRate  float64 `json:"minErosionRate"`
	MaxErosionRate  float64 `json:"maxErosionRate"`
	ErosionCV       float64 `json:"erosionCV"`

	RusleFactors RusleFactors       `json:"rusle_factors"`
	Rainfall     RainfallStatistics `json:"rainfallStatistics"`
	RainfallSlope float64           `json:"rainfallSlope"`
	RainfallCV    float64           `json:"rainfallCV"`

	SeverityDistribution []SeverityBand `json:"severity_distribution"`
}

// Enrich derives the display aliases from a raw statistics bundle. It is a
// pure function: same input always produces the same output, independent of
// when or how the raw bundle was computed.
func Enrich(raw RawStatistics) StatisticsBundle {
	enriched := StatisticsBundle{
		Mean:                 raw.Mean,
		Min:                  raw.Min,
		Max:                  raw.Max,
		StdDev:                raw.StdDev,
		MeanErosionRate:      raw.Mean,
		MinErosionRate:       raw.Min,
		MaxErosionRate:       raw.Max,
		RusleFactors:         raw.RusleFactors,
		Rainfall:             raw.Rainfall,
		RainfallCV:           raw.Rainfall.CoefficientOfVariationPercent,
		SeverityDistribution: raw.SeverityDistribution,
	}

	if raw.Mean != 0 {
		enriched.ErosionCV = roundTo(raw.StdDev/raw.Mean*100, 1)
	}

	if raw.Rainfall.MeanAnnualRainfallMM != 0 {
		enriched.RainfallSlope = roundTo(raw.Rainfall.TrendMMPerYear/raw.Rainfall.MeanAnnualRainfallMM*100, 2)
	}

	return enriched
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
