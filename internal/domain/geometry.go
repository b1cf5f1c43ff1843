package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Geometry carries both the exact boundary and a simplified variant used
// only as a computation hint. Simplified is never used for masking or
// final clipping.
type Geometry struct {
	Original   orb.Geometry
	Simplified orb.Geometry
}

// GeometryHash is the SHA-256 of the 6-decimal-rounded, JSON-encoded
// coordinates of a geometry. An empty hash means "use the area's
// canonical polygon" (no override supplied).
type GeometryHash string

const geometryRoundPlaces = 6

// HashGeometry rounds every coordinate to 6 decimal places, JSON-encodes the
// resulting coordinate tree, and hashes it. Rounding first (rather than
// hashing raw floats) makes the hash stable across platforms with slightly
// different float formatting and insensitive to sub-10cm noise.
func HashGeometry(g orb.Geometry) GeometryHash {
	if g == nil {
		return ""
	}
	rounded := roundGeometry(g)
	encoded, err := json.Marshal(rounded)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return GeometryHash(hex.EncodeToString(sum[:]))
}

func roundCoord(p orb.Point) [2]float64 {
	return [2]float64{roundN(p[0], geometryRoundPlaces), roundN(p[1], geometryRoundPlaces)}
}

func roundN(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func roundGeometry(g orb.Geometry) interface{} {
	switch v := g.(type) {
	case orb.Polygon:
		return roundPolygon(v)
	case orb.MultiPolygon:
		out := make([][][][2]float64, len(v))
		for i, poly := range v {
			out[i] = roundPolygon(poly)
		}
		return out
	case orb.Ring:
		return roundRing(v)
	default:
		return nil
	}
}

func roundPolygon(p orb.Polygon) [][][2]float64 {
	out := make([][][2]float64, len(p))
	for i, ring := range p {
		out[i] = roundRing(ring)
	}
	return out
}

func roundRing(r orb.Ring) [][2]float64 {
	out := make([][2]float64, len(r))
	for i, pt := range r {
		out[i] = roundCoord(pt)
	}
	return out
}

// CoordCount walks every ring of every polygon and totals the vertex tuples.
func CoordCount(g orb.Geometry) int {
	count := 0
	switch v := g.(type) {
	case orb.Polygon:
		for _, ring := range v {
			count += len(ring)
		}
	case orb.MultiPolygon:
		for _, poly := range v {
			for _, ring := range poly {
				count += len(ring)
			}
		}
	}
	return count
}

// ToMultiPolygon normalises a Polygon or MultiPolygon to a MultiPolygon so
// downstream code has a single shape to range over.
func ToMultiPolygon(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch v := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}, true
	case orb.MultiPolygon:
		return v, true
	default:
		return nil, false
	}
}

// ConfigOverrides is a recursive map of scalars and maps representing an
// admin's RUSLE parameter overrides. It is filtered against a schema,
// deep-merged over defaults, and hashed deterministically.
type ConfigOverrides map[string]interface{}

// SortedKeys returns the overrides' keys in ascending order, recursively
// stable regardless of Go's randomised map iteration order.
func SortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsEmpty reports whether overrides contain no usable keys.
func (c ConfigOverrides) IsEmpty() bool {
	return len(c) == 0
}
