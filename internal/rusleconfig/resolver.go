// Package rusleconfig implements the configuration resolver (C9): it merges
// admin override dictionaries over the parameter defaults and produces a
// deterministic hash so equivalent configurations collapse onto the same
// fingerprint.
package rusleconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/soilloss/rusle-pipeline/internal/config"
	"github.com/soilloss/rusle-pipeline/internal/domain"
)

// Schema is the set of override keys recognised at each nesting level.
// Filter walks it alongside the supplied overrides, dropping anything not
// present here - this is intentionally a simple allow-list rather than a
// full JSON Schema document, since the override tree itself is small and
// fixed (R/K/LS/C/P sub-dictionaries).
type Schema map[string]interface{}

// DefaultSchema enumerates every overridable leaf across the five factors.
func DefaultSchema() Schema {
	return Schema{
		"r_factor": Schema{
			"coefficient": nil,
			"exponent":    nil,
		},
		"k_factor": Schema{
			"clay_coeff":          nil,
			"silt_coeff":          nil,
			"sand_coeff":          nil,
			"organic_carbon_coeff": nil,
			"structure_code":      nil,
			"permeability_class":  nil,
			"clamp_min":           nil,
			"clamp_max":           nil,
		},
		"ls_factor": Schema{
			"slope_break_degrees": nil,
		},
		"c_factor": Schema{
			"clamp_min": nil,
			"clamp_max": nil,
		},
		"p_factor": Schema{
			"lookup": nil,
		},
	}
}

// UserOverrides is what a persistence layer (out of scope here, per
// spec.md §1's exclusions) would hand back for a given admin user.
type UserOverrides struct {
	Overrides       domain.ConfigOverrides
	DefaultsVersion string
}

// Resolver merges RusleConfig defaults with admin overrides.
type Resolver struct {
	cfg    config.RusleConfig
	schema Schema
}

func NewResolver(cfg config.RusleConfig, schema Schema) *Resolver {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &Resolver{cfg: cfg, schema: schema}
}

// DefaultsVersion is the version tag stamped onto hashes and metadata so a
// later change to the default parameter tree doesn't collide with fingerprints
// computed under the old one.
func (r *Resolver) DefaultsVersion() string {
	return r.cfg.DefaultsVersion
}

// Defaults returns the full parameter tree as a plain map, matching the
// shape overrides are expressed in.
func (r *Resolver) Defaults() domain.ConfigOverrides {
	return domain.ConfigOverrides{
		"r_factor": map[string]interface{}{
			"coefficient": r.cfg.RErosivityCoefficient,
			"exponent":    r.cfg.RErosivityExponent,
		},
		"k_factor": map[string]interface{}{
			"clay_coeff":           r.cfg.KFactor.ClayCoeff,
			"silt_coeff":           r.cfg.KFactor.SiltCoeff,
			"sand_coeff":           r.cfg.KFactor.SandCoeff,
			"organic_carbon_coeff": r.cfg.KFactor.OrganicCarbonCoeff,
			"structure_code":       r.cfg.KFactor.StructureCode,
			"permeability_class":   r.cfg.KFactor.PermeabilityClass,
			"clamp_min":            r.cfg.KFactor.ClampMin,
			"clamp_max":            r.cfg.KFactor.ClampMax,
		},
		"ls_factor": map[string]interface{}{
			"slope_break_degrees": 9.0,
		},
		"c_factor": map[string]interface{}{
			"clamp_min": 0.001,
			"clamp_max": 1.0,
		},
		"p_factor": map[string]interface{}{
			"lookup": "default",
		},
	}
}

// UserConfig returns the persisted overrides for a given admin user. This
// core treats persistence as external (per spec.md's exclusions); callers
// without a store wire in a no-op provider that always returns empty.
type UserConfigProvider interface {
	UserConfig(userID int64) (UserOverrides, error)
}

// Filter removes keys not present in the schema at every nesting level,
// recursing into nested maps. Unknown top-level or nested keys are dropped
// silently; empty or fully-unknown input collapses to an empty map.
func (r *Resolver) Filter(overrides domain.ConfigOverrides) domain.ConfigOverrides {
	return filterLevel(overrides, r.schema)
}

func filterLevel(overrides map[string]interface{}, schema Schema) domain.ConfigOverrides {
	if len(overrides) == 0 {
		return domain.ConfigOverrides{}
	}
	out := domain.ConfigOverrides{}
	for key, val := range overrides {
		schemaVal, known := schema[key]
		if !known {
			continue
		}
		if nestedSchema, ok := schemaVal.(Schema); ok {
			if nestedVal, ok := val.(map[string]interface{}); ok {
				filtered := filterLevel(nestedVal, nestedSchema)
				if len(filtered) > 0 {
					out[key] = map[string]interface{}(filtered)
				}
				continue
			}
			continue
		}
		out[key] = val
	}
	return out
}

// Effective deep-merges filtered overrides over Defaults().
func (r *Resolver) Effective(overrides domain.ConfigOverrides) domain.ConfigOverrides {
	filtered := r.Filter(overrides)
	defaults := r.Defaults()
	return deepMerge(defaults, filtered)
}

func deepMerge(base, overlay map[string]interface{}) domain.ConfigOverrides {
	merged := make(map[string]interface{}, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		if overlayMap, ok := v.(map[string]interface{}); ok {
			if baseMap, ok := merged[k].(map[string]interface{}); ok {
				merged[k] = map[string]interface{}(deepMerge(baseMap, overlayMap))
				continue
			}
		}
		merged[k] = v
	}
	return domain.ConfigOverrides(merged)
}

// Hash computes sha256(json({version, overrides})) with every map level
// key-sorted recursively, returning the DefaultConfigHash sentinel when the
// filtered overrides are empty.
func (r *Resolver) Hash(overrides domain.ConfigOverrides, defaultsVersion string) string {
	filtered := r.Filter(overrides)
	if filtered.IsEmpty() {
		return domain.DefaultConfigHash
	}

	sorted := sortRecursively(map[string]interface{}(filtered))
	payload := struct {
		Version   string      `json:"version"`
		Overrides interface{} `json:"overrides"`
	}{Version: defaultsVersion, Overrides: sorted}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return domain.DefaultConfigHash
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// sortRecursively rebuilds nested maps as ordered key/value slices so the
// JSON encoding is deterministic across Go's randomised map iteration.
func sortRecursively(m map[string]interface{}) []keyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]keyValue, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		if nested, ok := v.(map[string]interface{}); ok {
			out = append(out, keyValue{Key: k, Value: sortRecursively(nested)})
			continue
		}
		out = append(out, keyValue{Key: k, Value: v})
	}
	return out
}

type keyValue struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}
