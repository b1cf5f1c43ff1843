package rusleconfig_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilloss/rusle-pipeline/internal/config"
	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/rusleconfig"
)

func testRusleConfig() config.RusleConfig {
	return config.RusleConfig{
		RErosivityCoefficient: 0.0483,
		RErosivityExponent:    1.61,
		KFactor: config.KFactorConfig{
			ClayCoeff:          0.2,
			SiltCoeff:          0.3,
			SandCoeff:          0.25,
			OrganicCarbonCoeff: 0.0256,
			StructureCode:      2,
			PermeabilityClass:  3,
			ClampMin:           0.01,
			ClampMax:           0.7,
		},
	}
}

func TestHash_EmptyOverridesReturnsSentinel(t *testing.T) {
	r := rusleconfig.NewResolver(testRusleConfig(), nil)

	hash := r.Hash(domain.ConfigOverrides{}, "v1")
	assert.Equal(t, domain.DefaultConfigHash, hash)
}

func TestHash_UnknownKeysAreFilteredToSentinel(t *testing.T) {
	r := rusleconfig.NewResolver(testRusleConfig(), nil)

	hash := r.Hash(domain.ConfigOverrides{"not_a_real_key": 42}, "v1")
	assert.Equal(t, domain.DefaultConfigHash, hash)
}

func TestHash_DeterministicAcrossKeyOrder(t *testing.T) {
	r := rusleconfig.NewResolver(testRusleConfig(), nil)

	a := domain.ConfigOverrides{
		"r_factor": map[string]interface{}{"coefficient": 0.05, "exponent": 1.7},
	}
	b := domain.ConfigOverrides{
		"r_factor": map[string]interface{}{"exponent": 1.7, "coefficient": 0.05},
	}

	hashA := r.Hash(a, "v1")
	hashB := r.Hash(b, "v1")
	assert.Equal(t, hashA, hashB)
	assert.NotEqual(t, domain.DefaultConfigHash, hashA)
}

func TestHash_DifferentOverridesProduceDifferentHashes(t *testing.T) {
	r := rusleconfig.NewResolver(testRusleConfig(), nil)

	a := domain.ConfigOverrides{"r_factor": map[string]interface{}{"coefficient": 0.05}}
	b := domain.ConfigOverrides{"r_factor": map[string]interface{}{"coefficient": 0.06}}

	require.NotEqual(t, r.Hash(a, "v1"), r.Hash(b, "v1"))
}

func TestEffective_MergesOverOneFactorOnly(t *testing.T) {
	r := rusleconfig.NewResolver(testRusleConfig(), nil)

	eff := r.Effective(domain.ConfigOverrides{
		"k_factor": map[string]interface{}{"clamp_max": 0.9},
	})

	kFactor := eff["k_factor"].(map[string]interface{})
	assert.Equal(t, 0.9, kFactor["clamp_max"])
	assert.Equal(t, 0.01, kFactor["clamp_min"])

	rFactor := eff["r_factor"].(map[string]interface{})
	assert.Equal(t, 0.0483, rFactor["coefficient"])
}

func TestFilter_DropsUnknownLeafUnderKnownFactor(t *testing.T) {
	r := rusleconfig.NewResolver(testRusleConfig(), nil)

	filtered := r.Filter(domain.ConfigOverrides{
		"k_factor": map[string]interface{}{"clamp_max": 0.9, "bogus": "x"},
	})

	kFactor := filtered["k_factor"].(map[string]interface{})
	assert.Equal(t, 0.9, kFactor["clamp_max"])
	_, present := kFactor["bogus"]
	assert.False(t, present)
}
