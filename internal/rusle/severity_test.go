package rusle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soilloss/rusle-pipeline/internal/rusle"
)

func TestSeverityDistribution_SumsToHundredPercent(t *testing.T) {
	bands := rusle.SeverityDistribution(20, 10, 100)

	sum := 0.0
	for _, b := range bands {
		sum += b.Percentage
	}
	assert.InDelta(t, 100, sum, 0.5)
	assert.Len(t, bands, 5)
	assert.Equal(t, "Very Low", string(bands[0].Class))
	assert.Equal(t, "Excessive", string(bands[4].Class))
}

func TestSeverityDistribution_AreaScalesWithTotalArea(t *testing.T) {
	small := rusle.SeverityDistribution(20, 10, 50)
	large := rusle.SeverityDistribution(20, 10, 100)

	for i := range small {
		assert.InDelta(t, small[i].Area*2, large[i].Area, 1e-6)
	}
}
