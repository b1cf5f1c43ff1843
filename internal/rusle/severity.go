package rusle

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/soilloss/rusle-pipeline/internal/domain"
)

// SeverityDistribution computes the class breakdown under a normal-
// distribution assumption over the fixed boundaries, with each class area
// the class probability multiplied by the geodesic area (P8). The lowest
// class also takes the probability mass below its lower boundary, so the
// five percentages sum to 100.
func SeverityDistribution(mean, stdDev, areaKM2 float64) []domain.SeverityBand {
	if stdDev <= 0 {
		stdDev = 1e-9
	}
	dist := distuv.Normal{Mu: mean, Sigma: stdDev}

	boundaries := domain.SeverityBoundaries
	bands := make([]domain.SeverityBand, len(boundaries)-1)

	for i := 0; i < len(boundaries)-1; i++ {
		lowerCDF := cdfAt(dist, boundaries[i])
		if i == 0 {
			lowerCDF = 0
		}
		upperCDF := cdfAt(dist, boundaries[i+1])
		probability := upperCDF - lowerCDF
		if probability < 0 {
			probability = 0
		}

		bands[i] = domain.SeverityBand{
			Class:      domain.SeverityNames[i],
			Percentage: probability * 100,
			Area:       probability * areaKM2,
		}
	}

	return bands
}

func cdfAt(dist distuv.Normal, boundary float64) float64 {
	if math.IsInf(boundary, 1) {
		return 1
	}
	if math.IsInf(boundary, -1) {
		return 0
	}
	return dist.CDF(boundary)
}
