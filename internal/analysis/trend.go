package analysis

import (
	"gonum.org/v1/gonum/stat"

	"github.com/PeterSoManLung/FindDinning/internal/model"
)

// trendSlope is the per-sample slope beyond which a series counts as moving.
const trendSlope = 0.1

// Slope fits a least-squares line through values indexed 0..n-1 and returns
// its slope. Fewer than two values yield 0.
func Slope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, beta := stat.LinearRegression(xs, values, nil, false)
	return beta
}

// TrendOf classifies a time-ordered series as increasing, decreasing or stable.
func TrendOf(values []float64) model.Trend {
	if len(values) < 2 {
		return model.TrendInsufficient
	}
	switch s := Slope(values); {
	case s > trendSlope:
		return model.TrendIncreasing
	case s < -trendSlope:
		return model.TrendDecreasing
	default:
		return model.TrendStable
	}
}
