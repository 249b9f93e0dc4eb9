package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PeterSoManLung/FindDinning/internal/model"
)

func TestSlope(t *testing.T) {
	assert.InDelta(t, 2, Slope([]float64{1, 3, 5, 7}), 1e-9)
	assert.InDelta(t, 0, Slope([]float64{4, 4, 4}), 1e-9)
	assert.Zero(t, Slope([]float64{9}))
}

func TestTrendOf(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   model.Trend
	}{
		{"single", []float64{1}, model.TrendInsufficient},
		{"rising", []float64{100, 120, 150, 180}, model.TrendIncreasing},
		{"falling", []float64{50, 40, 30}, model.TrendDecreasing},
		{"flat", []float64{10, 10, 10, 10}, model.TrendStable},
		{"small wobble", []float64{10, 10.05, 10.1}, model.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrendOf(tt.values))
		})
	}
}
