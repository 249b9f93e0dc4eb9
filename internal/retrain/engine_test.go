package retrain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/PeterSoManLung/FindDinning/internal/model"
)

func TestEvaluate_NothingFired(t *testing.T) {
	d := Evaluate("sentiment", Signals{}, DefaultPolicies().For("sentiment"))
	assert.False(t, d.ShouldRetrain)
	assert.False(t, d.AutoRetrain)
	assert.Zero(t, d.Confidence)
	assert.Equal(t, "No retraining needed", d.Reason)
	assert.Empty(t, d.Reasons)
}

func TestEvaluate_LatencyOnly(t *testing.T) {
	s := Signals{Latency: &LatencyTrend{Significant: true}}
	d := Evaluate("sentiment", s, DefaultPolicies().For("sentiment"))

	assert.True(t, d.ShouldRetrain)
	assert.False(t, d.AutoRetrain)
	assert.Equal(t, 0.3, d.Confidence)
	assert.Equal(t, "Significant latency degradation detected", d.Reason)
}

func TestEvaluate_LatencyAndErrorRate(t *testing.T) {
	s := Signals{
		Latency:   &LatencyTrend{Significant: true},
		ErrorRate: &ErrorRateTrend{Significant: true},
	}
	d := Evaluate("recommendation", s, DefaultPolicies().For("recommendation"))

	assert.True(t, d.ShouldRetrain)
	assert.True(t, d.AutoRetrain)
	assert.Equal(t, 0.7, d.Confidence)
	assert.Equal(t, "Significant latency degradation detected; Significant error rate increase detected", d.Reason)
}

func TestEvaluate_ConfidenceClamped(t *testing.T) {
	s := Signals{
		Latency:   &LatencyTrend{Significant: true},
		ErrorRate: &ErrorRateTrend{Significant: true},
		Drift:     DriftSignals{FeatureDrift: true, PredictionDrift: true},
		Age:       AgeCheck{Known: true, Exceeded: true},
	}
	d := Evaluate("recommendation", s, DefaultPolicy())

	assert.Equal(t, 1.0, d.Confidence)
	assert.True(t, d.AutoRetrain)
	assert.Len(t, d.Reasons, 5)
}

func TestEvaluate_AgeForcesAutoRetrain(t *testing.T) {
	d := Evaluate("sentiment", Signals{Age: AgeCheck{Known: true, Exceeded: true}}, DefaultPolicy())
	assert.True(t, d.ShouldRetrain)
	assert.True(t, d.AutoRetrain)
	assert.Equal(t, 0.2, d.Confidence)
}

func TestEvaluate_InsignificantTrendsIgnored(t *testing.T) {
	s := Signals{
		Latency:   &LatencyTrend{IncreasePct: 10},
		ErrorRate: &ErrorRateTrend{RecentRate: 1, HistoricalRate: 0.5},
	}
	d := Evaluate("recommendation", s, DefaultPolicy())
	assert.False(t, d.ShouldRetrain)
	assert.Zero(t, d.Confidence)
}

func TestEvaluate_FloorIsIndependentCheck(t *testing.T) {
	// A condition with zero weight still requests a retrain.
	p := DefaultPolicy()
	p.Weights.Latency = 0
	d := Evaluate("custom", Signals{Latency: &LatencyTrend{Significant: true}}, p)
	assert.True(t, d.ShouldRetrain)
	assert.Zero(t, d.Confidence)

	p = DefaultPolicy()
	p.ConfidenceFloor = 0.2
	d = Evaluate("custom", Signals{Age: AgeCheck{Exceeded: true}}, p)
	assert.True(t, d.ShouldRetrain)
}

func TestNoData(t *testing.T) {
	d := NoData("recommendation")
	assert.False(t, d.ShouldRetrain)
	assert.False(t, d.AutoRetrain)
	assert.Zero(t, d.Confidence)
	assert.Equal(t, NoDataReason, d.Reason)
}

func pts(metric model.MetricType, start time.Time, vals ...float64) []model.PerformancePoint {
	out := make([]model.PerformancePoint, len(vals))
	for i, v := range vals {
		out[i] = model.PerformancePoint{
			Model:      "recommendation",
			MetricType: metric,
			Value:      v,
			Timestamp:  start.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestLatencyTrendOf(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p := DefaultPolicy()

	assert.Nil(t, LatencyTrendOf(pts(model.MetricLatency, start, 1, 2, 3, 4), p))

	tr := LatencyTrendOf(pts(model.MetricLatency, start, 100, 100, 130, 130, 130), p)
	if assert.NotNil(t, tr) {
		assert.InDelta(t, 130, tr.RecentAvg, 1e-9)
		assert.InDelta(t, 100, tr.HistoricalAvg, 1e-9)
		assert.InDelta(t, 30, tr.IncreasePct, 1e-9)
		assert.True(t, tr.Significant)
	}

	tr = LatencyTrendOf(pts(model.MetricLatency, start, 100, 100, 120, 120, 120), p)
	if assert.NotNil(t, tr) {
		assert.False(t, tr.Significant)
	}
}

func TestLatencyTrendOf_SortsByTime(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	points := pts(model.MetricLatency, start, 100, 100, 200, 200, 200)
	shuffled := []model.PerformancePoint{points[3], points[0], points[4], points[1], points[2]}

	s := PerformanceSignals(shuffled, DefaultPolicy())
	if assert.NotNil(t, s.Latency) {
		assert.True(t, s.Latency.Significant)
		assert.InDelta(t, 200, s.Latency.RecentAvg, 1e-9)
	}
}

func TestErrorRateTrendOf(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p := DefaultPolicy()

	errs := pts(model.Metric4XXErrors, start, 1, 1, 5, 5)
	inv := pts(model.MetricInvocations, start, 100, 100, 100, 100)
	tr := ErrorRateTrendOf(errs, inv, p)
	if assert.NotNil(t, tr) {
		assert.InDelta(t, 5, tr.RecentRate, 1e-9)
		assert.InDelta(t, 1, tr.HistoricalRate, 1e-9)
		assert.True(t, tr.Significant)
	}

	// Exactly +2 points is not enough.
	errs = pts(model.Metric4XXErrors, start, 1, 1, 3, 3)
	tr = ErrorRateTrendOf(errs, inv, p)
	if assert.NotNil(t, tr) {
		assert.False(t, tr.Significant)
	}

	assert.Nil(t, ErrorRateTrendOf(errs[:2], inv, p))
	assert.Nil(t, ErrorRateTrendOf(errs, pts(model.MetricInvocations, start, 0, 0, 0), p))
}

func TestCheckAge(t *testing.T) {
	now := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	p := DefaultPolicy()

	c := CheckAge(time.Time{}, now, p)
	assert.False(t, c.Known)
	assert.False(t, c.Exceeded)

	c = CheckAge(now.Add(-15*24*time.Hour), now, p)
	assert.True(t, c.Known)
	assert.InDelta(t, 15, c.AgeDays, 1e-9)
	assert.False(t, c.Exceeded)

	c = CheckAge(now.Add(-31*24*time.Hour), now, p)
	assert.True(t, c.Exceeded)
}
