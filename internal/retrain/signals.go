package retrain

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/PeterSoManLung/FindDinning/internal/analysis"
	"github.com/PeterSoManLung/FindDinning/internal/model"
)

const (
	minLatencyPoints = 5
	recentLatency    = 3
	minErrorPoints   = 3
	recentErrorRates = 2
	minDriftPoints   = 5
	recentDrift      = 3
)

// Reasons a metric could not be judged for drift.
const (
	DriftInsufficientData = "insufficient_data"
)

// GroupByType splits points by metric type, each group sorted by time.
func GroupByType(points []model.PerformancePoint) map[model.MetricType][]model.PerformancePoint {
	out := make(map[model.MetricType][]model.PerformancePoint)
	for _, p := range points {
		out[p.MetricType] = append(out[p.MetricType], p)
	}
	for k := range out {
		group := out[k]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })
	}
	return out
}

func values(points []model.PerformancePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// LatencyTrendOf compares the mean of the last three latency points with the
// mean of the rest. It needs at least five points.
func LatencyTrendOf(latency []model.PerformancePoint, p Policy) *LatencyTrend {
	if len(latency) < minLatencyPoints {
		return nil
	}
	vals := values(latency)
	split := len(vals) - recentLatency
	recent := stat.Mean(vals[split:], nil)
	historical := stat.Mean(vals[:split], nil)
	if historical <= 0 {
		return nil
	}
	inc := (recent - historical) / historical * 100
	return &LatencyTrend{
		RecentAvg:     recent,
		HistoricalAvg: historical,
		IncreasePct:   inc,
		Significant:   inc > p.LatencyIncreasePct,
	}
}

// ErrorRateTrendOf pairs 4XX counts with invocation counts by position and
// compares the mean of the last two rates with the mean of the rest. Periods
// with no invocations are skipped.
func ErrorRateTrendOf(errs, invocations []model.PerformancePoint, p Policy) *ErrorRateTrend {
	if len(errs) < minErrorPoints || len(invocations) < minErrorPoints {
		return nil
	}
	n := min(len(errs), len(invocations))
	var rates []float64
	for i := 0; i < n; i++ {
		if invocations[i].Value > 0 {
			rates = append(rates, errs[i].Value/invocations[i].Value*100)
		}
	}
	if len(rates) == 0 {
		return nil
	}

	var recent, historical float64
	if len(rates) >= recentErrorRates {
		recent = stat.Mean(rates[len(rates)-recentErrorRates:], nil)
	} else {
		recent = rates[len(rates)-1]
	}
	if len(rates) > recentErrorRates {
		historical = stat.Mean(rates[:len(rates)-recentErrorRates], nil)
	} else {
		historical = recent
	}
	return &ErrorRateTrend{
		RecentRate:     recent,
		HistoricalRate: historical,
		Significant:    recent > historical+p.ErrorRateDeltaPts,
	}
}

// CheckAge compares the deployment time of the live version with the policy
// maximum. A zero deployedAt means the registry had no record.
func CheckAge(deployedAt, now time.Time, p Policy) AgeCheck {
	c := AgeCheck{MaxAgeDays: p.MaxAgeDays}
	if deployedAt.IsZero() {
		return c
	}
	c.Known = true
	c.AgeDays = math.Floor(now.Sub(deployedAt).Hours()/24*10) / 10
	c.Exceeded = p.MaxAgeDays > 0 && c.AgeDays > float64(p.MaxAgeDays)
	return c
}

// MetricDrift compares the last three values of one metric with the rest.
type MetricDrift struct {
	Detected       bool        `json:"drift_detected"`
	Reason         string      `json:"reason,omitempty"`
	ChangePct      float64     `json:"change_percentage"`
	RecentMean     float64     `json:"recent_mean"`
	HistoricalMean float64     `json:"historical_mean"`
	StdDev         float64     `json:"standard_deviation"`
	DataPoints     int         `json:"data_points"`
	Trend          model.Trend `json:"trend,omitempty"`
}

// DriftOf judges one time-ordered series. It needs at least five values; a
// change beyond thresholdPct in either direction counts as drift.
func DriftOf(points []model.PerformancePoint, thresholdPct float64) MetricDrift {
	d := MetricDrift{DataPoints: len(points)}
	if len(points) < minDriftPoints {
		d.Reason = DriftInsufficientData
		return d
	}
	vals := values(points)
	split := len(vals) - recentDrift
	d.RecentMean = stat.Mean(vals[split:], nil)
	d.HistoricalMean = stat.Mean(vals[:split], nil)
	d.StdDev = stat.StdDev(vals, nil)
	if d.HistoricalMean != 0 {
		d.ChangePct = (d.RecentMean - d.HistoricalMean) / d.HistoricalMean * 100
	}
	d.Detected = math.Abs(d.ChangePct) > thresholdPct
	d.Trend = analysis.TrendOf(vals)
	return d
}

// DriftByMetric runs DriftOf for every metric type present in points.
func DriftByMetric(points []model.PerformancePoint, thresholdPct float64) map[model.MetricType]MetricDrift {
	out := make(map[model.MetricType]MetricDrift)
	for metric, group := range GroupByType(points) {
		out[metric] = DriftOf(group, thresholdPct)
	}
	return out
}

// FeatureDriftDetector reports input distribution shift for a model. No
// detector ships with the service; NoFeatureDrift is used until one does.
type FeatureDriftDetector interface {
	FeatureDrift(modelName string, points []model.PerformancePoint) bool
}

// NoFeatureDrift never reports feature drift.
type NoFeatureDrift struct{}

// FeatureDrift implements FeatureDriftDetector.
func (NoFeatureDrift) FeatureDrift(string, []model.PerformancePoint) bool { return false }

// PredictionDriftDetector reports a shift in a model's output distribution.
// Endpoint latency and traffic say nothing about predictions, so no detector
// ships with the service; NoPredictionDrift is used until one does.
type PredictionDriftDetector interface {
	PredictionDrift(modelName string, points []model.PerformancePoint) bool
}

// NoPredictionDrift never reports prediction drift.
type NoPredictionDrift struct{}

// PredictionDrift implements PredictionDriftDetector.
func (NoPredictionDrift) PredictionDrift(string, []model.PerformancePoint) bool { return false }

// PerformanceSignals derives the latency and error-rate signals from a
// window of points. Drift comes from the detectors, not from endpoint metrics.
func PerformanceSignals(points []model.PerformancePoint, p Policy) Signals {
	byType := GroupByType(points)
	return Signals{
		Latency:   LatencyTrendOf(byType[model.MetricLatency], p),
		ErrorRate: ErrorRateTrendOf(byType[model.Metric4XXErrors], byType[model.MetricInvocations], p),
	}
}
