// Package retrain decides when hosted models need retraining and starts the jobs.
package retrain

import (
	"math"
	"strings"
)

// NoDataReason is reported when the metrics window is empty.
const NoDataReason = "No recent performance data available"

// LatencyTrend compares recent latency with the earlier part of the window.
type LatencyTrend struct {
	RecentAvg     float64 `json:"recent_avg"`
	HistoricalAvg float64 `json:"historical_avg"`
	IncreasePct   float64 `json:"increase_percentage"`
	Significant   bool    `json:"is_significant"`
}

// ErrorRateTrend compares recent client error rates with earlier ones.
type ErrorRateTrend struct {
	RecentRate     float64 `json:"recent_error_rate"`
	HistoricalRate float64 `json:"historical_error_rate"`
	Significant    bool    `json:"is_significant"`
}

// DriftSignals reports distribution shift in a model's inputs or outputs.
type DriftSignals struct {
	FeatureDrift    bool `json:"feature_drift_detected"`
	PredictionDrift bool `json:"prediction_drift_detected"`
}

// AgeCheck reports how long the current model version has been deployed.
// Known is false when the registry has no deployment for the model.
type AgeCheck struct {
	Known      bool    `json:"known"`
	AgeDays    float64 `json:"model_age_days"`
	MaxAgeDays int     `json:"max_age_days"`
	Exceeded   bool    `json:"age_based_retraining_needed"`
}

// Signals is the evidence gathered for a single model. Nil trends mean the
// window held too few points to judge.
type Signals struct {
	Latency   *LatencyTrend   `json:"latency_degradation,omitempty"`
	ErrorRate *ErrorRateTrend `json:"error_rate_degradation,omitempty"`
	Drift     DriftSignals    `json:"drift"`
	Age       AgeCheck        `json:"age"`
}

// Decision is the result of evaluating a model's signals.
type Decision struct {
	Model         string   `json:"model_name"`
	ShouldRetrain bool     `json:"should_retrain"`
	AutoRetrain   bool     `json:"auto_retrain"`
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons"`
	Reason        string   `json:"reason"`
	Signals       Signals  `json:"analysis"`
}

// NoData is the conservative decision returned when there is nothing to evaluate.
func NoData(model string) Decision {
	return Decision{
		Model:   model,
		Reasons: []string{},
		Reason:  NoDataReason,
	}
}

// Evaluate accumulates weighted evidence into a retraining decision.
// Error-rate and age conditions also request an automatic retrain. The
// policy's confidence floor is a separate check that can force a retrain.
func Evaluate(model string, s Signals, p Policy) Decision {
	d := Decision{Model: model, Reasons: []string{}, Signals: s}

	fire := func(weight float64, reason string, auto bool) {
		d.Reasons = append(d.Reasons, reason)
		d.Confidence += weight
		d.ShouldRetrain = true
		if auto {
			d.AutoRetrain = true
		}
	}

	if s.Latency != nil && s.Latency.Significant {
		fire(p.Weights.Latency, "Significant latency degradation detected", false)
	}
	if s.ErrorRate != nil && s.ErrorRate.Significant {
		fire(p.Weights.ErrorRate, "Significant error rate increase detected", true)
	}
	if s.Drift.FeatureDrift {
		fire(p.Weights.FeatureDrift, "Feature drift detected", false)
	}
	if s.Drift.PredictionDrift {
		fire(p.Weights.PredictionDrift, "Prediction drift detected", false)
	}
	if s.Age.Exceeded {
		fire(p.Weights.Age, "Model age exceeds maximum threshold", true)
	}

	if p.ConfidenceFloor > 0 && d.Confidence >= p.ConfidenceFloor {
		d.ShouldRetrain = true
	}

	d.Confidence = math.Min(round2(d.Confidence), 1.0)
	if len(d.Reasons) == 0 {
		d.Reason = "No retraining needed"
	} else {
		d.Reason = strings.Join(d.Reasons, "; ")
	}
	return d
}

// round2 trims float accumulation noise so 0.3+0.4 reads as 0.7.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
