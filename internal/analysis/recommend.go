package analysis

import (
	"fmt"
)

// Action is the rollout decision for an experiment.
type Action string

const (
	ActionDeployTreatment Action = "deploy_treatment"
	ActionDeployControl   Action = "deploy_control"
	ActionExtendTest      Action = "extend_test"
	ActionContinue        Action = "continue"
)

// Confidence grades how strongly the data supports an Action.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Recommendation is the outcome of applying the decision rule to all metrics.
type Recommendation struct {
	Action     Action     `json:"action"`
	Confidence Confidence `json:"confidence"`
	Reasons    []string   `json:"reasons"`
	NextSteps  []string   `json:"next_steps"`
}

// Recommend applies the rollout rule across every analyzed metric. Any
// significant degradation wins over improvements elsewhere. No metrics at all
// is treated as insufficient data.
func Recommend(metrics []MetricAnalysis) Recommendation {
	rec := Recommendation{Reasons: []string{}, NextSteps: []string{}}

	var improved, degraded, undersampled int
	for _, m := range metrics {
		switch {
		case m.IsSignificant && m.ImprovementPct > 0:
			improved++
			rec.Reasons = append(rec.Reasons, fmt.Sprintf("Significant improvement in %s: %.1f%%", m.Metric, m.ImprovementPct))
		case m.IsSignificant:
			degraded++
			rec.Reasons = append(rec.Reasons, fmt.Sprintf("Significant degradation in %s: %.1f%%", m.Metric, m.ImprovementPct))
		case !m.SampleSizeAdequate:
			undersampled++
			rec.Reasons = append(rec.Reasons, fmt.Sprintf("Insufficient sample size for %s", m.Metric))
		}
	}

	switch {
	case degraded > 0:
		rec.Action, rec.Confidence = ActionDeployControl, ConfidenceHigh
		rec.NextSteps = append(rec.NextSteps, "Keep control version, treatment shows degradation")
	case improved > 0:
		rec.Action, rec.Confidence = ActionDeployTreatment, ConfidenceHigh
		rec.NextSteps = append(rec.NextSteps, "Deploy treatment version to production")
	case undersampled > 0 || len(metrics) == 0:
		rec.Action, rec.Confidence = ActionExtendTest, ConfidenceLow
		rec.NextSteps = append(rec.NextSteps, "Extend test duration to gather more data")
	default:
		rec.Action, rec.Confidence = ActionContinue, ConfidenceMedium
		rec.NextSteps = append(rec.NextSteps, "Continue monitoring, no clear winner yet")
	}
	return rec
}
