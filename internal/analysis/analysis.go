// Package analysis compares experiment variants and recommends a rollout action.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Options tunes the significance rule.
type Options struct {
	// MinSamples is the per-variant sample count required before a result counts.
	MinSamples int `yaml:"min_samples" mapstructure:"min_samples"`
	// EffectThresholdPct is the smallest absolute relative change that matters.
	EffectThresholdPct float64 `yaml:"effect_threshold_pct" mapstructure:"effect_threshold_pct"`
}

// DefaultOptions returns the conventional 30-sample, 5% thresholds.
func DefaultOptions() Options {
	return Options{MinSamples: 30, EffectThresholdPct: 5}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinSamples <= 0 {
		o.MinSamples = d.MinSamples
	}
	if o.EffectThresholdPct <= 0 {
		o.EffectThresholdPct = d.EffectThresholdPct
	}
	return o
}

// Summary holds descriptive statistics for one variant's sample.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// Describe summarizes a sample. An empty sample yields all zeros.
func Describe(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	s := Summary{
		Count: len(values),
		Mean:  stat.Mean(values, nil),
		Min:   floats.Min(values),
		Max:   floats.Max(values),
	}
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}
	return s
}

// MetricAnalysis is the control/treatment comparison for a single metric.
type MetricAnalysis struct {
	Metric               string  `json:"metric"`
	Control              Summary `json:"control"`
	Treatment            Summary `json:"treatment"`
	ImprovementPct       float64 `json:"improvement_percentage"`
	SampleSizeAdequate   bool    `json:"sample_size_adequate"`
	EffectSizeMeaningful bool    `json:"effect_size_meaningful"`
	IsSignificant        bool    `json:"is_significant"`

	// Welch's t-test, reported alongside the threshold rule. It does not feed
	// IsSignificant.
	WelchT      float64 `json:"welch_t,omitempty"`
	WelchPValue float64 `json:"welch_p_value,omitempty"`
}

// Analyze compares a control and a treatment sample for one metric.
// Sample order does not affect the result.
func Analyze(metric string, control, treatment []float64, opts Options) MetricAnalysis {
	opts = opts.withDefaults()

	a := MetricAnalysis{
		Metric:    metric,
		Control:   Describe(control),
		Treatment: Describe(treatment),
	}
	if a.Control.Count == 0 || a.Treatment.Count == 0 {
		return a
	}

	if a.Control.Mean != 0 {
		a.ImprovementPct = (a.Treatment.Mean - a.Control.Mean) / a.Control.Mean * 100
	}
	a.SampleSizeAdequate = a.Control.Count >= opts.MinSamples && a.Treatment.Count >= opts.MinSamples
	a.EffectSizeMeaningful = math.Abs(a.ImprovementPct) >= opts.EffectThresholdPct
	a.IsSignificant = a.SampleSizeAdequate && a.EffectSizeMeaningful

	a.WelchT, a.WelchPValue = welch(control, treatment)
	return a
}

// welch returns Welch's t statistic and two-sided p-value. Degenerate inputs
// (fewer than two values per side, or zero variance) yield zeros.
func welch(control, treatment []float64) (float64, float64) {
	if len(control) < 2 || len(treatment) < 2 {
		return 0, 0
	}
	n1, n2 := float64(len(control)), float64(len(treatment))
	v1 := stat.Variance(control, nil) / n1
	v2 := stat.Variance(treatment, nil) / n2
	se := math.Sqrt(v1 + v2)
	if se == 0 {
		return 0, 0
	}
	t := (stat.Mean(treatment, nil) - stat.Mean(control, nil)) / se
	df := (v1 + v2) * (v1 + v2) / (v1*v1/(n1-1) + v2*v2/(n2-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	return t, p
}
