package retrain

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/PeterSoManLung/FindDinning/internal/config"
)

// Weights is the confidence each fired condition contributes.
type Weights struct {
	Latency         float64 `yaml:"latency" mapstructure:"latency"`
	ErrorRate       float64 `yaml:"error_rate" mapstructure:"error_rate"`
	FeatureDrift    float64 `yaml:"feature_drift" mapstructure:"feature_drift"`
	PredictionDrift float64 `yaml:"prediction_drift" mapstructure:"prediction_drift"`
	Age             float64 `yaml:"age" mapstructure:"age"`
}

// Policy holds the thresholds used to turn raw metrics into a decision for one model.
type Policy struct {
	Weights Weights `yaml:"weights" mapstructure:"weights"`

	// ConfidenceFloor forces a retrain once accumulated confidence reaches it.
	ConfidenceFloor float64 `yaml:"confidence_floor" mapstructure:"confidence_floor"`

	LatencyIncreasePct float64 `yaml:"latency_increase_pct" mapstructure:"latency_increase_pct"`
	ErrorRateDeltaPts  float64 `yaml:"error_rate_delta_pts" mapstructure:"error_rate_delta_pts"`
	MaxAgeDays         int     `yaml:"max_age_days" mapstructure:"max_age_days"`
	WindowDays         int     `yaml:"window_days" mapstructure:"window_days"`
}

// DefaultPolicy returns the generic policy used for models without overrides.
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			Latency:         0.3,
			ErrorRate:       0.4,
			FeatureDrift:    0.3,
			PredictionDrift: 0.3,
			Age:             0.2,
		},
		ConfidenceFloor:    0.5,
		LatencyIncreasePct: 25,
		ErrorRateDeltaPts:  2,
		MaxAgeDays:         30,
		WindowDays:         7,
	}
}

// Policies maps model names to their policy, falling back to Default.
type Policies struct {
	Default Policy            `yaml:"defaults"`
	Models  map[string]Policy `yaml:"models"`
}

// DefaultPolicies returns the built-in policies: recommendation models react at
// a lower confidence than sentiment models.
func DefaultPolicies() *Policies {
	rec := DefaultPolicy()
	rec.ConfidenceFloor = 0.3
	sent := DefaultPolicy()
	sent.ConfidenceFloor = 0.5
	return &Policies{
		Default: DefaultPolicy(),
		Models: map[string]Policy{
			"recommendation": rec,
			"sentiment":      sent,
		},
	}
}

// For returns the policy for a model.
func (p *Policies) For(model string) Policy {
	if pol, ok := p.Models[model]; ok {
		return pol
	}
	return p.Default
}

// LoadPolicies reads per-model policies from a YAML file with a top-level
// "retraining" key. Zero-valued fields in a model entry inherit the defaults.
func LoadPolicies(path string) (*Policies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "retrain: read policies %s", path)
	}

	var wrapper struct {
		Retraining Policies `yaml:"retraining"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "retrain: parse policies")
	}

	ps := &wrapper.Retraining
	ps.Default = mergePolicy(ps.Default, DefaultPolicy())
	for name, pol := range ps.Models {
		ps.Models[name] = mergePolicy(pol, ps.Default)
	}
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return ps, nil
}

// PoliciesFromConfig builds policies from the retraining config. A policy
// file, when set, takes precedence over the inline thresholds.
func PoliciesFromConfig(cfg config.RetrainingConfig) (*Policies, error) {
	if cfg.PolicyFile != "" {
		return LoadPolicies(cfg.PolicyFile)
	}

	base := mergePolicy(Policy{
		ConfidenceFloor:    cfg.ConfidenceFloor,
		LatencyIncreasePct: cfg.LatencyIncreasePct,
		ErrorRateDeltaPts:  cfg.ErrorRateDeltaPts,
		MaxAgeDays:         cfg.MaxAgeDays,
		WindowDays:         cfg.WindowDays,
	}, DefaultPolicy())

	ps := &Policies{Default: base, Models: make(map[string]Policy, len(cfg.Floors))}
	for name, floor := range cfg.Floors {
		pol := base
		pol.ConfidenceFloor = floor
		ps.Models[name] = pol
	}
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return ps, nil
}

func mergePolicy(p, base Policy) Policy {
	if p.Weights == (Weights{}) {
		p.Weights = base.Weights
	}
	if p.ConfidenceFloor == 0 {
		p.ConfidenceFloor = base.ConfidenceFloor
	}
	if p.LatencyIncreasePct == 0 {
		p.LatencyIncreasePct = base.LatencyIncreasePct
	}
	if p.ErrorRateDeltaPts == 0 {
		p.ErrorRateDeltaPts = base.ErrorRateDeltaPts
	}
	if p.MaxAgeDays == 0 {
		p.MaxAgeDays = base.MaxAgeDays
	}
	if p.WindowDays == 0 {
		p.WindowDays = base.WindowDays
	}
	return p
}

// Validate checks every policy for negative weights and out-of-range floors.
func (p *Policies) Validate() error {
	var errs []string
	errs = append(errs, validatePolicy("defaults", p.Default)...)
	for name, pol := range p.Models {
		errs = append(errs, validatePolicy(name, pol)...)
	}
	if len(errs) > 0 {
		return eris.Errorf("retrain: policy validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePolicy(name string, p Policy) []string {
	var errs []string
	weights := map[string]float64{
		"latency":          p.Weights.Latency,
		"error_rate":       p.Weights.ErrorRate,
		"feature_drift":    p.Weights.FeatureDrift,
		"prediction_drift": p.Weights.PredictionDrift,
		"age":              p.Weights.Age,
	}
	for w, v := range weights {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s: weight %s must be >= 0", name, w))
		}
	}
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Sprintf("%s: confidence_floor must be between 0 and 1", name))
	}
	if p.MaxAgeDays < 0 {
		errs = append(errs, fmt.Sprintf("%s: max_age_days must be >= 0", name))
	}
	if p.WindowDays < 0 {
		errs = append(errs, fmt.Sprintf("%s: window_days must be >= 0", name))
	}
	return errs
}
