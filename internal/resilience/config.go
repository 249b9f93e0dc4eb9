package resilience

import (
	"time"
)

// Settings is the configuration shape for upstream call protection.
type Settings struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RetryConfig converts settings to a RetryConfig, keeping defaults for unset values.
func (s Settings) RetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	if s.MaxAttempts > 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}
	if s.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(s.InitialBackoffMs) * time.Millisecond
	}
	if s.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(s.MaxBackoffMs) * time.Millisecond
	}
	if s.Multiplier > 0 {
		cfg.Multiplier = s.Multiplier
	}
	if s.JitterFraction > 0 {
		cfg.JitterFraction = s.JitterFraction
	}
	return cfg
}

// CircuitConfig converts settings to a CircuitBreakerConfig.
func (s Settings) CircuitConfig() CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if s.FailureThreshold > 0 {
		cfg.FailureThreshold = s.FailureThreshold
	}
	if s.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(s.ResetTimeoutSecs) * time.Second
	}
	return cfg
}

// Guard builds a guard for the named service from these settings.
func (s Settings) Guard(service string) *Guard {
	return NewGuard(service, s.RetryConfig(), s.CircuitConfig())
}
