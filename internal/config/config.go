package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig         `yaml:"store" mapstructure:"store"`
	Influx     InfluxConfig        `yaml:"influx" mapstructure:"influx"`
	AWS        AWSConfig           `yaml:"aws" mapstructure:"aws"`
	Experiment ExperimentConfig    `yaml:"experiment" mapstructure:"experiment"`
	Retraining RetrainingConfig    `yaml:"retraining" mapstructure:"retraining"`
	Monitoring MonitoringConfig    `yaml:"monitoring" mapstructure:"monitoring"`
	Notify     NotifyConfig        `yaml:"notify" mapstructure:"notify"`
	Temporal   TemporalConfig      `yaml:"temporal" mapstructure:"temporal"`
	Anthropic  AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Resilience resilience.Settings `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig        `yaml:"server" mapstructure:"server"`
	Log        LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// InfluxConfig locates the metrics backend for performance points.
type InfluxConfig struct {
	URL    string `yaml:"url" mapstructure:"url"`
	Token  string `yaml:"token" mapstructure:"token"`
	Org    string `yaml:"org" mapstructure:"org"`
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
}

// AWSConfig names the cloud resources the workflows call into.
type AWSConfig struct {
	Region              string `yaml:"region" mapstructure:"region"`
	ArtifactBucket      string `yaml:"artifact_bucket" mapstructure:"artifact_bucket"`
	TrainingBucket      string `yaml:"training_bucket" mapstructure:"training_bucket"`
	SageMakerRoleARN    string `yaml:"sagemaker_role_arn" mapstructure:"sagemaker_role_arn"`
	HostingInstanceType string `yaml:"hosting_instance_type" mapstructure:"hosting_instance_type"`
}

// ExperimentConfig holds A/B test defaults and decision thresholds.
type ExperimentConfig struct {
	MinSamples          int     `yaml:"min_samples" mapstructure:"min_samples"`
	EffectThresholdPct  float64 `yaml:"effect_threshold_pct" mapstructure:"effect_threshold_pct"`
	DefaultTrafficSplit int     `yaml:"default_traffic_split" mapstructure:"default_traffic_split"`
	DefaultDurationDays int     `yaml:"default_duration_days" mapstructure:"default_duration_days"`
}

// RetrainingConfig configures the retraining decision and trigger workflow.
type RetrainingConfig struct {
	Models             []string           `yaml:"models" mapstructure:"models"`
	WindowDays         int                `yaml:"window_days" mapstructure:"window_days"`
	PolicyFile         string             `yaml:"policy_file" mapstructure:"policy_file"`
	LatencyIncreasePct float64            `yaml:"latency_increase_pct" mapstructure:"latency_increase_pct"`
	ErrorRateDeltaPts  float64            `yaml:"error_rate_delta_pts" mapstructure:"error_rate_delta_pts"`
	MaxAgeDays         int                `yaml:"max_age_days" mapstructure:"max_age_days"`
	ConfidenceFloor    float64            `yaml:"confidence_floor" mapstructure:"confidence_floor"`
	Floors             map[string]float64 `yaml:"floors" mapstructure:"floors"`
	Concurrency        int                `yaml:"concurrency" mapstructure:"concurrency"`
}

// MonitoringConfig configures endpoint metric collection and alert thresholds.
type MonitoringConfig struct {
	Endpoints         map[string]string `yaml:"endpoints" mapstructure:"endpoints"`
	CheckIntervalSecs int               `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours     int               `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	PeriodSecs        int               `yaml:"period_secs" mapstructure:"period_secs"`
	CloudWatchRPS     float64           `yaml:"cloudwatch_rps" mapstructure:"cloudwatch_rps"`
	LatencyWarnMs     float64           `yaml:"latency_warn_ms" mapstructure:"latency_warn_ms"`
	LatencyHighMs     float64           `yaml:"latency_high_ms" mapstructure:"latency_high_ms"`
	Error4XXWarnPct   float64           `yaml:"error_4xx_warn_pct" mapstructure:"error_4xx_warn_pct"`
	Error4XXHighPct   float64           `yaml:"error_4xx_high_pct" mapstructure:"error_4xx_high_pct"`
	CPUWarnPct        float64           `yaml:"cpu_warn_pct" mapstructure:"cpu_warn_pct"`
	CPUHighPct        float64           `yaml:"cpu_high_pct" mapstructure:"cpu_high_pct"`
	MemoryWarnPct     float64           `yaml:"memory_warn_pct" mapstructure:"memory_warn_pct"`
	MemoryHighPct     float64           `yaml:"memory_high_pct" mapstructure:"memory_high_pct"`
	DriftChangePct    float64           `yaml:"drift_change_pct" mapstructure:"drift_change_pct"`
	ReportErrorPct    float64           `yaml:"report_error_pct" mapstructure:"report_error_pct"`
	ReportLatencyMs   float64           `yaml:"report_latency_ms" mapstructure:"report_latency_ms"`
}

// NotifyConfig configures where operator notifications go.
type NotifyConfig struct {
	SNSTopicARN string `yaml:"sns_topic_arn" mapstructure:"sns_topic_arn"`
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// TemporalConfig locates the Temporal cluster used for scheduled retraining.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// AnthropicConfig holds Claude settings for feedback analysis.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	MaxTokens  int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	UseBedrock bool   `yaml:"use_bedrock" mapstructure:"use_bedrock"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml, when present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// falls back to an optional config.yaml in the working directory; a named
// file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("MLOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.org", "mlops")
	v.SetDefault("influx.bucket", "model-performance")

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.hosting_instance_type", "ml.t2.medium")

	v.SetDefault("experiment.min_samples", 30)
	v.SetDefault("experiment.effect_threshold_pct", 5.0)
	v.SetDefault("experiment.default_traffic_split", 50)
	v.SetDefault("experiment.default_duration_days", 7)

	v.SetDefault("retraining.models", []string{"recommendation", "sentiment"})
	v.SetDefault("retraining.window_days", 7)
	v.SetDefault("retraining.latency_increase_pct", 25.0)
	v.SetDefault("retraining.error_rate_delta_pts", 2.0)
	v.SetDefault("retraining.max_age_days", 30)
	v.SetDefault("retraining.confidence_floor", 0.5)
	v.SetDefault("retraining.floors", map[string]float64{"recommendation": 0.3, "sentiment": 0.5})
	v.SetDefault("retraining.concurrency", 4)

	v.SetDefault("monitoring.endpoints", map[string]string{
		"recommendation": "recommendation-endpoint",
		"sentiment":      "sentiment-endpoint",
	})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 1)
	v.SetDefault("monitoring.period_secs", 300)
	v.SetDefault("monitoring.cloudwatch_rps", 5.0)
	v.SetDefault("monitoring.latency_warn_ms", 5000.0)
	v.SetDefault("monitoring.latency_high_ms", 10000.0)
	v.SetDefault("monitoring.error_4xx_warn_pct", 5.0)
	v.SetDefault("monitoring.error_4xx_high_pct", 10.0)
	v.SetDefault("monitoring.cpu_warn_pct", 80.0)
	v.SetDefault("monitoring.cpu_high_pct", 90.0)
	v.SetDefault("monitoring.memory_warn_pct", 85.0)
	v.SetDefault("monitoring.memory_high_pct", 95.0)
	v.SetDefault("monitoring.drift_change_pct", 20.0)
	v.SetDefault("monitoring.report_error_pct", 5.0)
	v.SetDefault("monitoring.report_latency_ms", 5000.0)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "mlops-retraining")

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)

	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 200)
	v.SetDefault("resilience.max_backoff_ms", 5000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
}

// Validate checks the settings every mode depends on plus the requirements
// of the named mode: serve, lambda, worker, retrain, monitor, nlp or cli.
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Experiment.MinSamples < 1 {
		errs = append(errs, "experiment.min_samples must be >= 1")
	}
	if c.Experiment.EffectThresholdPct < 0 {
		errs = append(errs, "experiment.effect_threshold_pct must be >= 0")
	}
	if c.Experiment.DefaultTrafficSplit < 0 || c.Experiment.DefaultTrafficSplit > 100 {
		errs = append(errs, "experiment.default_traffic_split must be between 0 and 100")
	}
	if c.Retraining.WindowDays < 1 || c.Retraining.WindowDays > 90 {
		errs = append(errs, "retraining.window_days must be between 1 and 90")
	}
	if c.Retraining.ConfidenceFloor < 0 || c.Retraining.ConfidenceFloor > 1 {
		errs = append(errs, "retraining.confidence_floor must be between 0 and 1")
	}
	for name, floor := range c.Retraining.Floors {
		if floor < 0 || floor > 1 {
			errs = append(errs, fmt.Sprintf("retraining.floors.%s must be between 0 and 1", name))
		}
	}
	if c.Retraining.Concurrency < 1 || c.Retraining.Concurrency > 50 {
		errs = append(errs, "retraining.concurrency must be between 1 and 50")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.storeErrors()...)
	case "lambda":
		errs = append(errs, c.storeErrors()...)
		errs = append(errs, c.awsErrors()...)
	case "worker":
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
		errs = append(errs, c.awsErrors()...)
	case "retrain":
		errs = append(errs, c.awsErrors()...)
		if c.AWS.SageMakerRoleARN == "" {
			errs = append(errs, "aws.sagemaker_role_arn is required")
		}
		if c.AWS.TrainingBucket == "" {
			errs = append(errs, "aws.training_bucket is required")
		}
		if c.Influx.URL == "" {
			errs = append(errs, "influx.url is required")
		}
	case "monitor":
		errs = append(errs, c.awsErrors()...)
		if c.Influx.URL == "" {
			errs = append(errs, "influx.url is required")
		}
		if len(c.Monitoring.Endpoints) == 0 {
			errs = append(errs, "monitoring.endpoints must name at least one model")
		}
	case "nlp":
		if !c.Anthropic.UseBedrock && c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required unless anthropic.use_bedrock is set")
		}
	case "cli":
		errs = append(errs, c.storeErrors()...)
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) storeErrors() []string {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
	case "sqlite":
	default:
		return []string{fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver)}
	}
	return nil
}

func (c *Config) awsErrors() []string {
	if c.AWS.Region == "" {
		return []string{"aws.region is required"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
