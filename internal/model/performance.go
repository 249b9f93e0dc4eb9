package model

import (
	"time"
)

// MetricType names an endpoint metric collected for a hosted model.
type MetricType string

const (
	MetricLatency     MetricType = "ModelLatency"
	MetricInvocations MetricType = "ModelInvocations"
	Metric4XXErrors   MetricType = "ModelInvocation4XXErrors"
	Metric5XXErrors   MetricType = "ModelInvocation5XXErrors"
	MetricCPU         MetricType = "CPUUtilization"
	MetricMemory      MetricType = "MemoryUtilization"
)

// Trend is the direction of a metric over its collection window.
type Trend string

const (
	TrendIncreasing   Trend = "increasing"
	TrendDecreasing   Trend = "decreasing"
	TrendStable       Trend = "stable"
	TrendInsufficient Trend = "insufficient_data"
)

// PerformancePoint is one time-stamped measurement for a model.
type PerformancePoint struct {
	Model      string     `json:"model"`
	MetricType MetricType `json:"metric_type"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit,omitempty"`
	Trend      Trend      `json:"trend,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// TrainingStatus mirrors the managed training service's job states.
type TrainingStatus string

const (
	TrainingInProgress TrainingStatus = "InProgress"
	TrainingCompleted  TrainingStatus = "Completed"
	TrainingFailed     TrainingStatus = "Failed"
	TrainingStopping   TrainingStatus = "Stopping"
	TrainingStopped    TrainingStatus = "Stopped"
)

// TrainingJob describes a retraining job started for a model.
type TrainingJob struct {
	Name          string         `json:"training_job_name"`
	Model         string         `json:"model_name,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Status        TrainingStatus `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	UpdatedAt     time.Time      `json:"last_modified_time,omitempty"`
	EndedAt       *time.Time     `json:"training_end_time,omitempty"`
	Artifacts     string         `json:"model_artifacts,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
}
