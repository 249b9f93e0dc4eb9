package model

import (
	"time"
)

// Variant is the arm of an experiment a subject is routed to.
type Variant string

const (
	VariantControl   Variant = "control"
	VariantTreatment Variant = "treatment"
	// VariantProduction is returned when no experiment is running for a model.
	VariantProduction Variant = "production"
)

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	ExperimentActive    ExperimentStatus = "active"
	ExperimentCompleted ExperimentStatus = "completed"
)

// Default experiment settings applied when a create request leaves them out.
const (
	DefaultTrafficSplit = 50
	DefaultDurationDays = 7
	LatestVersion       = "latest"
)

// DefaultSuccessMetrics is used when an experiment is created without metrics.
var DefaultSuccessMetrics = []string{"recommendation_accuracy", "user_satisfaction"}

// ExperimentMetadata carries free-form descriptive fields about an experiment.
type ExperimentMetadata struct {
	CreatedBy   string `json:"created_by"`
	Description string `json:"description"`
	Hypothesis  string `json:"hypothesis"`
}

// Experiment is a controlled comparison between two model versions.
// The traffic split is fixed at creation; only Status changes afterwards.
type Experiment struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Subject        string             `json:"subject"`
	Variants       map[Variant]string `json:"variants"`
	TrafficSplit   int                `json:"traffic_split"`
	Status         ExperimentStatus   `json:"status"`
	StartAt        time.Time          `json:"start_at"`
	EndAt          time.Time          `json:"end_at"`
	SuccessMetrics []string           `json:"success_metrics"`
	Metadata       ExperimentMetadata `json:"metadata"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// RunningAt reports whether the experiment accepts assignments at t.
func (e *Experiment) RunningAt(t time.Time) bool {
	return e.Status == ExperimentActive && !t.Before(e.StartAt) && !t.After(e.EndAt)
}

// VersionFor returns the model version mapped to the given variant.
func (e *Experiment) VersionFor(v Variant) string {
	if ver, ok := e.Variants[v]; ok {
		return ver
	}
	return LatestVersion
}

// Assignment records which variant a subject was routed to.
type Assignment struct {
	ExperimentID string    `json:"experiment_id"`
	SubjectID    string    `json:"subject_id"`
	Variant      Variant   `json:"variant"`
	Version      string    `json:"version"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// MetricSample is one observed outcome for a subject in an experiment.
type MetricSample struct {
	ExperimentID string         `json:"experiment_id"`
	SubjectID    string         `json:"subject_id"`
	Variant      Variant        `json:"variant"`
	Metric       string         `json:"metric"`
	Value        float64        `json:"value"`
	Context      map[string]any `json:"context,omitempty"`
	RecordedAt   time.Time      `json:"recorded_at"`
}
