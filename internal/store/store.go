// Package store persists experiments, assignments, metric samples and the
// model version registry.
package store

import (
	"context"
	"time"

	"github.com/PeterSoManLung/FindDinning/internal/model"
)

// ExperimentFilter specifies criteria for listing experiments.
type ExperimentFilter struct {
	Status  model.ExperimentStatus `json:"status,omitempty"`
	Subject string                 `json:"subject,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
}

// Store defines the persistence interface for experiments and model versions.
type Store interface {
	// Experiments
	CreateExperiment(ctx context.Context, exp *model.Experiment) error
	GetExperiment(ctx context.Context, id string) (*model.Experiment, error)
	ListExperiments(ctx context.Context, filter ExperimentFilter) ([]model.Experiment, error)
	// ActiveExperiment returns the newest active experiment for subject whose
	// window contains at, or nil when none is running.
	ActiveExperiment(ctx context.Context, subject string, at time.Time) (*model.Experiment, error)
	UpdateExperimentStatus(ctx context.Context, id string, status model.ExperimentStatus) error

	// Assignments and samples
	UpsertAssignment(ctx context.Context, a model.Assignment) error
	AppendSamples(ctx context.Context, samples []model.MetricSample) (int64, error)
	ListSamples(ctx context.Context, experimentID string) ([]model.MetricSample, error)
	CountParticipants(ctx context.Context, experimentID string) (int, error)

	// Model versions
	UpsertVersion(ctx context.Context, v *model.ModelVersion) error
	GetVersion(ctx context.Context, modelName, version string) (*model.ModelVersion, error)
	ListVersions(ctx context.Context, modelName string) ([]model.ModelVersion, error)
	// LatestDeployed returns the most recently deployed version, or nil.
	LatestDeployed(ctx context.Context, modelName string) (*model.ModelVersion, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

var experimentColumns = []string{
	"id", "name", "subject", "variants", "traffic_split", "status",
	"start_at", "end_at", "success_metrics", "metadata", "created_at", "updated_at",
}

var sampleColumns = []string{
	"experiment_id", "subject_id", "variant", "metric", "value", "context", "recorded_at",
}

var assignmentColumns = []string{
	"experiment_id", "subject_id", "variant", "version", "assigned_at",
}

var versionColumns = []string{
	"model", "version", "artifact_bucket", "artifact_key", "size_bytes", "status",
	"deployment_status", "endpoint_name", "hosted_model_name", "deployment_error",
	"metadata", "created_at", "updated_at", "deployed_at",
}

// UpsertVersion keeps created_at from the first registration.
var versionUpdateColumns = []string{
	"artifact_bucket", "artifact_key", "size_bytes", "status",
	"deployment_status", "endpoint_name", "hosted_model_name", "deployment_error",
	"metadata", "updated_at", "deployed_at",
}
