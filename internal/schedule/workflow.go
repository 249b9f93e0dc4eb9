// Package schedule runs retraining at a future time as a durable Temporal
// workflow.
package schedule

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

// RetrainWorkflowName is the registered workflow type name.
const RetrainWorkflowName = "ScheduledRetraining"

// RetrainInput is the workflow argument.
type RetrainInput struct {
	Model  string    `json:"model_name"`
	Reason string    `json:"reason"`
	RunAt  time.Time `json:"scheduled_time"`
}

// RetrainResult is the workflow result.
type RetrainResult struct {
	Job *model.TrainingJob `json:"training_job"`
}

// Triggerer starts a retraining job. *retrain.Service satisfies it.
type Triggerer interface {
	Trigger(ctx context.Context, modelName, reason string) (*model.TrainingJob, error)
}

// Activities holds the activity implementations.
type Activities struct {
	Trainer Triggerer
}

// TriggerRetraining starts the training job. Invalid requests fail without
// retry.
func (a *Activities) TriggerRetraining(ctx context.Context, in RetrainInput) (*model.TrainingJob, error) {
	activity.GetLogger(ctx).Info("starting scheduled retraining", "model", in.Model, "reason", in.Reason)

	job, err := a.Trainer.Trigger(ctx, in.Model, in.Reason)
	if err != nil {
		if eris.Is(err, model.ErrInvalidInput) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidInput", err)
		}
		return nil, err
	}
	return job, nil
}

// RetryPolicy maps the upstream retry settings onto a Temporal retry policy.
func RetryPolicy(s resilience.Settings) *temporal.RetryPolicy {
	rc := s.RetryConfig()
	return &temporal.RetryPolicy{
		InitialInterval:    rc.InitialBackoff,
		BackoffCoefficient: rc.Multiplier,
		MaximumInterval:    rc.MaxBackoff,
		MaximumAttempts:    int32(rc.MaxAttempts),
	}
}

// Workflow sleeps until the scheduled time and then triggers retraining.
type Workflow struct {
	Retry *temporal.RetryPolicy
}

// Run is the workflow function.
func (w *Workflow) Run(ctx workflow.Context, in RetrainInput) (*RetrainResult, error) {
	log := workflow.GetLogger(ctx)

	if wait := in.RunAt.Sub(workflow.Now(ctx)); wait > 0 {
		log.Info("waiting for scheduled time", "model", in.Model, "wait", wait.String())
		if err := workflow.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         w.Retry,
	})

	var a *Activities
	var job model.TrainingJob
	if err := workflow.ExecuteActivity(ctx, a.TriggerRetraining, in).Get(ctx, &job); err != nil {
		return nil, err
	}
	log.Info("scheduled retraining started", "model", in.Model, "job", job.Name)
	return &RetrainResult{Job: &job}, nil
}

func workflowOptions() workflow.RegisterOptions {
	return workflow.RegisterOptions{Name: RetrainWorkflowName}
}
