package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/config"
	"github.com/PeterSoManLung/FindDinning/internal/retrain"
)

// WorkflowStarter is the subset of the Temporal client used to start runs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
}

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// Scheduler starts retraining workflows. It implements retrain.Scheduler.
type Scheduler struct {
	starter   WorkflowStarter
	taskQueue string
	now       func() time.Time
}

// NewScheduler creates a Scheduler for the given task queue.
func NewScheduler(starter WorkflowStarter, taskQueue string) *Scheduler {
	return &Scheduler{starter: starter, taskQueue: taskQueue, now: time.Now}
}

// WorkflowID is deterministic per model and run time so a repeated request
// for the same slot does not start a second run.
func WorkflowID(modelName string, runAt time.Time) string {
	return fmt.Sprintf("retrain-%s-%s", modelName, runAt.UTC().Format("20060102T150405Z"))
}

// ScheduleRetraining starts a workflow that triggers retraining at runAt.
func (s *Scheduler) ScheduleRetraining(ctx context.Context, modelName string, runAt time.Time, reason string) (*retrain.ScheduledRun, error) {
	id := WorkflowID(modelName, runAt)
	in := RetrainInput{Model: modelName, Reason: reason, RunAt: runAt.UTC()}

	run, err := s.starter.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: s.taskQueue,
	}, RetrainWorkflowName, in)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: start workflow %s", id)
	}

	zap.L().Info("schedule: retraining scheduled",
		zap.String("model", modelName),
		zap.Time("run_at", runAt),
		zap.String("workflow_id", run.GetID()),
	)
	status := "scheduled"
	if !runAt.After(s.now()) {
		status = "started"
	}
	return &retrain.ScheduledRun{
		Model:      modelName,
		RunAt:      in.RunAt,
		Reason:     reason,
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
		Status:     status,
	}, nil
}

// NewWorker registers the retraining workflow and activities on the task queue.
func NewWorker(c client.Client, taskQueue string, wf *Workflow, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(wf.Run, workflowOptions())
	w.RegisterActivity(acts)
	return w
}

// RunWorker starts w and blocks until ctx is cancelled.
func RunWorker(ctx context.Context, w worker.Worker) error {
	if err := w.Start(); err != nil {
		return eris.Wrap(err, "schedule: start worker")
	}
	zap.L().Info("schedule: worker started")
	<-ctx.Done()
	w.Stop()
	zap.L().Info("schedule: worker stopped")
	return nil
}
