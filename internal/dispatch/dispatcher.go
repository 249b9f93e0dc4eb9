package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/experiment"
	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/monitoring"
	"github.com/PeterSoManLung/FindDinning/internal/nlp"
	"github.com/PeterSoManLung/FindDinning/internal/retrain"
)

// Experiments is the A/B testing workflow.
type Experiments interface {
	Create(ctx context.Context, req experiment.CreateRequest) (*model.Experiment, error)
	Assign(ctx context.Context, subjectID, modelName string) (*experiment.AssignResult, error)
	Record(ctx context.Context, req experiment.RecordRequest) (*experiment.RecordResult, error)
	Analyze(ctx context.Context, experimentID string) (*experiment.AnalysisResult, error)
	End(ctx context.Context, experimentID string) (*model.Experiment, error)
	List(ctx context.Context, status string) ([]model.Experiment, error)
}

// Retraining is the retraining workflow.
type Retraining interface {
	CheckAll(ctx context.Context) (*retrain.CheckAllResult, error)
	Trigger(ctx context.Context, modelName, reason string) (*model.TrainingJob, error)
	Status(ctx context.Context, jobName string) (*model.TrainingJob, error)
	Schedule(ctx context.Context, modelName string, runAt time.Time, reason string) (*retrain.ScheduledRun, error)
}

// Monitoring is the endpoint performance workflow.
type Monitoring interface {
	RunAll(ctx context.Context) (*monitoring.RunResult, error)
	RunModel(ctx context.Context, modelName string) (*monitoring.ModelResult, error)
	CheckDrift(ctx context.Context, modelName string, days int) (*monitoring.DriftReport, error)
	Report(ctx context.Context, days int) (*monitoring.Report, error)
}

// Versions is the model version registry.
type Versions interface {
	HandleUpload(ctx context.Context, bucket, key string) (*model.ModelVersion, error)
	Deploy(ctx context.Context, modelName, version string) (*model.ModelVersion, error)
	Rollback(ctx context.Context, modelName, targetVersion string) (*model.ModelVersion, error)
	List(ctx context.Context, modelName string) ([]model.ModelVersion, error)
	Delete(ctx context.Context, modelName, version string) error
}

// Feedback analyzes diner text.
type Feedback interface {
	Analyze(ctx context.Context, text string, kind nlp.Kind) (*nlp.Result, error)
}

// Services are the backends a Dispatcher routes to. A nil service makes its
// commands fail with ErrNotConfigured.
type Services struct {
	Experiments Experiments
	Retraining  Retraining
	Monitoring  Monitoring
	Versions    Versions
	Feedback    Feedback
}

// ErrNotConfigured is returned for commands whose service was not wired.
var ErrNotConfigured = eris.New("service not configured")

// DefaultTriggerReason is recorded for manual retraining without a reason.
const DefaultTriggerReason = "Automatic retraining triggered"

// Dispatcher executes commands.
type Dispatcher struct {
	svc Services
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(svc Services) *Dispatcher {
	return &Dispatcher{svc: svc}
}

// Handle runs cmd and returns its result payload.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) (any, error) {
	log := zap.L().With(zap.String("component", "dispatch"), zap.String("action", cmd.Action()))
	start := time.Now()

	out, err := d.handle(ctx, cmd)
	if err != nil {
		log.Warn("dispatch: command failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, err
	}
	log.Debug("dispatch: command complete", zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (d *Dispatcher) handle(ctx context.Context, cmd Command) (any, error) {
	switch c := cmd.(type) {
	case CreateExperiment:
		if d.svc.Experiments == nil {
			return nil, notConfigured("experiments")
		}
		exp, err := d.svc.Experiments.Create(ctx, c.CreateRequest)
		if err != nil {
			return nil, err
		}
		return map[string]any{"test_id": exp.ID, "test_config": exp}, nil
	case AssignSubject:
		if d.svc.Experiments == nil {
			return nil, notConfigured("experiments")
		}
		return d.svc.Experiments.Assign(ctx, c.SubjectID, c.Model)
	case RecordResult:
		if d.svc.Experiments == nil {
			return nil, notConfigured("experiments")
		}
		return d.svc.Experiments.Record(ctx, c.RecordRequest)
	case AnalyzeExperiment:
		if d.svc.Experiments == nil {
			return nil, notConfigured("experiments")
		}
		return d.svc.Experiments.Analyze(ctx, c.ExperimentID)
	case EndExperiment:
		if d.svc.Experiments == nil {
			return nil, notConfigured("experiments")
		}
		return d.svc.Experiments.End(ctx, c.ExperimentID)
	case ListExperiments:
		if d.svc.Experiments == nil {
			return nil, notConfigured("experiments")
		}
		exps, err := d.svc.Experiments.List(ctx, c.Status)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tests": exps, "count": len(exps)}, nil

	case CheckRetraining:
		if d.svc.Retraining == nil {
			return nil, notConfigured("retraining")
		}
		return d.svc.Retraining.CheckAll(ctx)
	case TriggerRetraining:
		if d.svc.Retraining == nil {
			return nil, notConfigured("retraining")
		}
		reason := c.Reason
		if reason == "" {
			reason = DefaultTriggerReason
		}
		return d.svc.Retraining.Trigger(ctx, c.Model, reason)
	case TrainingStatus:
		if d.svc.Retraining == nil {
			return nil, notConfigured("retraining")
		}
		if c.JobName == "" {
			return nil, model.InvalidInputf("training_job_name is required")
		}
		return d.svc.Retraining.Status(ctx, c.JobName)
	case ScheduleRetraining:
		if d.svc.Retraining == nil {
			return nil, notConfigured("retraining")
		}
		var runAt time.Time
		if c.ScheduleTime != "" {
			t, err := ParseTime(c.ScheduleTime)
			if err != nil {
				return nil, err
			}
			runAt = t
		}
		return d.svc.Retraining.Schedule(ctx, c.Model, runAt, c.Reason)

	case MonitorAll:
		if d.svc.Monitoring == nil {
			return nil, notConfigured("monitoring")
		}
		return d.svc.Monitoring.RunAll(ctx)
	case MonitorModel:
		if d.svc.Monitoring == nil {
			return nil, notConfigured("monitoring")
		}
		return d.svc.Monitoring.RunModel(ctx, c.Model)
	case CheckDrift:
		if d.svc.Monitoring == nil {
			return nil, notConfigured("monitoring")
		}
		return d.svc.Monitoring.CheckDrift(ctx, c.Model, c.DaysBack)
	case PerformanceReport:
		if d.svc.Monitoring == nil {
			return nil, notConfigured("monitoring")
		}
		return d.svc.Monitoring.Report(ctx, c.DaysBack)

	case DeployModel:
		if d.svc.Versions == nil {
			return nil, notConfigured("versions")
		}
		return d.svc.Versions.Deploy(ctx, c.Model, c.Version)
	case RollbackModel:
		if d.svc.Versions == nil {
			return nil, notConfigured("versions")
		}
		return d.svc.Versions.Rollback(ctx, c.Model, c.TargetVersion)
	case ListVersions:
		if d.svc.Versions == nil {
			return nil, notConfigured("versions")
		}
		vs, err := d.svc.Versions.List(ctx, c.Model)
		if err != nil {
			return nil, err
		}
		return map[string]any{"model_name": c.Model, "versions": vs, "count": len(vs)}, nil
	case DeleteVersion:
		if d.svc.Versions == nil {
			return nil, notConfigured("versions")
		}
		if err := d.svc.Versions.Delete(ctx, c.Model, c.Version); err != nil {
			return nil, err
		}
		return map[string]any{"model_name": c.Model, "version": c.Version, "deleted": true}, nil
	case ModelUpload:
		if d.svc.Versions == nil {
			return nil, notConfigured("versions")
		}
		return d.upload(ctx, c)

	case AnalyzeText:
		if d.svc.Feedback == nil {
			return nil, notConfigured("nlp")
		}
		kind, err := nlp.ParseKind(c.AnalysisType)
		if err != nil {
			return nil, err
		}
		return d.svc.Feedback.Analyze(ctx, c.Text, kind)
	}
	return nil, model.InvalidInputf("Unknown action: %s", cmd.Action())
}

// UploadResult summarizes a batch of artifact uploads.
type UploadResult struct {
	Processed []model.ModelVersion `json:"processed"`
	Skipped   []string             `json:"skipped,omitempty"`
	Failed    map[string]string    `json:"failed,omitempty"`
}

// upload registers each object independently. Keys outside the artifact
// layout are skipped; a failed object does not stop the rest.
func (d *Dispatcher) upload(ctx context.Context, c ModelUpload) (*UploadResult, error) {
	res := &UploadResult{Processed: []model.ModelVersion{}}
	for _, obj := range c.Objects {
		v, err := d.svc.Versions.HandleUpload(ctx, obj.Bucket, obj.Key)
		switch {
		case err == nil:
			res.Processed = append(res.Processed, *v)
		case eris.Is(err, model.ErrInvalidInput):
			res.Skipped = append(res.Skipped, obj.Key)
		default:
			if res.Failed == nil {
				res.Failed = map[string]string{}
			}
			res.Failed[obj.Key] = err.Error()
		}
	}
	if len(c.Objects) > 0 && len(res.Processed) == 0 && len(res.Failed) > 0 {
		return res, eris.Errorf("dispatch: all %d uploads failed", len(res.Failed))
	}
	return res, nil
}

func notConfigured(name string) error {
	return eris.Wrapf(ErrNotConfigured, "dispatch: %s", name)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts an ISO 8601 timestamp. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, model.InvalidInputf("schedule_time %q is not an ISO 8601 timestamp", s)
}
