package retrain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/notify"
)

const defaultConcurrency = 4

// PointSource reads stored performance points for a model.
type PointSource interface {
	Points(ctx context.Context, modelName string, window time.Duration) ([]model.PerformancePoint, error)
}

// AgeSource finds the live version of a model. A nil version means the model
// has never been deployed.
type AgeSource interface {
	LatestDeployed(ctx context.Context, modelName string) (*model.ModelVersion, error)
}

// JobRunner starts and inspects training jobs. *training.Trainer satisfies it.
type JobRunner interface {
	Start(ctx context.Context, modelName, reason string) (*model.TrainingJob, error)
	Describe(ctx context.Context, jobName string) (*model.TrainingJob, error)
}

// ScheduledRun describes a retraining registered for later execution.
type ScheduledRun struct {
	Model      string    `json:"model_name"`
	RunAt      time.Time `json:"scheduled_time"`
	Reason     string    `json:"reason"`
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
}

// Scheduler registers durable retraining runs.
type Scheduler interface {
	ScheduleRetraining(ctx context.Context, modelName string, runAt time.Time, reason string) (*ScheduledRun, error)
}

// CheckResult is the outcome of one model in a CheckAll pass.
type CheckResult struct {
	Decision
	Triggered bool               `json:"retraining_triggered"`
	Job       *model.TrainingJob `json:"training_job,omitempty"`
	Notified  bool               `json:"notification_sent"`
	Error     string             `json:"error,omitempty"`
}

// CheckAllResult collects the decisions for every configured model.
type CheckAllResult struct {
	Models    []string                `json:"checked_models"`
	Decisions map[string]*CheckResult `json:"retraining_decisions"`
	Timestamp time.Time               `json:"timestamp"`
}

// Service evaluates models for retraining and starts training jobs.
type Service struct {
	points      PointSource
	ages        AgeSource
	jobs        JobRunner
	notifier    notify.Notifier
	scheduler   Scheduler
	features    FeatureDriftDetector
	predictions PredictionDriftDetector
	policies    *Policies
	models      []string
	concurrency int
	now         func() time.Time
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithScheduler enables Schedule.
func WithScheduler(s Scheduler) Option {
	return func(svc *Service) { svc.scheduler = s }
}

// WithFeatureDrift replaces the feature drift detector.
func WithFeatureDrift(d FeatureDriftDetector) Option {
	return func(svc *Service) { svc.features = d }
}

// WithPredictionDrift replaces the prediction drift detector.
func WithPredictionDrift(d PredictionDriftDetector) Option {
	return func(svc *Service) { svc.predictions = d }
}

// WithConcurrency bounds how many models CheckAll evaluates at once.
func WithConcurrency(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.concurrency = n
		}
	}
}

// NewService creates a retraining service for the given models.
func NewService(points PointSource, ages AgeSource, jobs JobRunner, n notify.Notifier, policies *Policies, models []string, opts ...Option) *Service {
	if policies == nil {
		policies = DefaultPolicies()
	}
	svc := &Service{
		points:      points,
		ages:        ages,
		jobs:        jobs,
		notifier:    n,
		features:    NoFeatureDrift{},
		predictions: NoPredictionDrift{},
		policies:    policies,
		models:      models,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Models returns the models CheckAll evaluates.
func (s *Service) Models() []string { return s.models }

// Evaluate gathers the signals for one model over its policy window and
// returns the retraining decision.
func (s *Service) Evaluate(ctx context.Context, modelName string) (Decision, error) {
	if modelName == "" {
		return Decision{}, model.InvalidInputf("retrain: model_name is required")
	}
	if s.points == nil {
		return Decision{}, eris.New("retrain: no metrics store configured")
	}
	p := s.policies.For(modelName)
	window := time.Duration(p.WindowDays) * 24 * time.Hour

	pts, err := s.points.Points(ctx, modelName, window)
	if err != nil {
		return Decision{}, eris.Wrapf(err, "retrain: load metrics %s", modelName)
	}
	if len(pts) == 0 {
		return NoData(modelName), nil
	}

	sig := PerformanceSignals(pts, p)
	sig.Drift.FeatureDrift = s.features.FeatureDrift(modelName, pts)
	sig.Drift.PredictionDrift = s.predictions.PredictionDrift(modelName, pts)
	sig.Age = s.age(ctx, modelName, p)
	return Evaluate(modelName, sig, p), nil
}

// age looks up the live version. Registry failures leave the age unknown.
func (s *Service) age(ctx context.Context, modelName string, p Policy) AgeCheck {
	if s.ages == nil {
		return CheckAge(time.Time{}, s.now(), p)
	}
	v, err := s.ages.LatestDeployed(ctx, modelName)
	if err != nil {
		zap.L().Warn("retrain: model age lookup failed", zap.String("model", modelName), zap.Error(err))
		return CheckAge(time.Time{}, s.now(), p)
	}
	if v == nil || v.DeployedAt == nil {
		return CheckAge(time.Time{}, s.now(), p)
	}
	return CheckAge(*v.DeployedAt, s.now(), p)
}

// CheckAll evaluates every configured model concurrently. Models that should
// retrain automatically get a training job; the rest of the positive
// decisions are sent out for manual review. A failing model is recorded in
// its result and does not stop the others.
func (s *Service) CheckAll(ctx context.Context) (*CheckAllResult, error) {
	out := &CheckAllResult{
		Models:    s.models,
		Decisions: make(map[string]*CheckResult, len(s.models)),
		Timestamp: s.now().UTC(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, name := range s.models {
		g.Go(func() error {
			res := s.check(gctx, name)
			mu.Lock()
			out.Decisions[name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "retrain: check all")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "retrain: check all")
	}
	return out, nil
}

func (s *Service) check(ctx context.Context, modelName string) *CheckResult {
	log := zap.L().With(zap.String("component", "retrain"), zap.String("model", modelName))

	d, err := s.Evaluate(ctx, modelName)
	if err != nil {
		log.Error("retrain: evaluation failed", zap.Error(err))
		return &CheckResult{
			Decision: Decision{Model: modelName, Reasons: []string{}, Reason: "Error in evaluation: " + err.Error()},
			Error:    err.Error(),
		}
	}
	res := &CheckResult{Decision: d}
	if !d.ShouldRetrain {
		return res
	}

	log.Info("retrain: retraining recommended",
		zap.String("reason", d.Reason),
		zap.Float64("confidence", d.Confidence),
		zap.Bool("auto_retrain", d.AutoRetrain),
	)
	if d.AutoRetrain {
		job, err := s.Trigger(ctx, modelName, d.Reason)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Triggered = true
		res.Job = job
		return res
	}

	res.Notified = s.notify(ctx, recommendedMessage(d, s.now()))
	return res
}

// Trigger starts a training job for the model and announces it.
func (s *Service) Trigger(ctx context.Context, modelName, reason string) (*model.TrainingJob, error) {
	if s.jobs == nil {
		return nil, eris.New("retrain: no training backend configured")
	}
	job, err := s.jobs.Start(ctx, modelName, reason)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, startedMessage(job))
	return job, nil
}

// Status reports the state of a training job.
func (s *Service) Status(ctx context.Context, jobName string) (*model.TrainingJob, error) {
	if s.jobs == nil {
		return nil, eris.New("retrain: no training backend configured")
	}
	return s.jobs.Describe(ctx, jobName)
}

// Schedule registers a retraining run at runAt.
func (s *Service) Schedule(ctx context.Context, modelName string, runAt time.Time, reason string) (*ScheduledRun, error) {
	if modelName == "" || runAt.IsZero() {
		return nil, model.InvalidInputf("retrain: model_name and schedule_time are required")
	}
	if s.scheduler == nil {
		return nil, eris.New("retrain: no scheduler configured")
	}
	if reason == "" {
		reason = "Scheduled retraining"
	}
	return s.scheduler.ScheduleRetraining(ctx, modelName, runAt, reason)
}

func (s *Service) notify(ctx context.Context, msg notify.Message) bool {
	if s.notifier == nil {
		return false
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		zap.L().Error("retrain: failed to send notification",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return false
	}
	return true
}

func recommendedMessage(d Decision, now time.Time) notify.Message {
	details, err := json.MarshalIndent(d.Signals, "", "  ")
	if err != nil {
		details = []byte("{}")
	}
	body := fmt.Sprintf(`Model retraining has been recommended for: %s

Reason: %s
Confidence: %.2f
Auto-retrain enabled: %t

Analysis Details:
%s

Please review and take appropriate action.

Timestamp: %s`, d.Model, d.Reason, d.Confidence, d.AutoRetrain, details, now.UTC().Format(time.RFC3339))

	return notify.Message{
		Subject:   "Model Retraining Recommended: " + d.Model,
		Body:      body,
		Severity:  "medium",
		Labels:    map[string]string{"model": d.Model, "event": "retraining_recommended"},
		Timestamp: now.UTC(),
	}
}

func startedMessage(job *model.TrainingJob) notify.Message {
	body := fmt.Sprintf(`Model retraining has been started for: %s

Training Job Name: %s
Reason: %s
Started At: %s

You can monitor the training job progress in the SageMaker console.`,
		job.Model, job.Name, job.Reason, job.StartedAt.UTC().Format(time.RFC3339))

	return notify.Message{
		Subject:   "Model Retraining Started: " + job.Model,
		Body:      body,
		Severity:  "info",
		Labels:    map[string]string{"model": job.Model, "event": "retraining_started", "job": job.Name},
		Timestamp: job.StartedAt.UTC(),
	}
}
