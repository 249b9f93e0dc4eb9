package retrain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/notify"
	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

var serviceNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

type memPoints struct {
	data map[string][]model.PerformancePoint
	errs map[string]error
}

func (m *memPoints) Points(_ context.Context, modelName string, _ time.Duration) ([]model.PerformancePoint, error) {
	if err := m.errs[modelName]; err != nil {
		return nil, err
	}
	return m.data[modelName], nil
}

type memAges map[string]time.Time

func (m memAges) LatestDeployed(_ context.Context, modelName string) (*model.ModelVersion, error) {
	at, ok := m[modelName]
	if !ok {
		return nil, nil
	}
	return &model.ModelVersion{Model: modelName, Version: "1.0.0", DeployedAt: &at}, nil
}

type fakeJobs struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (f *fakeJobs) Start(_ context.Context, modelName, reason string) (*model.TrainingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.started = append(f.started, modelName)
	return &model.TrainingJob{
		Name:      modelName + "-retrain-20260610-120000",
		Model:     modelName,
		Reason:    reason,
		Status:    model.TrainingInProgress,
		StartedAt: serviceNow,
	}, nil
}

func (f *fakeJobs) Describe(_ context.Context, jobName string) (*model.TrainingJob, error) {
	if jobName == "missing" {
		return nil, model.NotFoundf("training job %s", jobName)
	}
	return &model.TrainingJob{Name: jobName, Status: model.TrainingCompleted, Artifacts: "s3://b/model.tar.gz"}, nil
}

type msgRecorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *msgRecorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *msgRecorder) subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Subject
	}
	return out
}

type fakeScheduler struct {
	got *ScheduledRun
}

func (f *fakeScheduler) ScheduleRetraining(_ context.Context, modelName string, runAt time.Time, reason string) (*ScheduledRun, error) {
	f.got = &ScheduledRun{Model: modelName, RunAt: runAt, Reason: reason, WorkflowID: "retrain-" + modelName, Status: "scheduled"}
	return f.got, nil
}

func errorRatePoints(start time.Time) []model.PerformancePoint {
	return append(pts(model.Metric4XXErrors, start, 1, 1, 1, 10, 10),
		pts(model.MetricInvocations, start, 100, 100, 100, 100, 100)...)
}

func newTestRetrainService(points PointSource, ages AgeSource, jobs JobRunner, n notify.Notifier, models []string, opts ...Option) *Service {
	svc := NewService(points, ages, jobs, n, DefaultPolicies(), models, opts...)
	svc.now = func() time.Time { return serviceNow }
	return svc
}

func TestService_Evaluate_NoData(t *testing.T) {
	svc := newTestRetrainService(&memPoints{}, nil, nil, nil, nil)

	d, err := svc.Evaluate(context.Background(), "sentiment")
	require.NoError(t, err)
	assert.False(t, d.ShouldRetrain)
	assert.Zero(t, d.Confidence)
	assert.Equal(t, NoDataReason, d.Reason)
}

func TestService_Evaluate_AgeFromRegistry(t *testing.T) {
	start := serviceNow.Add(-48 * time.Hour)
	points := &memPoints{data: map[string][]model.PerformancePoint{
		"sentiment": pts(model.MetricLatency, start, 100, 100, 100),
	}}
	ages := memAges{"sentiment": serviceNow.AddDate(0, 0, -45)}
	svc := newTestRetrainService(points, ages, nil, nil, nil)

	d, err := svc.Evaluate(context.Background(), "sentiment")
	require.NoError(t, err)
	assert.True(t, d.Signals.Age.Known)
	assert.True(t, d.Signals.Age.Exceeded)
	assert.True(t, d.AutoRetrain)
	assert.Equal(t, "Model age exceeds maximum threshold", d.Reason)
}

func TestService_Evaluate_UnknownAge(t *testing.T) {
	points := &memPoints{data: map[string][]model.PerformancePoint{
		"sentiment": pts(model.MetricLatency, serviceNow, 100, 100, 100),
	}}
	svc := newTestRetrainService(points, memAges{}, nil, nil, nil)

	d, err := svc.Evaluate(context.Background(), "sentiment")
	require.NoError(t, err)
	assert.False(t, d.Signals.Age.Known)
	assert.False(t, d.ShouldRetrain)
}

type driftAlways struct{}

func (driftAlways) FeatureDrift(string, []model.PerformancePoint) bool { return true }

func TestService_Evaluate_FeatureDrift(t *testing.T) {
	points := &memPoints{data: map[string][]model.PerformancePoint{
		"recommendation": pts(model.MetricLatency, serviceNow, 100, 100, 100),
	}}
	svc := newTestRetrainService(points, nil, nil, nil, nil, WithFeatureDrift(driftAlways{}))

	d, err := svc.Evaluate(context.Background(), "recommendation")
	require.NoError(t, err)
	assert.True(t, d.Signals.Drift.FeatureDrift)
	assert.True(t, d.ShouldRetrain)
	assert.InDelta(t, 0.3, d.Confidence, 1e-9)
}

func TestService_Evaluate_LatencyOnlyCountsOnce(t *testing.T) {
	start := serviceNow.Add(-72 * time.Hour)
	points := &memPoints{data: map[string][]model.PerformancePoint{
		"sentiment": append(pts(model.MetricLatency, start, 100, 100, 130, 130, 130),
			pts(model.MetricInvocations, start, 500, 500, 500, 500, 500)...),
	}}
	svc := newTestRetrainService(points, memAges{}, nil, nil, nil)

	d, err := svc.Evaluate(context.Background(), "sentiment")
	require.NoError(t, err)
	assert.True(t, d.ShouldRetrain)
	assert.False(t, d.AutoRetrain)
	assert.InDelta(t, 0.3, d.Confidence, 1e-9)
	assert.False(t, d.Signals.Drift.PredictionDrift)
	assert.Equal(t, []string{"Significant latency degradation detected"}, d.Reasons)
}

func TestService_Evaluate_TrafficDropIsNotRetrain(t *testing.T) {
	start := serviceNow.Add(-72 * time.Hour)
	points := &memPoints{data: map[string][]model.PerformancePoint{
		"sentiment": append(pts(model.MetricInvocations, start, 1000, 1000, 700, 700, 700),
			pts(model.MetricLatency, start, 100, 100, 100, 100, 100)...),
	}}
	svc := newTestRetrainService(points, memAges{}, nil, nil, nil)

	d, err := svc.Evaluate(context.Background(), "sentiment")
	require.NoError(t, err)
	assert.False(t, d.ShouldRetrain)
	assert.False(t, d.AutoRetrain)
	assert.Zero(t, d.Confidence)
	assert.Equal(t, "No retraining needed", d.Reason)
}

type predictionDriftAlways struct{}

func (predictionDriftAlways) PredictionDrift(string, []model.PerformancePoint) bool { return true }

func TestService_Evaluate_PredictionDrift(t *testing.T) {
	points := &memPoints{data: map[string][]model.PerformancePoint{
		"recommendation": pts(model.MetricLatency, serviceNow, 100, 100, 100),
	}}
	svc := newTestRetrainService(points, memAges{}, nil, nil, nil, WithPredictionDrift(predictionDriftAlways{}))

	d, err := svc.Evaluate(context.Background(), "recommendation")
	require.NoError(t, err)
	assert.True(t, d.Signals.Drift.PredictionDrift)
	assert.True(t, d.ShouldRetrain)
	assert.False(t, d.AutoRetrain)
	assert.InDelta(t, 0.3, d.Confidence, 1e-9)
}

func TestService_Evaluate_StoreFailureStaysTransient(t *testing.T) {
	points := &memPoints{errs: map[string]error{
		"sentiment": resilience.Unavailable("influxdb", errors.New("connection refused")),
	}}
	svc := newTestRetrainService(points, memAges{}, nil, nil, nil)

	d, err := svc.Evaluate(context.Background(), "sentiment")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	te, ok := resilience.AsTransient(err)
	require.True(t, ok)
	assert.Equal(t, "influxdb", te.Service)
	assert.False(t, d.ShouldRetrain)
	assert.False(t, d.AutoRetrain)
}

func TestService_CheckAll_NoDataAndErrorsNeverRetrain(t *testing.T) {
	points := &memPoints{errs: map[string]error{
		"ranking": resilience.Unavailable("influxdb", errors.New("timeout")),
	}}
	jobs := &fakeJobs{}
	rec := &msgRecorder{}
	ages := memAges{
		"fraud":   serviceNow.AddDate(0, 0, -90),
		"ranking": serviceNow.AddDate(0, 0, -90),
	}
	svc := newTestRetrainService(points, ages, jobs, rec, []string{"fraud", "ranking"},
		WithFeatureDrift(driftAlways{}), WithPredictionDrift(predictionDriftAlways{}))

	res, err := svc.CheckAll(context.Background())
	require.NoError(t, err)
	for _, name := range []string{"fraud", "ranking"} {
		r := res.Decisions[name]
		require.NotNil(t, r, name)
		assert.False(t, r.ShouldRetrain, name)
		assert.False(t, r.AutoRetrain, name)
		assert.False(t, r.Triggered, name)
		assert.False(t, r.Notified, name)
		assert.Zero(t, r.Confidence, name)
	}
	assert.Equal(t, NoDataReason, res.Decisions["fraud"].Reason)
	assert.Contains(t, res.Decisions["ranking"].Error, "timeout")
	assert.Empty(t, jobs.started)
	assert.Empty(t, rec.subjects())
}

func TestService_CheckAll(t *testing.T) {
	start := serviceNow.Add(-72 * time.Hour)
	points := &memPoints{
		data: map[string][]model.PerformancePoint{
			"recommendation": errorRatePoints(start),
			"sentiment":      pts(model.MetricLatency, start, 100, 100, 150, 150, 150),
		},
		errs: map[string]error{"ranking": errors.New("influx unavailable")},
	}
	jobs := &fakeJobs{}
	rec := &msgRecorder{}
	svc := newTestRetrainService(points, memAges{}, jobs, rec,
		[]string{"recommendation", "sentiment", "fraud", "ranking"}, WithConcurrency(2))

	res, err := svc.CheckAll(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Decisions, 4)

	r := res.Decisions["recommendation"]
	assert.True(t, r.ShouldRetrain)
	assert.True(t, r.AutoRetrain)
	assert.True(t, r.Triggered)
	require.NotNil(t, r.Job)
	assert.Equal(t, "Significant error rate increase detected", r.Job.Reason)

	s := res.Decisions["sentiment"]
	assert.True(t, s.ShouldRetrain)
	assert.False(t, s.AutoRetrain)
	assert.False(t, s.Triggered)
	assert.True(t, s.Notified)

	assert.Equal(t, NoDataReason, res.Decisions["fraud"].Reason)
	assert.Contains(t, res.Decisions["ranking"].Error, "influx unavailable")

	assert.Equal(t, []string{"recommendation"}, jobs.started)
	assert.ElementsMatch(t, []string{
		"Model Retraining Started: recommendation",
		"Model Retraining Recommended: sentiment",
	}, rec.subjects())
}

func TestService_CheckAll_TriggerFailure(t *testing.T) {
	points := &memPoints{data: map[string][]model.PerformancePoint{
		"recommendation": errorRatePoints(serviceNow.Add(-time.Hour)),
	}}
	rec := &msgRecorder{}
	svc := newTestRetrainService(points, nil, &fakeJobs{err: errors.New("quota exceeded")}, rec, []string{"recommendation"})

	res, err := svc.CheckAll(context.Background())
	require.NoError(t, err)
	r := res.Decisions["recommendation"]
	assert.False(t, r.Triggered)
	assert.Contains(t, r.Error, "quota exceeded")
	assert.Empty(t, rec.subjects())
}

func TestService_TriggerAndStatus(t *testing.T) {
	rec := &msgRecorder{}
	svc := newTestRetrainService(&memPoints{}, nil, &fakeJobs{}, rec, nil)

	job, err := svc.Trigger(context.Background(), "sentiment", "manual")
	require.NoError(t, err)
	assert.Equal(t, "sentiment", job.Model)
	require.Len(t, rec.msgs, 1)
	assert.Contains(t, rec.msgs[0].Body, "Training Job Name: sentiment-retrain-20260610-120000")
	assert.Contains(t, rec.msgs[0].Body, "Reason: manual")

	st, err := svc.Status(context.Background(), job.Name)
	require.NoError(t, err)
	assert.Equal(t, model.TrainingCompleted, st.Status)

	_, err = svc.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestService_NoTrainingBackend(t *testing.T) {
	svc := newTestRetrainService(&memPoints{}, nil, nil, nil, nil)
	_, err := svc.Trigger(context.Background(), "sentiment", "")
	assert.Error(t, err)
	_, err = svc.Status(context.Background(), "job")
	assert.Error(t, err)
}

func TestService_Schedule(t *testing.T) {
	sched := &fakeScheduler{}
	svc := newTestRetrainService(&memPoints{}, nil, nil, nil, nil, WithScheduler(sched))
	runAt := serviceNow.Add(24 * time.Hour)

	run, err := svc.Schedule(context.Background(), "sentiment", runAt, "")
	require.NoError(t, err)
	assert.Equal(t, "Scheduled retraining", run.Reason)
	assert.Equal(t, runAt, sched.got.RunAt)

	_, err = svc.Schedule(context.Background(), "", runAt, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	noSched := newTestRetrainService(&memPoints{}, nil, nil, nil, nil)
	_, err = noSched.Schedule(context.Background(), "sentiment", runAt, "")
	assert.Error(t, err)
}

func TestRecommendedMessage(t *testing.T) {
	d := Decision{Model: "sentiment", ShouldRetrain: true, Confidence: 0.3, Reason: "Significant latency degradation detected"}
	msg := recommendedMessage(d, serviceNow)
	assert.Equal(t, "Model Retraining Recommended: sentiment", msg.Subject)
	assert.Contains(t, msg.Body, "Confidence: 0.30")
	assert.Contains(t, msg.Body, "Auto-retrain enabled: false")
	assert.Contains(t, msg.Body, "Timestamp: 2026-06-10T12:00:00Z")
}
