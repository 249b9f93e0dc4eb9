// Package monitoring collects endpoint performance metrics for hosted models,
// raises alerts on threshold breaches, and reports drift and health.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/config"
	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/retrain"
)

const (
	defaultDriftDays = 7
	maxDriftDays     = 90
	defaultDriftPct  = 20.0
)

// Health labels used in performance reports.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// SnapshotCollector fetches current endpoint metrics. *Collector satisfies it.
type SnapshotCollector interface {
	Collect(ctx context.Context, modelName, endpoint string) (*Snapshot, error)
}

// PointStore persists and reads back performance points. *metrics.Store
// satisfies it.
type PointStore interface {
	Write(ctx context.Context, points []model.PerformancePoint) error
	Points(ctx context.Context, modelName string, window time.Duration) ([]model.PerformancePoint, error)
}

// ModelResult is the outcome of monitoring one model.
type ModelResult struct {
	Model     string    `json:"model_name"`
	Snapshot  *Snapshot `json:"metrics"`
	Issues    []Issue   `json:"issues"`
	AlertSent bool      `json:"alert_sent"`
	Timestamp time.Time `json:"timestamp"`
}

// RunResult is the outcome of monitoring every configured model.
type RunResult struct {
	Models    []string                `json:"monitored_models"`
	Results   map[string]*ModelResult `json:"metrics"`
	Errors    map[string]string       `json:"errors,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// DriftReport is the drift analysis of one model's stored history.
type DriftReport struct {
	Model      string                                   `json:"model_name"`
	PeriodDays int                                      `json:"analysis_period_days"`
	Analysis   map[model.MetricType]retrain.MetricDrift `json:"drift_analysis"`
	DataPoints int                                      `json:"data_points"`
}

// ModelSummary aggregates a model's stored history for a report.
type ModelSummary struct {
	DataPoints       int     `json:"data_points"`
	AvgLatency       float64 `json:"avg_latency"`
	MaxLatency       float64 `json:"max_latency"`
	TotalInvocations float64 `json:"total_invocations"`
	TotalErrors      float64 `json:"total_errors"`
	ErrorRate        float64 `json:"error_rate"`
	HealthStatus     string  `json:"health_status"`
}

// Report summarizes performance across all monitored models.
type Report struct {
	PeriodDays      int                     `json:"report_period_days"`
	GeneratedAt     time.Time               `json:"generated_at"`
	ModelsAnalyzed  int                     `json:"models_analyzed"`
	TotalDataPoints int                     `json:"total_data_points"`
	Summaries       map[string]ModelSummary `json:"model_summaries"`
}

// Monitor ties collection, alerting and storage together.
type Monitor struct {
	collector SnapshotCollector
	alerter   *Alerter
	points    PointStore
	cfg       config.MonitoringConfig
	now       func() time.Time
}

// NewMonitor creates a Monitor. points may be nil, in which case snapshots
// are not persisted and drift/report calls fail.
func NewMonitor(collector SnapshotCollector, alerter *Alerter, points PointStore, cfg config.MonitoringConfig) *Monitor {
	return &Monitor{
		collector: collector,
		alerter:   alerter,
		points:    points,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Models returns the configured model names in stable order.
func (m *Monitor) Models() []string {
	names := make([]string, 0, len(m.cfg.Endpoints))
	for name, ep := range m.cfg.Endpoints {
		if ep != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RunModel collects, evaluates, alerts on and stores metrics for one model.
func (m *Monitor) RunModel(ctx context.Context, modelName string) (*ModelResult, error) {
	if modelName == "" {
		return nil, model.InvalidInputf("monitoring: model_name is required")
	}
	endpoint, ok := m.cfg.Endpoints[modelName]
	if !ok || endpoint == "" {
		return nil, model.InvalidInputf("monitoring: no endpoint configured for model %q", modelName)
	}

	snap, err := m.collector.Collect(ctx, modelName, endpoint)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: run %s", modelName)
	}

	res := &ModelResult{
		Model:     modelName,
		Snapshot:  snap,
		Issues:    m.alerter.Evaluate(snap),
		Timestamp: m.now().UTC(),
	}
	if len(res.Issues) > 0 {
		res.AlertSent = m.alerter.SendAlert(ctx, modelName, res.Issues)
	}

	m.store(ctx, snap)
	return res, nil
}

// store persists a snapshot. Storage failures are logged and do not fail
// the monitoring run.
func (m *Monitor) store(ctx context.Context, snap *Snapshot) {
	if m.points == nil {
		return
	}
	if err := m.points.Write(ctx, snap.Points()); err != nil {
		zap.L().Error("monitoring: failed to store metrics",
			zap.String("model", snap.Model),
			zap.Error(err),
		)
	}
}

// RunAll monitors every configured model. A failing model is reported in
// Errors without stopping the others.
func (m *Monitor) RunAll(ctx context.Context) (*RunResult, error) {
	out := &RunResult{
		Results:   make(map[string]*ModelResult),
		Timestamp: m.now().UTC(),
	}
	for _, name := range m.Models() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "monitoring: run all")
		}
		res, err := m.RunModel(ctx, name)
		if err != nil {
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[name] = err.Error()
			zap.L().Warn("monitoring: model check failed", zap.String("model", name), zap.Error(err))
			continue
		}
		out.Models = append(out.Models, name)
		out.Results[name] = res
	}
	return out, nil
}

// CheckDrift analyzes the stored history of a model for drift over the last
// days (default 7).
func (m *Monitor) CheckDrift(ctx context.Context, modelName string, days int) (*DriftReport, error) {
	if modelName == "" {
		return nil, model.InvalidInputf("monitoring: model_name is required")
	}
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}
	if m.points == nil {
		return nil, eris.New("monitoring: no metrics store configured")
	}

	pts, err := m.points.Points(ctx, modelName, time.Duration(days)*24*time.Hour)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: check drift %s", modelName)
	}

	threshold := m.cfg.DriftChangePct
	if threshold <= 0 {
		threshold = defaultDriftPct
	}
	return &DriftReport{
		Model:      modelName,
		PeriodDays: days,
		Analysis:   retrain.DriftByMetric(pts, threshold),
		DataPoints: len(pts),
	}, nil
}

// Report summarizes stored metrics per configured model over the last days.
// Models without data in the window are left out.
func (m *Monitor) Report(ctx context.Context, days int) (*Report, error) {
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}
	if m.points == nil {
		return nil, eris.New("monitoring: no metrics store configured")
	}

	rep := &Report{
		PeriodDays:  days,
		GeneratedAt: m.now().UTC(),
		Summaries:   make(map[string]ModelSummary),
	}
	window := time.Duration(days) * 24 * time.Hour
	for _, name := range m.Models() {
		pts, err := m.points.Points(ctx, name, window)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: report %s", name)
		}
		if len(pts) == 0 {
			continue
		}
		rep.Summaries[name] = m.summarize(pts)
		rep.TotalDataPoints += len(pts)
	}
	rep.ModelsAnalyzed = len(rep.Summaries)
	return rep, nil
}

func (m *Monitor) summarize(pts []model.PerformancePoint) ModelSummary {
	s := ModelSummary{DataPoints: len(pts), HealthStatus: HealthHealthy}

	var latencySum float64
	var latencyN int
	for _, p := range pts {
		switch p.MetricType {
		case model.MetricLatency:
			latencySum += p.Value
			latencyN++
			if latencyN == 1 || p.Value > s.MaxLatency {
				s.MaxLatency = p.Value
			}
		case model.MetricInvocations:
			s.TotalInvocations += p.Value
		case model.Metric4XXErrors:
			s.TotalErrors += p.Value
		}
	}
	if latencyN > 0 {
		s.AvgLatency = latencySum / float64(latencyN)
	}
	if s.TotalInvocations > 0 {
		s.ErrorRate = s.TotalErrors / s.TotalInvocations * 100
	}

	switch {
	case s.ErrorRate > m.cfg.ReportErrorPct:
		s.HealthStatus = HealthUnhealthy
	case s.AvgLatency > m.cfg.ReportLatencyMs:
		s.HealthStatus = HealthDegraded
	}
	return s
}

func normalizeDays(days int) (int, error) {
	if days == 0 {
		return defaultDriftDays, nil
	}
	if days < 1 || days > maxDriftDays {
		return 0, model.InvalidInputf("monitoring: days_back must be between 1 and %d, got %d", maxDriftDays, days)
	}
	return days, nil
}
