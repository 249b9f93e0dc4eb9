package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/config"
	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/notify"
)

// IssueType identifies the kind of performance issue.
type IssueType string

const (
	IssueHighLatency    IssueType = "high_latency"
	IssueHighErrorRate  IssueType = "high_error_rate"
	IssueServerErrors   IssueType = "server_errors"
	IssueHighCPU        IssueType = "high_cpu_utilization"
	IssueHighMemory     IssueType = "high_memory_utilization"
	IssueEndpointStatus IssueType = "endpoint_not_in_service"
)

// Severity of an issue.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Issue is a single threshold breach found in a snapshot.
type Issue struct {
	Type      IssueType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Metric    string    `json:"metric"`
	Value     any       `json:"value"`
	Threshold any       `json:"threshold"`
}

// Alerter evaluates snapshots against configured thresholds and sends
// alerts through a notifier when thresholds are breached.
type Alerter struct {
	cfg      config.MonitoringConfig
	notifier notify.Notifier
	now      func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig, n notify.Notifier) *Alerter {
	return &Alerter{cfg: cfg, notifier: n, now: time.Now}
}

// Evaluate checks the snapshot against thresholds and returns any issues.
func (a *Alerter) Evaluate(snap *Snapshot) []Issue {
	var issues []Issue

	if r, ok := snap.Reading(model.MetricLatency); ok && r.Value > a.cfg.LatencyWarnMs {
		issues = append(issues, Issue{
			Type:      IssueHighLatency,
			Severity:  severity(r.Value > a.cfg.LatencyHighMs),
			Message:   fmt.Sprintf("High latency detected: %.0fms", r.Value),
			Metric:    string(model.MetricLatency),
			Value:     r.Value,
			Threshold: a.cfg.LatencyWarnMs,
		})
	}

	errs, okErr := snap.Reading(model.Metric4XXErrors)
	inv, okInv := snap.Reading(model.MetricInvocations)
	if okErr && okInv && inv.Value > 0 {
		rate := errs.Value / inv.Value * 100
		if rate > a.cfg.Error4XXWarnPct {
			issues = append(issues, Issue{
				Type:      IssueHighErrorRate,
				Severity:  severity(rate > a.cfg.Error4XXHighPct),
				Message:   fmt.Sprintf("High 4XX error rate: %.1f%%", rate),
				Metric:    "ErrorRate4XX",
				Value:     rate,
				Threshold: a.cfg.Error4XXWarnPct,
			})
		}
	}

	if r, ok := snap.Reading(model.Metric5XXErrors); ok && r.Value > 0 {
		issues = append(issues, Issue{
			Type:      IssueServerErrors,
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("Server errors detected: %.0f 5XX errors", r.Value),
			Metric:    string(model.Metric5XXErrors),
			Value:     r.Value,
			Threshold: 0,
		})
	}

	if r, ok := snap.Reading(model.MetricCPU); ok && r.Value > a.cfg.CPUWarnPct {
		issues = append(issues, Issue{
			Type:      IssueHighCPU,
			Severity:  severity(r.Value >= a.cfg.CPUHighPct),
			Message:   fmt.Sprintf("High CPU utilization: %.1f%%", r.Value),
			Metric:    string(model.MetricCPU),
			Value:     r.Value,
			Threshold: a.cfg.CPUWarnPct,
		})
	}

	if r, ok := snap.Reading(model.MetricMemory); ok && r.Value > a.cfg.MemoryWarnPct {
		issues = append(issues, Issue{
			Type:      IssueHighMemory,
			Severity:  severity(r.Value >= a.cfg.MemoryHighPct),
			Message:   fmt.Sprintf("High memory utilization: %.1f%%", r.Value),
			Metric:    string(model.MetricMemory),
			Value:     r.Value,
			Threshold: a.cfg.MemoryWarnPct,
		})
	}

	// An unknown status means the describe call failed, not that the
	// endpoint is down.
	if st := snap.Status.Status; st != "" && st != statusUnknown && st != endpointInService {
		issues = append(issues, Issue{
			Type:      IssueEndpointStatus,
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("Endpoint not in service: %s", st),
			Metric:    "EndpointStatus",
			Value:     st,
			Threshold: endpointInService,
		})
	}

	return issues
}

func severity(high bool) Severity {
	if high {
		return SeverityHigh
	}
	return SeverityMedium
}

// Message builds the grouped alert notification for a model.
func (a *Alerter) Message(modelName string, issues []Issue) notify.Message {
	now := a.now().UTC()

	var b strings.Builder
	fmt.Fprintf(&b, "Performance issues detected for model: %s\n", modelName)
	fmt.Fprintf(&b, "Timestamp: %s\n\n", now.Format(time.RFC3339))
	writeGroup(&b, "HIGH SEVERITY ISSUES:", issues, SeverityHigh)
	writeGroup(&b, "MEDIUM SEVERITY ISSUES:", issues, SeverityMedium)
	b.WriteString("Please investigate and take appropriate action.\n\n")
	b.WriteString("This alert was generated automatically by the ML monitoring system.")

	sev := SeverityMedium
	for _, is := range issues {
		if is.Severity == SeverityHigh {
			sev = SeverityHigh
			break
		}
	}

	return notify.Message{
		Subject:   "Model Performance Alert: " + modelName,
		Body:      b.String(),
		Severity:  string(sev),
		Labels:    map[string]string{"model": modelName, "issues": fmt.Sprint(len(issues))},
		Timestamp: now,
	}
}

func writeGroup(b *strings.Builder, title string, issues []Issue, sev Severity) {
	var lines []string
	for _, is := range issues {
		if is.Severity == sev {
			lines = append(lines, "- "+is.Message)
		}
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString(title + "\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
}

// SendAlert notifies about the given issues. It reports whether a
// notification was delivered; nothing is sent for an empty issue list.
func (a *Alerter) SendAlert(ctx context.Context, modelName string, issues []Issue) bool {
	if len(issues) == 0 || a.notifier == nil {
		return false
	}
	if err := a.notifier.Notify(ctx, a.Message(modelName, issues)); err != nil {
		zap.L().Error("monitoring: failed to send alert",
			zap.String("model", modelName),
			zap.Int("issues", len(issues)),
			zap.Error(err),
		)
		return false
	}
	zap.L().Info("monitoring: sent performance alert",
		zap.String("model", modelName),
		zap.Int("issues", len(issues)),
	)
	return true
}
