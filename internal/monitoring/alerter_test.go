package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/notify"
)

func snapshotWith(values map[model.MetricType]float64, status string) *Snapshot {
	snap := &Snapshot{
		Model:    "recommendation",
		Endpoint: "recommendation-endpoint",
		Metrics:  make(map[model.MetricType]MetricReading),
		Status:   EndpointStatus{Status: status},
	}
	for k, v := range values {
		snap.Metrics[k] = MetricReading{Value: v, Timestamp: time.Now()}
	}
	return snap
}

func issueTypes(issues []Issue) []IssueType {
	out := make([]IssueType, len(issues))
	for i, is := range issues {
		out[i] = is.Type
	}
	return out
}

func TestAlerter_Evaluate_NoIssues(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), nil)
	snap := snapshotWith(map[model.MetricType]float64{
		model.MetricLatency:     1200,
		model.MetricInvocations: 1000,
		model.Metric4XXErrors:   10,
		model.Metric5XXErrors:   0,
		model.MetricCPU:         55,
		model.MetricMemory:      60,
	}, "InService")

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_Thresholds(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), nil)

	tests := []struct {
		name     string
		values   map[model.MetricType]float64
		status   string
		want     IssueType
		severity Severity
	}{
		{"latency medium", map[model.MetricType]float64{model.MetricLatency: 6000}, "InService", IssueHighLatency, SeverityMedium},
		{"latency high", map[model.MetricType]float64{model.MetricLatency: 12000}, "InService", IssueHighLatency, SeverityHigh},
		{"4xx medium", map[model.MetricType]float64{model.MetricInvocations: 100, model.Metric4XXErrors: 7}, "InService", IssueHighErrorRate, SeverityMedium},
		{"4xx high", map[model.MetricType]float64{model.MetricInvocations: 100, model.Metric4XXErrors: 15}, "InService", IssueHighErrorRate, SeverityHigh},
		{"5xx", map[model.MetricType]float64{model.Metric5XXErrors: 1}, "InService", IssueServerErrors, SeverityHigh},
		{"cpu medium", map[model.MetricType]float64{model.MetricCPU: 85}, "InService", IssueHighCPU, SeverityMedium},
		{"cpu high at boundary", map[model.MetricType]float64{model.MetricCPU: 90}, "InService", IssueHighCPU, SeverityHigh},
		{"memory medium", map[model.MetricType]float64{model.MetricMemory: 90}, "InService", IssueHighMemory, SeverityMedium},
		{"memory high at boundary", map[model.MetricType]float64{model.MetricMemory: 95}, "InService", IssueHighMemory, SeverityHigh},
		{"endpoint down", nil, "Failed", IssueEndpointStatus, SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := a.Evaluate(snapshotWith(tt.values, tt.status))
			require.Len(t, issues, 1)
			assert.Equal(t, tt.want, issues[0].Type)
			assert.Equal(t, tt.severity, issues[0].Severity)
		})
	}
}

func TestAlerter_Evaluate_SkipsMissingData(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), nil)
	snap := snapshotWith(nil, "Unknown")
	snap.Metrics[model.MetricLatency] = MetricReading{Value: 50000, Error: "throttled"}
	snap.Metrics[model.Metric4XXErrors] = MetricReading{Value: 50}
	snap.Metrics[model.MetricInvocations] = MetricReading{Value: 0}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_MultipleIssues(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), nil)
	snap := snapshotWith(map[model.MetricType]float64{
		model.MetricLatency:   7000,
		model.Metric5XXErrors: 3,
		model.MetricCPU:       95,
	}, "Updating")

	issues := a.Evaluate(snap)
	assert.Equal(t, []IssueType{IssueHighLatency, IssueServerErrors, IssueHighCPU, IssueEndpointStatus}, issueTypes(issues))
}

func TestAlerter_Message(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(), nil)
	a.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }

	msg := a.Message("sentiment", []Issue{
		{Type: IssueServerErrors, Severity: SeverityHigh, Message: "Server errors detected: 3 5XX errors"},
		{Type: IssueHighCPU, Severity: SeverityMedium, Message: "High CPU utilization: 85.0%"},
	})
	assert.Equal(t, "Model Performance Alert: sentiment", msg.Subject)
	assert.Equal(t, "high", msg.Severity)
	assert.Contains(t, msg.Body, "Performance issues detected for model: sentiment")
	assert.Contains(t, msg.Body, "HIGH SEVERITY ISSUES:\n- Server errors detected: 3 5XX errors")
	assert.Contains(t, msg.Body, "MEDIUM SEVERITY ISSUES:\n- High CPU utilization: 85.0%")
	assert.Contains(t, msg.Body, "2026-06-01T12:00:00Z")
	assert.Equal(t, "2", msg.Labels["issues"])

	msg = a.Message("sentiment", []Issue{{Severity: SeverityMedium, Message: "m"}})
	assert.Equal(t, "medium", msg.Severity)
	assert.NotContains(t, msg.Body, "HIGH SEVERITY")
}

func TestAlerter_SendAlert_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)

		var msg notify.Message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "Model Performance Alert: recommendation", msg.Subject)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(testMonitoringConfig(), notify.NewWebhook(ts.URL, fastSettings.Guard("webhook")))
	sent := a.SendAlert(context.Background(), "recommendation", []Issue{
		{Type: IssueHighLatency, Severity: SeverityHigh, Message: "High latency detected: 12000ms"},
	})
	assert.True(t, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_SendAlert_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	a := NewAlerter(testMonitoringConfig(), notify.NewWebhook(ts.URL, fastSettings.Guard("webhook")))
	sent := a.SendAlert(context.Background(), "recommendation", []Issue{{Severity: SeverityHigh, Message: "x"}})
	assert.False(t, sent)
}

func TestAlerter_SendAlert_NoIssues(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
	}))
	defer ts.Close()

	a := NewAlerter(testMonitoringConfig(), notify.NewWebhook(ts.URL, fastSettings.Guard("webhook")))
	assert.False(t, a.SendAlert(context.Background(), "recommendation", nil))
	assert.Equal(t, int32(0), received.Load())
}
