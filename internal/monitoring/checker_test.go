package monitoring

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type tickingCollector struct {
	calls atomic.Int32
}

func (c *tickingCollector) Collect(_ context.Context, modelName, endpoint string) (*Snapshot, error) {
	c.calls.Add(1)
	return &Snapshot{Model: modelName, Endpoint: endpoint, Status: EndpointStatus{Status: "InService"}}, nil
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	col := &tickingCollector{}
	m := NewMonitor(col, NewAlerter(testMonitoringConfig(), nil), &memPoints{}, testMonitoringConfig())
	checker := NewChecker(m, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// Let it tick a few times then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
	assert.Positive(t, col.calls.Load())
}

func TestChecker_DefaultInterval(t *testing.T) {
	m := NewMonitor(&tickingCollector{}, NewAlerter(testMonitoringConfig(), nil), nil, testMonitoringConfig())

	checker := NewChecker(m, 0)
	assert.Equal(t, 5*time.Minute, checker.interval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
