package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Checker runs periodic monitoring checks in the background.
type Checker struct {
	monitor  *Monitor
	interval time.Duration
}

// NewChecker creates a background checker. A non-positive interval defaults
// to five minutes.
func NewChecker(monitor *Monitor, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{monitor: monitor, interval: interval}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting monitoring checker",
		zap.Duration("interval", c.interval),
		zap.Strings("models", c.monitor.Models()),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	res, err := c.monitor.RunAll(ctx)
	if err != nil {
		log.Error("monitoring: check failed", zap.Error(err))
		return
	}

	var issues, sent int
	for _, r := range res.Results {
		issues += len(r.Issues)
		if r.AlertSent {
			sent++
		}
	}
	log.Info("monitoring: check complete",
		zap.Int("models", len(res.Models)),
		zap.Int("failed", len(res.Errors)),
		zap.Int("issues", issues),
		zap.Int("alerts_sent", sent),
	)
}
