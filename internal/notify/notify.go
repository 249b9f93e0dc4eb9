// Package notify delivers operator notifications for retraining and
// performance events.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/config"
	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

// Message is a single notification.
type Message struct {
	Subject   string            `json:"subject"`
	Body      string            `json:"message"`
	Severity  string            `json:"severity,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notifier sends a message to one or more destinations.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Multi fans a message out to every notifier. All destinations are attempted
// and their errors joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to the structured log. It is the fallback when no
// destination is configured.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(_ context.Context, msg Message) error {
	zap.L().Info("notify: notification",
		zap.String("subject", msg.Subject),
		zap.String("severity", msg.Severity),
		zap.String("message", msg.Body),
	)
	return nil
}

// New builds the notifier for the configured destinations. A nil sns client
// disables the topic destination.
func New(cfg config.NotifyConfig, sns PublishAPI, settings resilience.Settings) Notifier {
	var out Multi
	if cfg.SNSTopicARN != "" && sns != nil {
		out = append(out, NewSNS(sns, cfg.SNSTopicARN, settings.Guard("sns")))
	}
	if cfg.WebhookURL != "" {
		out = append(out, NewWebhook(cfg.WebhookURL, settings.Guard("webhook")))
	}
	if len(out) == 0 {
		return Log{}
	}
	return out
}
