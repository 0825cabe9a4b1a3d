// Package notify tells the pharmacy about refill requests published by the
// outbox worker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/rx-portal/internal/email"
	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/pkg/logger"
	"github.com/jwalitptl/rx-portal/pkg/messaging"
	"github.com/jwalitptl/rx-portal/pkg/metrics"
)

// Subscriber is the subscribing half of a messaging.Broker.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

type RefillNotifier struct {
	subscriber Subscriber
	mailer     email.Service
	to         string
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewRefillNotifier(sub Subscriber, mailer email.Service, to string, log *logger.Logger, m *metrics.Metrics) *RefillNotifier {
	return &RefillNotifier{
		subscriber: sub,
		mailer:     mailer,
		to:         to,
		logger:     log,
		metrics:    m,
	}
}

// Run consumes refill events until ctx is cancelled or the subscription ends.
func (n *RefillNotifier) Run(ctx context.Context) error {
	msgs, err := n.subscriber.Subscribe(ctx, model.EventRefillRequested)
	if err != nil {
		return fmt.Errorf("failed to subscribe to refill events: %w", err)
	}

	n.logger.Info("Refill notifier started", "channel", model.EventRefillRequested)
	for raw := range msgs {
		if err := n.Handle(ctx, raw); err != nil {
			n.logger.Error(err, "Failed to send refill notification")
		}
	}
	n.logger.Info("Refill notifier stopped")
	return nil
}

// Handle decodes one published message and emails it.
func (n *RefillNotifier) Handle(ctx context.Context, raw []byte) error {
	var envelope struct {
		ID      string                     `json:"id"`
		Type    string                     `json:"type"`
		Payload model.RefillRequestedEvent `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}
	if envelope.Type != model.EventRefillRequested {
		return fmt.Errorf("unexpected event type %q", envelope.Type)
	}

	err := n.mailer.SendRefillRequested(ctx, n.to, envelope.Payload)
	n.metrics.NotificationsSent.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		return err
	}

	n.logger.Info("Refill notification sent",
		"event_id", envelope.ID,
		"prescription_id", envelope.Payload.PrescriptionID)
	return nil
}

var _ Subscriber = (messaging.Broker)(nil)
