// Package notify broadcasts job lifecycle transitions so downstream
// consumers (chat bots, webhooks) can react without polling the API.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Event is the wire payload published on every terminal transition.
type Event struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	ErrorCode   string    `json:"error_code,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher delivers job lifecycle events. Delivery is best-effort: a failed
// publish is logged by the caller and never rolls back the job transition.
type Publisher interface {
	JobTransitioned(ctx context.Context, event Event) error
}

// Broker is the slice of the message client the AMQP publisher needs.
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// AMQP publishes events to RabbitMQ as persistent JSON messages.
type AMQP struct {
	logger *slog.Logger
	broker Broker
}

// NewAMQP creates an AMQP-backed publisher.
func NewAMQP(logger *slog.Logger, broker Broker) *AMQP {
	return &AMQP{logger: logger, broker: broker}
}

func (p *AMQP) JobTransitioned(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if err := p.broker.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}

	p.logger.Debug("Job event published",
		slog.String("job_id", event.JobID),
		slog.String("status", event.Status),
	)
	return nil
}

// Nop is a Publisher that discards every event. Used when no broker is
// configured.
type Nop struct{}

func (Nop) JobTransitioned(ctx context.Context, event Event) error {
	return nil
}
