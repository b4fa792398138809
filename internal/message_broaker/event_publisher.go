package message_broaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/RezaEskandarii/shotfire/types"
)

// EventPublisher hands job outcome events to the webhook pipeline.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event types.JobEvent) error
}

type BrokerEventPublisher struct {
	broker MessageBroker
	logger *slog.Logger
}

func NewBrokerEventPublisher(broker MessageBroker, logger *slog.Logger) *BrokerEventPublisher {
	return &BrokerEventPublisher{broker: broker, logger: logger}
}

// PublishJobEvent routes the event by its type, e.g. "job.completed".
func (p *BrokerEventPublisher) PublishJobEvent(ctx context.Context, event types.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	if err := p.broker.Publish(ctx, event.Type, body); err != nil {
		return fmt.Errorf("publish %s for job %s: %w", event.Type, event.JobID, err)
	}
	p.logger.Debug("job event published", "type", event.Type, "job_id", event.JobID)
	return nil
}

// NoopEventPublisher is used when event publishing is disabled.
type NoopEventPublisher struct{}

func (NoopEventPublisher) PublishJobEvent(context.Context, types.JobEvent) error { return nil }
