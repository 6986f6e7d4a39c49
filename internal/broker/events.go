package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventProducer is the subset of Producer used by publishers
type EventProducer interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing auth events
type EventPublisher struct {
	producer EventProducer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventProducer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishAuthEvent publishes an auth event keyed by client so that all events of
// one client stay on one partition, in order
func (ep *EventPublisher) PublishAuthEvent(ctx context.Context, event *models.AuthEvent) error {
	key := fmt.Sprintf("client-%s", event.ClientID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming auth events
type EventHandler struct {
	onSessionChange func(context.Context, *models.AuthEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnSessionChange registers a handler for all session-changing events
func (eh *EventHandler) OnSessionChange(handler func(context.Context, *models.AuthEvent) error) {
	eh.onSessionChange = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeSignedIn,
		models.EventTypeSignedOut,
		models.EventTypeTokenRefreshed,
		models.EventTypeUserUpdated:
		if eh.onSessionChange != nil {
			var event models.AuthEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onSessionChange(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
