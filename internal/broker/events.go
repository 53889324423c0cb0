package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
	"github.com/jafreck/TheresAlwaysADeal/internal/util"
)

// EventPublisher publishes downstream pricing events. Consumers
// (alerting) are external collaborators; delivery is at-least-once.
type EventPublisher struct {
	queues *Queues
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(queues *Queues) *EventPublisher {
	return &EventPublisher{queues: queues}
}

// PublishPriceDrop publishes a PriceDrop event
func (ep *EventPublisher) PublishPriceDrop(ctx context.Context, event *models.PriceDropEvent) error {
	event.BaseEvent = newBaseEvent(models.EventTypePriceDrop)
	key := fmt.Sprintf("listing-%d", event.StoreListingID)

	if err := ep.queues.Publish(ctx, QueuePriceDrop, key, event); err != nil {
		return err
	}
	util.PriceDropEventsTotal.Inc()
	return nil
}

// PublishAllTimeLow publishes an AllTimeLow event
func (ep *EventPublisher) PublishAllTimeLow(ctx context.Context, event *models.AllTimeLowEvent) error {
	event.BaseEvent = newBaseEvent(models.EventTypeAllTimeLow)
	key := fmt.Sprintf("listing-%d", event.StoreListingID)

	if err := ep.queues.Publish(ctx, QueueAllTimeLow, key, event); err != nil {
		return err
	}
	util.AllTimeLowEventsTotal.Inc()
	return nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}
