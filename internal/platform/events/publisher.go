package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/podbridge/fulfillment/internal/services"
)

// PubSubPublisher publishes fulfillment events as JSON, ordered per local order.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher enables message ordering on topic; subscriptions must opt in to ordering to benefit.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("events: pubsub topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic}, nil
}

func (p *PubSubPublisher) PublishFulfillmentEvent(ctx context.Context, event services.FulfillmentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}

	attrs := map[string]string{"type": event.Type}
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "referenceId", event.ReferenceID)
	setAttr(attrs, "externalStatus", event.ExternalStatus)

	orderingKey := strings.TrimSpace(event.OrderID)
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey,
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		if orderingKey != "" {
			p.topic.ResumePublish(orderingKey)
		}
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
