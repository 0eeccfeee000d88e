// Package jobs moves order lifecycle events between the API and its asynchronous consumers.
package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// PubSubOrderEventPublisher publishes order events to a Pub/Sub topic, ordered per order.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a publisher for topic and enables message
// ordering so the events of one order are delivered in sequence.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderEvent publishes event and waits for the server-assigned message ID.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order event publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string, 4)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", string(event.Type))
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "userId", event.UserID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.OrderID,
	})
	id, err := result.Get(ctx)
	if err != nil {
		// a failed publish pauses the ordering key until resumed
		p.topic.ResumePublish(event.OrderID)
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubOrderEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// PushEnvelope is the body Pub/Sub POSTs to a push subscription endpoint.
type PushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		OrderingKey string            `json:"orderingKey"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ErrInvalidPush reports a push body that does not carry an order event.
var ErrInvalidPush = errors.New("jobs: invalid push message")

// DecodePushEvent extracts the order event from a push envelope.
func DecodePushEvent(envelope PushEnvelope) (domain.OrderEvent, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return domain.OrderEvent{}, fmt.Errorf("%w: %v", ErrInvalidPush, err)
	}
	var event domain.OrderEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.OrderEvent{}, fmt.Errorf("%w: %v", ErrInvalidPush, err)
	}
	if event.OrderID == "" || event.Type == "" {
		return domain.OrderEvent{}, fmt.Errorf("%w: missing order id or type", ErrInvalidPush)
	}
	if event.ID == "" {
		event.ID = envelope.Message.MessageID
	}
	return event, nil
}
