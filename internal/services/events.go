package services

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
)

const defaultPublishTimeout = 10 * time.Second

// eventDispatcher publishes order events after commit without blocking the caller.
// Failures are logged and counted, never returned.
type eventDispatcher struct {
	publisher OrderEventPublisher
	logger    Logger
	metrics   Metrics
	timeout   time.Duration
}

func newEventDispatcher(publisher OrderEventPublisher, logger Logger, metrics Metrics) eventDispatcher {
	return eventDispatcher{publisher: publisher, logger: logger, metrics: metrics, timeout: defaultPublishTimeout}
}

func newOrderEvent(eventType domain.OrderEventType, order domain.Order, at time.Time) domain.OrderEvent {
	return domain.OrderEvent{
		ID:            ulid.Make().String(),
		Type:          eventType,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		UserID:        order.UserID,
		OrderStatus:   order.OrderStatus,
		PaymentStatus: order.PaymentStatus,
		OccurredAt:    at,
	}
}

func (d eventDispatcher) dispatch(ctx context.Context, event domain.OrderEvent) {
	if d.publisher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		id, err := d.publisher.PublishOrderEvent(ctx, event)
		d.metrics.EventPublished(string(event.Type), err)
		if err != nil {
			d.logger(ctx, "order.event_publish_failed", map[string]any{
				"eventType": string(event.Type),
				"orderId":   event.OrderID,
				"error":     err.Error(),
			})
			return
		}
		d.logger(ctx, "order.event_published", map[string]any{
			"eventType": string(event.Type),
			"orderId":   event.OrderID,
			"messageId": id,
		})
	}()
}
