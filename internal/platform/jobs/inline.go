package jobs

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// EventHandler consumes one order event.
type EventHandler func(ctx context.Context, event domain.OrderEvent) error

// InlinePublisher delivers events to an in-process handler on a goroutine. It replaces
// Pub/Sub when the service runs without a topic, for local development.
type InlinePublisher struct {
	handler EventHandler
	onError func(ctx context.Context, event domain.OrderEvent, err error)
	wg      sync.WaitGroup
}

// NewInlinePublisher constructs a publisher that hands events to handler. onError
// receives handler failures and may be nil.
func NewInlinePublisher(handler EventHandler, onError func(context.Context, domain.OrderEvent, error)) *InlinePublisher {
	return &InlinePublisher{handler: handler, onError: onError}
}

// PublishOrderEvent schedules the handler and returns a generated message ID.
func (p *InlinePublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error) {
	id := ulid.Make().String()
	if p == nil || p.handler == nil {
		return id, nil
	}
	detached := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.handler(detached, event); err != nil && p.onError != nil {
			p.onError(detached, event, err)
		}
	}()
	return id, nil
}

// Wait blocks until every scheduled handler has returned.
func (p *InlinePublisher) Wait() {
	if p != nil {
		p.wg.Wait()
	}
}
