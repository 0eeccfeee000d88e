package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/payments"
)

// PaymentWebhookServiceDeps wires the webhook service.
type PaymentWebhookServiceDeps struct {
	Orders OrderService
	Logger Logger
}

type paymentWebhookService struct {
	orders OrderService
	logger Logger
}

// NewPaymentWebhookService constructs a PaymentWebhookService.
func NewPaymentWebhookService(deps PaymentWebhookServiceDeps) (PaymentWebhookService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment webhook service: order service is required")
	}
	return &paymentWebhookService{orders: deps.Orders, logger: loggerOrNoop(deps.Logger)}, nil
}

func (s *paymentWebhookService) HandleEvent(ctx context.Context, event payments.WebhookEvent) (WebhookOutcome, error) {
	fields := map[string]any{"eventId": event.ID, "eventType": event.Type}
	status, ok := paymentStatusForWebhook(event.Status)
	if !event.Handled || !ok || strings.TrimSpace(event.IntentID) == "" {
		s.logger(ctx, "payment_webhook.ignored", fields)
		return WebhookOutcomeIgnored, nil
	}
	fields["paymentIntentId"] = event.IntentID

	order, err := s.orders.MarkPaymentStatus(ctx, event.IntentID, status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// intents not created by checkout, or orders already deleted
			s.logger(ctx, "payment_webhook.order_not_found", fields)
			return WebhookOutcomeNotFound, nil
		}
		fields["error"] = err.Error()
		s.logger(ctx, "payment_webhook.failed", fields)
		return "", err
	}
	fields["orderId"] = order.ID
	fields["paymentStatus"] = string(status)
	if order.PaymentStatus != status {
		// out-of-order delivery the order no longer accepts
		fields["currentStatus"] = string(order.PaymentStatus)
		s.logger(ctx, "payment_webhook.stale", fields)
		return WebhookOutcomeIgnored, nil
	}
	s.logger(ctx, "payment_webhook.applied", fields)
	return WebhookOutcomeApplied, nil
}

func paymentStatusForWebhook(status payments.Status) (domain.PaymentStatus, bool) {
	switch status {
	case payments.StatusSucceeded:
		return domain.PaymentStatusPaid, true
	case payments.StatusFailed:
		return domain.PaymentStatusFailed, true
	case payments.StatusRefunded:
		return domain.PaymentStatusRefunded, true
	default:
		return "", false
	}
}
