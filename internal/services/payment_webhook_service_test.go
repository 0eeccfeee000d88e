package services

import (
	"context"
	"testing"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/payments"
)

func TestPaymentWebhookServiceAppliesStatuses(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env, domain.PaymentMethodStripe)
	svc, err := NewPaymentWebhookService(PaymentWebhookServiceDeps{Orders: env.orders, Logger: env.logs.log})
	if err != nil {
		t.Fatalf("new webhook service: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		status payments.Status
		want   domain.PaymentStatus
	}{
		{payments.StatusFailed, domain.PaymentStatusFailed},
		{payments.StatusSucceeded, domain.PaymentStatusPaid},
		{payments.StatusRefunded, domain.PaymentStatusRefunded},
	}
	for _, tc := range cases {
		outcome, err := svc.HandleEvent(ctx, payments.WebhookEvent{
			ID: "evt_" + string(tc.status), Type: "payment_intent.x", IntentID: order.PaymentIntentID, Status: tc.status, Handled: true,
		})
		if err != nil {
			t.Fatalf("handle %s: %v", tc.status, err)
		}
		if outcome != WebhookOutcomeApplied {
			t.Fatalf("expected applied for %s, got %s", tc.status, outcome)
		}
		stored, _ := env.store.Orders().Get(ctx, order.ID)
		if stored.PaymentStatus != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, stored.PaymentStatus)
		}
		env.events.wait(t)
	}

	outcome, err := svc.HandleEvent(ctx, payments.WebhookEvent{
		ID: "evt_late", Type: "payment_intent.succeeded", IntentID: order.PaymentIntentID, Status: payments.StatusSucceeded, Handled: true,
	})
	if err != nil || outcome != WebhookOutcomeIgnored {
		t.Fatalf("expected late success after refund to be ignored, got %s %v", outcome, err)
	}
	stored, _ := env.store.Orders().Get(ctx, order.ID)
	if stored.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("refund must stick, got %s", stored.PaymentStatus)
	}
	if !env.logs.has("payment_webhook.stale") {
		t.Fatalf("expected stale delivery log")
	}
}

func TestPaymentWebhookServiceIgnoresAndMisses(t *testing.T) {
	env := newTestEnv(t)
	svc, _ := NewPaymentWebhookService(PaymentWebhookServiceDeps{Orders: env.orders, Logger: env.logs.log})
	ctx := context.Background()

	outcome, err := svc.HandleEvent(ctx, payments.WebhookEvent{ID: "evt_1", Type: "customer.created"})
	if err != nil || outcome != WebhookOutcomeIgnored {
		t.Fatalf("expected ignored, got %s %v", outcome, err)
	}
	outcome, err = svc.HandleEvent(ctx, payments.WebhookEvent{ID: "evt_2", Type: "payment_intent.canceled", IntentID: "pi_1", Status: payments.StatusCancelled, Handled: true})
	if err != nil || outcome != WebhookOutcomeIgnored {
		t.Fatalf("expected ignored for cancelled intents, got %s %v", outcome, err)
	}
	outcome, err = svc.HandleEvent(ctx, payments.WebhookEvent{ID: "evt_3", Type: "payment_intent.succeeded", IntentID: "pi_nobody", Status: payments.StatusSucceeded, Handled: true})
	if err != nil || outcome != WebhookOutcomeNotFound {
		t.Fatalf("expected order not found, got %s %v", outcome, err)
	}
	if !env.logs.has("payment_webhook.order_not_found") {
		t.Fatalf("expected not found log")
	}
}
