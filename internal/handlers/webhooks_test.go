package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/services"
)

type stubWebhookParser struct {
	parseFunc func(payload []byte, signature string) (payments.WebhookEvent, error)
}

func (s stubWebhookParser) ParseWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	return s.parseFunc(payload, signature)
}

type stubWebhookService struct {
	handleFunc func(ctx context.Context, event payments.WebhookEvent) (services.WebhookOutcome, error)
}

func (s stubWebhookService) HandleEvent(ctx context.Context, event payments.WebhookEvent) (services.WebhookOutcome, error) {
	return s.handleFunc(ctx, event)
}

type recordingWebhookMetrics struct {
	outcomes []string
}

func (m *recordingWebhookMetrics) WebhookProcessed(eventType, outcome string) {
	m.outcomes = append(m.outcomes, eventType+"/"+outcome)
}

func newWebhookRouter(parser payments.WebhookParser, svc services.PaymentWebhookService, metrics WebhookRecorder) http.Handler {
	router := chi.NewRouter()
	router.Route("/webhooks", NewPaymentWebhookHandlers(parser, svc, metrics).Routes)
	return router
}

func signedParser() stubWebhookParser {
	return stubWebhookParser{
		parseFunc: func(payload []byte, signature string) (payments.WebhookEvent, error) {
			if signature != "t=1,v1=ok" {
				return payments.WebhookEvent{}, fmt.Errorf("%w: mismatch", payments.ErrInvalidSignature)
			}
			return payments.WebhookEvent{ID: "evt_1", Type: "payment_intent.succeeded", IntentID: strings.TrimSpace(string(payload)), Status: payments.StatusSucceeded, Handled: true}, nil
		},
	}
}

func TestPaymentWebhookHandlersOutcomes(t *testing.T) {
	cases := map[string]struct {
		outcome services.WebhookOutcome
		err     error
		status  int
	}{
		"applied":   {outcome: services.WebhookOutcomeApplied, status: http.StatusOK},
		"not found": {outcome: services.WebhookOutcomeNotFound, status: http.StatusOK},
		"ignored":   {outcome: services.WebhookOutcomeIgnored, status: http.StatusOK},
		"failure":   {err: errors.New("firestore down"), status: http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var got payments.WebhookEvent
			svc := stubWebhookService{
				handleFunc: func(_ context.Context, event payments.WebhookEvent) (services.WebhookOutcome, error) {
					got = event
					return tc.outcome, tc.err
				},
			}
			metrics := &recordingWebhookMetrics{}
			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("pi_123"))
			req.Header.Set("Stripe-Signature", "t=1,v1=ok")
			rec := httptest.NewRecorder()
			newWebhookRouter(signedParser(), svc, metrics).ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if got.IntentID != "pi_123" {
				t.Fatalf("expected raw body passed to parser, got %q", got.IntentID)
			}
			if len(metrics.outcomes) != 1 {
				t.Fatalf("expected one metric, got %v", metrics.outcomes)
			}
		})
	}
}

func TestPaymentWebhookHandlersRejectsBadSignature(t *testing.T) {
	called := false
	svc := stubWebhookService{
		handleFunc: func(context.Context, payments.WebhookEvent) (services.WebhookOutcome, error) {
			called = true
			return services.WebhookOutcomeApplied, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("pi_123"))
	req.Header.Set("Stripe-Signature", "t=1,v1=forged")
	rec := httptest.NewRecorder()
	newWebhookRouter(signedParser(), svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if called {
		t.Fatalf("service must not run for forged payloads")
	}
}

func TestPaymentWebhookHandlersNotConfigured(t *testing.T) {
	parser := stubWebhookParser{
		parseFunc: func([]byte, string) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{}, payments.ErrWebhookNotConfigured
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	newWebhookRouter(parser, stubWebhookService{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
