package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/services"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBodySize = 256 * 1024

// WebhookRecorder counts processed callbacks. *metrics.Recorder satisfies it.
type WebhookRecorder interface {
	WebhookProcessed(eventType, outcome string)
}

// PaymentWebhookHandlers receives payment processor callbacks.
type PaymentWebhookHandlers struct {
	parser   payments.WebhookParser
	webhooks services.PaymentWebhookService
	metrics  WebhookRecorder
}

// NewPaymentWebhookHandlers constructs webhook handlers. metrics may be nil.
func NewPaymentWebhookHandlers(parser payments.WebhookParser, webhooks services.PaymentWebhookService, metrics WebhookRecorder) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{parser: parser, webhooks: webhooks, metrics: metrics}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

// handleStripe verifies the signature over the raw body. Failures the processor should
// retry return 5xx; everything else is acknowledged.
func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.webhooks == nil {
		serviceUnavailable(ctx, w, "webhook")
		return
	}
	logger := requestctx.Logger(ctx)

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	event, err := h.parser.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrWebhookNotConfigured) {
			serviceUnavailable(ctx, w, "webhook")
			return
		}
		logger.Warn("webhook: signature verification failed", zap.Error(err))
		h.record("unknown", "invalid_signature")
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	outcome, err := h.webhooks.HandleEvent(ctx, event)
	if err != nil {
		logger.Error("webhook: processing failed", zap.String("event_id", event.ID), zap.String("event_type", event.Type), zap.Error(err))
		h.record(event.Type, "error")
		httpx.WriteError(ctx, w, httpx.NewError("webhook_processing_failed", "webhook processing failed", http.StatusInternalServerError))
		return
	}

	h.record(event.Type, string(outcome))
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"received": true,
		"outcome":  outcome,
	})
}

func (h *PaymentWebhookHandlers) record(eventType, outcome string) {
	if h.metrics != nil {
		h.metrics.WebhookProcessed(eventType, outcome)
	}
}
