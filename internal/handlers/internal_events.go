package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/jobs"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/services"
)

const maxPushBodySize = 64 * 1024

// InternalEventHandlers receives Pub/Sub push deliveries of order events. The /internal
// group is expected to carry the OIDC middleware.
type InternalEventHandlers struct {
	notifications services.NotificationService
}

// NewInternalEventHandlers constructs push handlers.
func NewInternalEventHandlers(notifications services.NotificationService) *InternalEventHandlers {
	return &InternalEventHandlers{notifications: notifications}
}

// Routes registers the /internal endpoints.
func (h *InternalEventHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/events/orders", h.handleOrderEvent)
}

// handleOrderEvent acknowledges malformed messages with 204 so Pub/Sub stops redelivering
// them; handler failures return 500 and are retried.
func (h *InternalEventHandlers) handleOrderEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	logger := requestctx.Logger(ctx)

	body, err := readLimitedBody(r, maxPushBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var envelope jobs.PushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		logger.Warn("internal events: undecodable push body", zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	event, err := jobs.DecodePushEvent(envelope)
	if err != nil {
		logger.Warn("internal events: dropping invalid message",
			zap.String("message_id", envelope.Message.MessageID),
			zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.notifications.HandleOrderEvent(ctx, event); err != nil {
		logger.Error("internal events: handler failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("event_handler_failed", "order event handling failed", http.StatusInternalServerError))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
