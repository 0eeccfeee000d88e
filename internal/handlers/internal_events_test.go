package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/services"
)

type stubNotificationService struct {
	events []services.OrderEvent
	err    error
}

func (s *stubNotificationService) HandleOrderEvent(_ context.Context, event services.OrderEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func pushBody(t *testing.T, event domain.OrderEvent) string {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	envelope := map[string]any{
		"message": map[string]any{
			"data":      base64.StdEncoding.EncodeToString(data),
			"messageId": "msg-42",
		},
		"subscription": "projects/p/subscriptions/order-events",
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return string(body)
}

func newInternalRouter(svc services.NotificationService) http.Handler {
	router := chi.NewRouter()
	router.Route("/internal", NewInternalEventHandlers(svc).Routes)
	return router
}

func TestInternalEventHandlersDeliversEvent(t *testing.T) {
	svc := &stubNotificationService{}
	body := pushBody(t, domain.OrderEvent{Type: domain.OrderEventPlaced, OrderID: "ord-1", UserID: "user-1"})
	rec := httptest.NewRecorder()
	newInternalRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/events/orders", strings.NewReader(body)))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(svc.events) != 1 || svc.events[0].OrderID != "ord-1" || svc.events[0].ID != "msg-42" {
		t.Fatalf("unexpected events %+v", svc.events)
	}
}

func TestInternalEventHandlersAcksInvalidMessages(t *testing.T) {
	svc := &stubNotificationService{}
	for _, body := range []string{`not json`, `{"message":{"data":"!!"}}`, pushBody(t, domain.OrderEvent{Type: domain.OrderEventPlaced})} {
		rec := httptest.NewRecorder()
		newInternalRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/events/orders", strings.NewReader(body)))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204 for %q, got %d", body, rec.Code)
		}
	}
	if len(svc.events) != 0 {
		t.Fatalf("invalid messages must not reach the service")
	}
}

func TestInternalEventHandlersFailureIsRetried(t *testing.T) {
	svc := &stubNotificationService{err: errors.New("outbox unavailable")}
	body := pushBody(t, domain.OrderEvent{Type: domain.OrderEventCancelled, OrderID: "ord-1"})
	rec := httptest.NewRecorder()
	newInternalRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/events/orders", strings.NewReader(body)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
