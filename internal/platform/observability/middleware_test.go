package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

func TestRequestLoggerReportsRoutePattern(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	var (
		gotRoute  string
		gotStatus int
	)
	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(RequestLoggerMiddleware("proj", func(route, method string, status int, _ time.Duration) {
		gotRoute, gotStatus = route, status
	}))
	router.Get("/orders/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/o-1", nil))

	if gotRoute != "/orders/{orderId}" || gotStatus != http.StatusConflict {
		t.Fatalf("unexpected observation route=%q status=%d", gotRoute, gotStatus)
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 || completed[0].Level != zap.WarnLevel {
		t.Fatalf("expected one warn completion entry, got %+v", completed)
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "error" {
		t.Fatalf("unexpected body %v", body)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestTraceMiddlewareContinuesCloudTrace(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if info.ProjectID != "proj" {
		t.Fatalf("expected project on trace info, got %+v", info)
	}
	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected trace id continued from header, got %q", info.TraceID)
	}
}

func TestEventLoggerUsesRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	fallbackCore, fallbackLogs := observer.New(zap.InfoLevel)
	log := EventLogger(zap.New(fallbackCore), "checkout")

	ctx := requestctx.WithLogger(context.Background(), zap.New(core))
	log(ctx, "checkout.intent_cancel_failed", map[string]any{"orderId": "o1"})
	log(context.Background(), "checkout.completed", nil)

	if logs.Len() != 1 || logs.All()[0].Level != zap.WarnLevel {
		t.Fatalf("expected warn entry on request logger, got %+v", logs.All())
	}
	if fallbackLogs.Len() != 1 {
		t.Fatalf("expected fallback logger used without request logger")
	}
}
