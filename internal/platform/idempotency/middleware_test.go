package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/commerce/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Code
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newRequest("", `{}`))
	}
	if calls != 2 {
		t.Fatalf("expected both keyless requests to run, got %d", calls)
	}
}

func TestMiddlewareRequiredKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithRequiredKey())(countingHandler(&calls, http.StatusCreated))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("", `{}`))
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "idempotency_key_required" || calls != 0 {
		t.Fatalf("expected 400 idempotency_key_required, got %d", rec.Code)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("abc-123", `{"addressId":"a1"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("abc-123", `{"addressId":"a1"}`))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replayed 201, got %d (replay=%q)", second.Code, second.Header().Get(replayHeaderName))
	}
	if second.Body.String() != first.Body.String() || second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("replayed response differs: %q vs %q", second.Body.String(), first.Body.String())
	}
}

func TestMiddlewareScopesKeysPerUser(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("shared", `{}`))
	other := newRequest("shared", `{}`)
	other = other.WithContext(auth.WithIdentity(other.Context(), &auth.Identity{UID: "user-2"}))
	handler.ServeHTTP(httptest.NewRecorder(), other)

	if calls != 2 {
		t.Fatalf("expected key reuse across users to run twice, got %d", calls)
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("same-key", `{"a":1}`))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("same-key", `{"a":2}`))
	if rec.Code != http.StatusUnprocessableEntity || errorCode(t, rec) != "idempotency_key_conflict" {
		t.Fatalf("expected 422 idempotency_key_conflict, got %d", rec.Code)
	}
}

func TestMiddlewarePendingReservationConflicts(t *testing.T) {
	store := NewMemoryStore()
	req := newRequest("pending-key", `{}`)
	body, _ := bufferBody(req)
	requester := requesterID(req.Context())
	if _, err := store.Reserve(context.Background(), requester+"|pending-key", requestFingerprint(req, body, requester), time.Now(), time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run while reservation is pending")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "idempotency_in_progress" {
		t.Fatalf("expected 409 idempotency_in_progress, got %d", rec.Code)
	}
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusBadGateway))
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest("retry-me", `{}`))
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502 passthrough, got %d", rec.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected retry after server error to run again, got %d", calls)
	}
}

func TestMiddlewareSaveFailureStillDeliversResponse(t *testing.T) {
	store := &stubStore{failSave: true}
	var calls int
	rec := httptest.NewRecorder()
	Middleware(store)(countingHandler(&calls, http.StatusCreated)).ServeHTTP(rec, newRequest("k", `{}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected handler response delivered, got %d", rec.Code)
	}
	if !store.released {
		t.Fatalf("expected reservation released after save failure")
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _ = store.Reserve(ctx, "old", "f", fixedTime, time.Minute)
	_, _ = store.Reserve(ctx, "fresh", "f", fixedTime, time.Hour)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired record removed, got %d (%v)", removed, err)
	}
	res, _ := store.Reserve(ctx, "old", "other", fixedTime.Add(10*time.Minute), time.Hour)
	if res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reservable again")
	}
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
