package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantStatus string
	}{
		{name: "client error", status: http.StatusConflict, wantStatus: StatusFail},
		{name: "server error", status: http.StatusBadGateway, wantStatus: StatusError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
			rec := httptest.NewRecorder()
			WriteError(ctx, rec, NewError("insufficient_stock", "only 2 left\n", tc.status))

			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tc.wantStatus || body["code"] != "insufficient_stock" {
				t.Fatalf("unexpected envelope %v", body)
			}
			if body["message"] != "only 2 left" {
				t.Fatalf("expected sanitised message, got %q", body["message"])
			}
			if body["traceId"] != "abc123" {
				t.Fatalf("expected trace id, got %v", body["traceId"])
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Quantity int `json:"quantity"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":2}`))
	if err := DecodeJSON(req, &dst, false); err != nil || dst.Quantity != 2 {
		t.Fatalf("decode: %v %+v", err, dst)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":2}`))
	if err := DecodeJSON(req, &dst, false); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected unknown field rejection, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(req, &dst, true); err != nil {
		t.Fatalf("expected empty body accepted, got %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(req, &dst, false); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected required body error, got %v", err)
	}
}
