package pagination

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

func TestFromRequestDefaults(t *testing.T) {
	req := httptest.NewRequest("GET", "/orders", nil)
	pager, err := FromRequest(req)
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if pager.PageSize != DefaultPageSize || pager.PageToken != "" {
		t.Fatalf("unexpected defaults: %+v", pager)
	}
}

func TestFromRequestClampsAndRejects(t *testing.T) {
	req := httptest.NewRequest("GET", "/orders?pageSize=500", nil)
	pager, err := FromRequest(req)
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if pager.PageSize != MaxPageSize {
		t.Fatalf("expected clamp to %d, got %d", MaxPageSize, pager.PageSize)
	}

	for _, raw := range []string{"/orders?pageSize=abc", "/orders?pageSize=0"} {
		if _, err := FromRequest(httptest.NewRequest("GET", raw, nil)); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("%s: expected invalid page size, got %v", raw, err)
		}
	}
	if _, err := FromRequest(httptest.NewRequest("GET", "/orders?pageToken=!!notbase64", nil)); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	malformed := httptest.NewRequest("GET", "/orders", nil)
	malformed.URL.RawQuery = "pageToken=%zz"
	if _, err := FromRequest(malformed); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected malformed query error, got %v", err)
	}
}

func TestTokenRoundTripAndOrdering(t *testing.T) {
	created := time.Date(2025, time.January, 5, 10, 0, 0, 0, time.UTC)
	token := EncodeToken(Cursor{CreatedAt: created, ID: "ord_b"})
	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !cursor.CreatedAt.Equal(created) || cursor.ID != "ord_b" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
	if !cursor.After(created.Add(-time.Minute), "ord_z") {
		t.Fatalf("older item should follow the cursor")
	}
	if !cursor.After(created, "ord_a") {
		t.Fatalf("same timestamp with smaller id should follow the cursor")
	}
	if cursor.After(created, "ord_c") || cursor.After(created.Add(time.Minute), "ord_a") {
		t.Fatalf("items before the cursor must be skipped")
	}
	if EncodeToken(Cursor{}) != "" {
		t.Fatalf("zero cursor should encode to empty token")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(domain.Pagination{}).PageSize; got != DefaultPageSize {
		t.Fatalf("expected default, got %d", got)
	}
	if got := Normalize(domain.Pagination{PageSize: 1000}).PageSize; got != MaxPageSize {
		t.Fatalf("expected max, got %d", got)
	}
}
