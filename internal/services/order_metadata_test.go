package services

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeOrderMetadata(t *testing.T) {
	got, err := SanitizeOrderMetadata(map[string]string{
		"note":        "  <script>alert(1)</script>Ring twice ",
		"giftMessage": "Fish &amp; chips",
		"source":      "   ",
	})
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if got["note"] != "Ring twice" {
		t.Fatalf("unexpected note %q", got["note"])
	}
	if got["giftMessage"] != "Fish & chips" {
		t.Fatalf("unexpected gift message %q", got["giftMessage"])
	}
	if _, ok := got["source"]; ok {
		t.Fatalf("blank values must be dropped")
	}
}

func TestSanitizeOrderMetadataRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown key": {"couponOverride": "x"},
		"too long":    {"note": strings.Repeat("é", 501)},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := SanitizeOrderMetadata(input); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if got, err := SanitizeOrderMetadata(nil); err != nil || got != nil {
		t.Fatalf("expected nil metadata, got %v %v", got, err)
	}
}
