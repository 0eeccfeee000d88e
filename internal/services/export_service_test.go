package services

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/storage"
	"github.com/hanko-field/commerce/internal/repositories/memory"
)

type stubURLSigner struct {
	err    error
	object string
	opts   storage.DownloadOptions
}

func (s *stubURLSigner) DownloadURL(_ context.Context, bucket, object string, opts storage.DownloadOptions) (storage.SignedURL, error) {
	s.object, s.opts = object, opts
	if s.err != nil {
		return storage.SignedURL{}, s.err
	}
	return storage.SignedURL{URL: "https://storage.example/" + bucket + "/" + object, ExpiresAt: testNow.Add(opts.ExpiresIn)}, nil
}

func seedExportOrders(t *testing.T, store *memory.Store) {
	t.Helper()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	orders := []domain.Order{
		{ID: "o1", Number: "ORD-2025-000001", UserID: "u1", OrderStatus: domain.OrderStatusPending, TotalAmount: 1000, Currency: "usd", CreatedAt: base},
		{ID: "o2", Number: "ORD-2025-000002", UserID: "u2", OrderStatus: domain.OrderStatusShipped, TotalAmount: 2000, Currency: "usd", CreatedAt: base.Add(24 * time.Hour),
			Items: []domain.OrderItem{{ProductID: "mug", Quantity: 2}, {ProductID: "poster", Quantity: 1}}},
		{ID: "o3", Number: "ORD-2025-000003", UserID: "u3", OrderStatus: domain.OrderStatusShipped, TotalAmount: 3000, Currency: "usd", CreatedAt: base.Add(72 * time.Hour)},
	}
	for _, o := range orders {
		if err := store.Orders().Insert(context.Background(), o); err != nil {
			t.Fatalf("seed order %s: %v", o.ID, err)
		}
	}
}

func TestExportServiceWritesCSV(t *testing.T) {
	store := memory.NewStore()
	seedExportOrders(t, store)
	writer := storage.NewMemoryWriter()
	signer := &stubURLSigner{}
	svc, err := NewExportService(ExportServiceDeps{
		Orders: store.Orders(), Writer: writer, Signer: signer,
		Bucket: "exports", Prefix: "admin/orders", URLExpiry: 10 * time.Minute,
		Clock: func() time.Time { return testNow }, IDGen: func() string { return "exp1" },
	})
	if err != nil {
		t.Fatalf("new export service: %v", err)
	}

	to := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	result, err := svc.ExportOrders(context.Background(), ExportOrdersCommand{
		Status: []OrderStatus{domain.OrderStatusShipped}, To: &to, ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Object != "admin/orders/2025/03/14/exp1.csv" || result.Rows != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.DownloadURL == "" || result.ExpiresAt == nil || !result.ExpiresAt.Equal(testNow.Add(10*time.Minute)) {
		t.Fatalf("expected signed url, got %+v", result)
	}
	if signer.opts.FileName != "orders-20250314.csv" {
		t.Fatalf("unexpected download name %q", signer.opts.FileName)
	}

	data, ok := writer.Object("exports", result.Object)
	if !ok {
		t.Fatalf("export object not written")
	}
	if int64(len(data)) != result.Bytes {
		t.Fatalf("expected %d bytes, got %d", result.Bytes, len(data))
	}
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 || records[0][0] != "order_id" {
		t.Fatalf("unexpected records %v", records)
	}
	row := records[1]
	if row[0] != "o2" || row[13] != "2000" || row[15] != "mug x2; poster x1" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestExportServiceSignFailureKeepsResult(t *testing.T) {
	store := memory.NewStore()
	seedExportOrders(t, store)
	logs := &recordingLogger{}
	svc, _ := NewExportService(ExportServiceDeps{
		Orders: store.Orders(), Writer: storage.NewMemoryWriter(), Signer: &stubURLSigner{err: errors.New("no key")},
		Bucket: "exports", Logger: logs.log,
	})
	result, err := svc.ExportOrders(context.Background(), ExportOrdersCommand{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Rows != 3 || result.DownloadURL != "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.HasPrefix(result.Object, "exports/orders/") {
		t.Fatalf("expected default prefix, got %q", result.Object)
	}
	if !logs.has("export.sign_failed") {
		t.Fatalf("expected sign failure log")
	}
}

func TestExportServiceValidation(t *testing.T) {
	svc, _ := NewExportService(ExportServiceDeps{Orders: memory.NewStore().Orders(), Writer: storage.NewMemoryWriter(), Bucket: "b"})
	from := testNow
	to := testNow.Add(-time.Hour)
	if _, err := svc.ExportOrders(context.Background(), ExportOrdersCommand{From: &from, To: &to}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for inverted range, got %v", err)
	}
	if _, err := svc.ExportOrders(context.Background(), ExportOrdersCommand{Status: []OrderStatus{"lost"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for status, got %v", err)
	}
	if _, err := NewExportService(ExportServiceDeps{Orders: memory.NewStore().Orders(), Writer: storage.NewMemoryWriter()}); err == nil {
		t.Fatalf("expected bucket to be required")
	}
}
