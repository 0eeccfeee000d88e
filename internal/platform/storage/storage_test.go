package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T) *ServiceAccountSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	raw, _ := json.Marshal(map[string]string{
		"client_email": "exports@example.iam.gserviceaccount.com",
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	})
	signer, err := NewServiceAccountSignerFromJSON(raw)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func TestDownloadURLSignsWithServiceAccount(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	signer, err := NewURLSigner(WithSigner(newTestSigner(t)), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewURLSigner: %v", err)
	}

	res, err := signer.DownloadURL(context.Background(), "exports-bucket", "exports/orders/2025/03/01/x.csv", DownloadOptions{
		ExpiresIn:   10 * time.Minute,
		FileName:    "orders.csv",
		ContentType: "text/csv",
	})
	if err != nil {
		t.Fatalf("DownloadURL: %v", err)
	}
	if !res.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", res.ExpiresAt)
	}
	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := parsed.Query()
	if q.Get("X-Goog-Signature") == "" {
		t.Fatalf("expected signature in %s", res.URL)
	}
	if !strings.Contains(q.Get("X-Goog-Credential"), "exports@example.iam.gserviceaccount.com") {
		t.Fatalf("expected credential to name the signer, got %q", q.Get("X-Goog-Credential"))
	}
	if q.Get("response-content-disposition") != `attachment; filename="orders.csv"` {
		t.Fatalf("unexpected disposition %q", q.Get("response-content-disposition"))
	}
	if q.Get("response-content-type") != "text/csv" {
		t.Fatalf("unexpected content type %q", q.Get("response-content-type"))
	}
}

func TestDownloadURLValidation(t *testing.T) {
	signer, err := NewURLSigner(WithSigner(newTestSigner(t)))
	if err != nil {
		t.Fatalf("NewURLSigner: %v", err)
	}
	ctx := context.Background()
	if _, err := signer.DownloadURL(ctx, "", "obj", DownloadOptions{}); err != errInvalidBucket {
		t.Fatalf("expected bucket error, got %v", err)
	}
	if _, err := signer.DownloadURL(ctx, "b", " ", DownloadOptions{}); err != errInvalidObject {
		t.Fatalf("expected object error, got %v", err)
	}
	if _, err := signer.DownloadURL(ctx, "b", "obj", DownloadOptions{ExpiresIn: 8 * 24 * time.Hour}); err != errExpiryTooLong {
		t.Fatalf("expected expiry error, got %v", err)
	}
	if _, err := NewURLSigner(); err != errNoSigningSource {
		t.Fatalf("expected missing source error, got %v", err)
	}
}

func TestExportObjectName(t *testing.T) {
	at := time.Date(2025, 1, 9, 23, 30, 0, 0, time.FixedZone("JST", 9*3600))
	cases := []struct {
		name    string
		prefix  string
		id      string
		ext     string
		want    string
		wantErr bool
	}{
		{name: "dated path", prefix: "/exports/orders/", id: "01HX", ext: ".csv", want: "exports/orders/2025/01/09/01HX.csv"},
		{name: "no prefix", id: "01HX", ext: "csv", want: "2025/01/09/01HX.csv"},
		{name: "missing id", prefix: "exports", ext: "csv", wantErr: true},
		{name: "slash in id", prefix: "exports", id: "a/b", ext: "csv", wantErr: true},
		{name: "traversal prefix", prefix: "../etc", id: "x", ext: "csv", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExportObjectName(tc.prefix, at, tc.id, tc.ext)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestMemoryWriterStoresObject(t *testing.T) {
	w := NewMemoryWriter()
	obj, err := w.Write(context.Background(), Object{Bucket: "b", Name: "a.csv", ContentType: "text/csv"}, strings.NewReader("id\n1\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if obj.Size != 5 {
		t.Fatalf("expected size 5, got %d", obj.Size)
	}
	data, ok := w.Object("b", "a.csv")
	if !ok || string(data) != "id\n1\n" {
		t.Fatalf("unexpected stored object %q %v", data, ok)
	}
	if _, err := w.Write(context.Background(), Object{Name: "a.csv"}, strings.NewReader("")); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
