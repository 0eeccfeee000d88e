package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errors: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err := f.errors[req.GetName()]; err != nil {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

const stripeResource = "projects/test/secrets/stripe_api_key/versions/latest"

func TestResolveCachesUntilTTL(t *testing.T) {
	client := newFakeSecretClient()
	client.values[stripeResource] = "sk_test_remote"
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(""),
		WithCacheTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key")
		if err != nil || got != "sk_test_remote" {
			t.Fatalf("Resolve = %q, %v", got, err)
		}
	}
	if client.calls[stripeResource] != 1 {
		t.Fatalf("expected one remote fetch, got %d", client.calls[stripeResource])
	}

	now = now.Add(2 * time.Minute)
	if _, err := fetcher.Resolve(context.Background(), "sm://stripe_api_key"); err != nil {
		t.Fatalf("Resolve after ttl: %v", err)
	}
	if client.calls[stripeResource] != 2 {
		t.Fatalf("expected refetch after ttl, got %d", client.calls[stripeResource])
	}
}

func TestResolveFallsBackOnPermissionDenied(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secrets.local")
	content := "# local secrets\nsecret://stripe_api_key=sk_test_local\nstripe_webhook_secret=whsec_local\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := newFakeSecretClient()
	client.errors[stripeResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, _ := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(path),
	)

	got, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key")
	if err != nil || got != "sk_test_local" {
		t.Fatalf("expected fallback value, got %q (%v)", got, err)
	}
	got, err = fetcher.Resolve(context.Background(), "secret://stripe_webhook_secret")
	if err != nil || got != "whsec_local" {
		t.Fatalf("expected bare-name fallback value, got %q (%v)", got, err)
	}
}

func TestResolveReturnsNonFallbackErrors(t *testing.T) {
	client := newFakeSecretClient()
	client.errors[stripeResource] = status.Error(codes.InvalidArgument, "bad name")
	fetcher, _ := NewFetcher(context.Background(), WithSecretManagerClient(client), WithDefaultProject("test"), WithFallbackFile(""))

	if _, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key"); err == nil {
		t.Fatalf("expected error to surface")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	client := newFakeSecretClient()
	client.values[stripeResource] = "v1"
	fetcher, _ := NewFetcher(context.Background(), WithSecretManagerClient(client), WithDefaultProject("test"))

	_, _ = fetcher.Resolve(context.Background(), "secret://stripe_api_key")
	client.values[stripeResource] = "v2"
	fetcher.Invalidate("secret://stripe_api_key")

	got, _ := fetcher.Resolve(context.Background(), "secret://stripe_api_key")
	if got != "v2" {
		t.Fatalf("expected rotated value, got %q", got)
	}
}

func TestParseReference(t *testing.T) {
	cases := []struct {
		raw     string
		want    reference
		wantErr bool
	}{
		{raw: "secret://stripe_api_key", want: reference{name: "stripe_api_key", version: "latest"}},
		{raw: "secret://stripe_api_key?version=3&project=prod", want: reference{name: "stripe_api_key", version: "3", project: "prod"}},
		{raw: "sm://prod/redis_password", want: reference{name: "redis_password", version: "latest", project: "prod"}},
		{raw: "https://example.com/x", wantErr: true},
		{raw: "secret://", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseReference(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %+v (%v), want %+v", tc.raw, got, err, tc.want)
		}
	}
}
