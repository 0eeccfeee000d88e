package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "shop-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "shop-dev" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Repository.Driver != RepositoryDriverFirestore {
		t.Errorf("expected firestore driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Store.Currency != "usd" {
		t.Errorf("expected usd currency, got %s", cfg.Store.Currency)
	}
	if cfg.Idempotency.Backend != IdempotencyBackendFirestore {
		t.Errorf("expected firestore idempotency backend, got %s", cfg.Idempotency.Backend)
	}
	if cfg.Idempotency.Header != defaultIdempotencyKey {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if len(cfg.Internal.Issuers) != 1 || cfg.Internal.Issuers[0] != defaultOIDCIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Internal.Issuers)
	}
	if cfg.Mail.Collection != "mail" {
		t.Errorf("expected mail collection, got %s", cfg.Mail.Collection)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_ENVIRONMENT":               "PROD",
		"API_FIREBASE_PROJECT_ID":       "shop-prod",
		"API_FIRESTORE_PROJECT_ID":      "shop-db",
		"API_STORE_CURRENCY":            "EUR",
		"API_STORE_EXPRESS_SURCHARGE":   "1500",
		"API_STORE_COD_FEE":             "300",
		"API_PSP_STRIPE_API_KEY":        "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
		"API_PUBSUB_ORDER_EVENTS_TOPIC": "order-events",
		"API_INTERNAL_OIDC_AUDIENCE":    "https://shop.example.com",
		"API_INTERNAL_OIDC_ISSUERS":     "https://accounts.google.com, accounts.google.com",
		"API_IDEMPOTENCY_REDIS_ADDR":    "localhost:6379",
		"API_IDEMPOTENCY_TTL":           "48h",
		"API_EXPORTS_BUCKET":            "shop-exports",
		"API_EXPORTS_PREFIX":            "/exports/",
	}
	secrets := map[string]string{
		"secret://stripe/api":     "sk_live",
		"secret://stripe/webhook": "whsec",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.Environment != "prod" {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "shop-db" {
		t.Errorf("unexpected firestore project: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Store.Currency != "eur" || cfg.Store.ExpressSurcharge != 1500 || cfg.Store.CODFee != 300 {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.PSP.StripeAPIKey != "sk_live" || cfg.PSP.StripeWebhookSecret != "whsec" {
		t.Errorf("expected resolved stripe secrets, got %+v", cfg.PSP)
	}
	if cfg.Idempotency.Backend != IdempotencyBackendRedis {
		t.Errorf("expected redis backend inferred from address, got %s", cfg.Idempotency.Backend)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if len(cfg.Internal.Issuers) != 2 {
		t.Errorf("unexpected issuers: %v", cfg.Internal.Issuers)
	}
	if cfg.Exports.Prefix != "exports" {
		t.Errorf("expected trimmed export prefix, got %s", cfg.Exports.Prefix)
	}
}

func TestLoadMemoryDriverDefaultsIdempotencyToMemory(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_REPOSITORY_DRIVER":   "memory",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Repository.IsMemory() {
		t.Fatalf("expected memory driver")
	}
	if cfg.Idempotency.Backend != IdempotencyBackendMemory {
		t.Fatalf("expected memory idempotency backend, got %s", cfg.Idempotency.Backend)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"API_REPOSITORY_DRIVER":   "postgres",
		"API_STORE_CURRENCY":      "dollars",
		"API_IDEMPOTENCY_BACKEND": "redis",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := map[string]bool{
		"Repository.Driver":     false,
		"Firebase.ProjectID":    false,
		"Store.Currency":        false,
		"Idempotency.RedisAddr": false,
	}
	for _, field := range validationErr.Fields() {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in %v", field, validationErr.Fields())
		}
	}
}

func TestLoadMissingRequiredSecret(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
	}
	_, err := Load(context.Background(),
		WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "PSP.StripeAPIKey" {
		t.Fatalf("unexpected names: %v", names)
	}
	if redacted := missing.RedactedNames(); len(redacted) != 1 || redacted[0] == "PSP.StripeAPIKey" {
		t.Fatalf("expected redacted name, got %v", redacted)
	}
}

func TestLoadUnresolvableSecretReference(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_PSP_STRIPE_API_KEY":  "secret://stripe/api",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Fatalf("unexpected ref %s", secretErr.Ref)
	}
}

func TestLoadReadsDotEnvWithLowestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "# local overrides\nexport API_FIREBASE_PROJECT_ID=\"from-file\"\nAPI_SERVER_PORT=7070\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path), WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "from-file" {
		t.Errorf("expected project from .env, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected env map to win over .env, got %s", cfg.Server.Port)
	}

	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["API_SERVER_PORT"] != "7070" {
		t.Errorf("unexpected merged value: %v", values)
	}
}
