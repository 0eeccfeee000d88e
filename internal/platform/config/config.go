package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultEnvironment     = "local"
	defaultCurrency        = "usd"
	defaultLocale          = "en-US"
	defaultStoreName       = "Hanko Field"
	defaultOIDCJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer      = "https://accounts.google.com"
	defaultIdempotencyKey  = "Idempotency-Key"
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultCleanupInterval = time.Hour
	defaultCleanupBatch    = 200
	defaultMailCollection  = "mail"
	defaultExportPrefix    = "exports/orders"
	defaultExportURLExpiry = 15 * time.Minute

	RepositoryDriverFirestore = "firestore"
	RepositoryDriverMemory    = "memory"

	IdempotencyBackendFirestore = "firestore"
	IdempotencyBackendRedis     = "redis"
	IdempotencyBackendMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Repository  RepositoryConfig
	Store       StoreConfig
	PSP         PSPConfig
	PubSub      PubSubConfig
	Internal    InternalAuthConfig
	Idempotency IdempotencyConfig
	Exports     ExportsConfig
	Mail        MailConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RepositoryConfig selects the persistence backend.
type RepositoryConfig struct {
	Driver string
}

// StoreConfig holds storefront pricing policy. Amounts are minor units.
type StoreConfig struct {
	Name             string
	Currency         string
	Locale           string
	ExpressSurcharge int64
	CODFee           int64
}

// PSPConfig collects payment processor secrets.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
}

// PubSubConfig configures order lifecycle event publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// InternalAuthConfig controls verification of Google-signed tokens on internal routes.
type InternalAuthConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
}

// ExportsConfig locates the bucket receiving admin exports.
type ExportsConfig struct {
	Bucket string
	Prefix string
	// SignerCredentialsFile holds a service account key used to sign download URLs.
	// Empty falls back to the ambient credentials of the storage client.
	SignerCredentialsFile string
	URLExpiry             time.Duration
}

// MailConfig configures the outbox consumed by the email delivery extension.
type MailConfig struct {
	Collection string
	From       string
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			Environment:     strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Repository: RepositoryConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_REPOSITORY_DRIVER", RepositoryDriverFirestore)),
		},
		Store: StoreConfig{
			Name:             stringWithDefault(lookup, "API_STORE_NAME", defaultStoreName),
			Currency:         strings.ToLower(stringWithDefault(lookup, "API_STORE_CURRENCY", defaultCurrency)),
			Locale:           stringWithDefault(lookup, "API_STORE_LOCALE", defaultLocale),
			ExpressSurcharge: int64WithDefault(lookup, "API_STORE_EXPRESS_SURCHARGE", 0),
			CODFee:           int64WithDefault(lookup, "API_STORE_COD_FEE", 0),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Internal: InternalAuthConfig{
			JWKSURL:  stringWithDefault(lookup, "API_INTERNAL_OIDC_JWKS_URL", defaultOIDCJWKSURL),
			Audience: stringWithDefault(lookup, "API_INTERNAL_OIDC_AUDIENCE", ""),
			Issuers:  csvWithDefault(lookup, "API_INTERNAL_OIDC_ISSUERS"),
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_BACKEND", "")),
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyKey),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultCleanupInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultCleanupBatch),
			RedisAddr:        stringWithDefault(lookup, "API_IDEMPOTENCY_REDIS_ADDR", ""),
			RedisPassword:    stringWithDefault(lookup, "API_IDEMPOTENCY_REDIS_PASSWORD", ""),
			RedisDB:          intWithDefault(lookup, "API_IDEMPOTENCY_REDIS_DB", 0),
		},
		Exports: ExportsConfig{
			Bucket: stringWithDefault(lookup, "API_EXPORTS_BUCKET", ""),
			Prefix: strings.Trim(stringWithDefault(lookup, "API_EXPORTS_PREFIX", defaultExportPrefix), "/"),

			SignerCredentialsFile: stringWithDefault(lookup, "API_EXPORTS_SIGNER_CREDENTIALS", ""),
			URLExpiry:             durationWithDefault(lookup, "API_EXPORTS_URL_EXPIRY", defaultExportURLExpiry),
		},
		Mail: MailConfig{
			Collection: stringWithDefault(lookup, "API_MAIL_COLLECTION", defaultMailCollection),
			From:       stringWithDefault(lookup, "API_MAIL_FROM", ""),
		},
	}
	applyDerivedDefaults(&cfg)

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Idempotency.RedisPassword", &cfg.Idempotency.RedisPassword},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Internal.Issuers) == 0 {
		cfg.Internal.Issuers = []string{defaultOIDCIssuer}
	}
	if cfg.Idempotency.Backend == "" {
		switch {
		case cfg.Idempotency.RedisAddr != "":
			cfg.Idempotency.Backend = IdempotencyBackendRedis
		case cfg.Repository.Driver == RepositoryDriverMemory:
			cfg.Idempotency.Backend = IdempotencyBackendMemory
		default:
			cfg.Idempotency.Backend = IdempotencyBackendFirestore
		}
	}
}

// IsMemory reports whether the in-process repository backend was selected.
func (c RepositoryConfig) IsMemory() bool {
	return c.Driver == RepositoryDriverMemory
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Repository.Driver {
	case RepositoryDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case RepositoryDriverMemory:
	default:
		invalid = append(invalid, "Repository.Driver")
	}
	if cfg.Firebase.ProjectID == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}
	if len(cfg.Store.Currency) != 3 {
		invalid = append(invalid, "Store.Currency")
	}
	if cfg.Store.ExpressSurcharge < 0 {
		invalid = append(invalid, "Store.ExpressSurcharge")
	}
	if cfg.Store.CODFee < 0 {
		invalid = append(invalid, "Store.CODFee")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	switch cfg.Idempotency.Backend {
	case IdempotencyBackendFirestore:
		if cfg.Repository.Driver != RepositoryDriverFirestore {
			invalid = append(invalid, "Idempotency.Backend")
		}
	case IdempotencyBackendRedis:
		if cfg.Idempotency.RedisAddr == "" {
			invalid = append(invalid, "Idempotency.RedisAddr")
		}
	case IdempotencyBackendMemory:
	default:
		invalid = append(invalid, "Idempotency.Backend")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
