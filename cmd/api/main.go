package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/commerce/internal/di"
	"github.com/hanko-field/commerce/internal/handlers"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/config"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/platform/jobs"
	"github.com/hanko-field/commerce/internal/platform/metrics"
	"github.com/hanko-field/commerce/internal/platform/observability"
	"github.com/hanko-field/commerce/internal/platform/secrets"
	platformstorage "github.com/hanko-field/commerce/internal/platform/storage"
	"github.com/hanko-field/commerce/internal/repositories"
	firestoreRepo "github.com/hanko-field/commerce/internal/repositories/firestore"
	"github.com/hanko-field/commerce/internal/repositories/memory"
	"github.com/hanko-field/commerce/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	recorder := metrics.New()

	var (
		registry          repositories.Registry
		firestoreProvider *pfirestore.Provider
		checks            []repositories.DependencyCheck
	)
	if cfg.Repository.IsMemory() {
		logger.Warn("using in-memory repositories; data is lost on restart")
		registry = memory.NewStore()
	} else {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestoreRepo.NewRegistry(firestoreProvider, cfg.Mail)
		if err != nil {
			logger.Fatal("failed to initialise firestore repositories", zap.Error(err))
		}
		registry = reg
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check:    firestoreProvider.Ping,
		})
	}
	checks = append(checks, secretManagerCheck(fetcher))

	paymentProvider, webhookParser, err := newPaymentProvider(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise payment provider", zap.Error(err))
	}

	publisher, stopPublisher, err := newOrderEventPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	writer, signer, closeStorage, err := newExportStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise export storage", zap.Error(err))
	}

	idempotencyStore, redisClient, redisCheck, err := newIdempotencyStore(ctx, cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	if redisCheck != nil {
		checks = append(checks, *redisCheck)
	}

	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	deps := di.Dependencies{
		Registry:  registry,
		Payments:  paymentProvider,
		Publisher: publisher,
		Writer:    writer,
		Signer:    signer,
		Health:    health,
		Metrics:   recorder,
		Logger:    logger,
		Build:     buildInfo,
		Clock:     time.Now,
	}
	container, err := di.NewContainer(ctx, cfg, deps)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	svc := container.Services

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	checkoutIdempotency := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithRequiredKey(),
	)

	addressHandlers := handlers.NewAddressHandlers(authenticator, svc.Addresses)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	var couponOpts []handlers.CouponHandlersOption
	if redisClient != nil {
		couponOpts = append(couponOpts, handlers.WithCouponRedisRateLimit(redisClient))
	}
	couponHandlers := handlers.NewCouponHandlers(authenticator, svc.Coupons, couponOpts...)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Checkout, svc.Orders, checkoutIdempotency)
	adminHandlers := handlers.NewAdminHandlers(authenticator, handlers.AdminServices{
		Orders:    svc.Orders,
		Coupons:   svc.Coupons,
		Inventory: svc.Inventory,
		Exports:   svc.Exports,
	})
	webhookHandlers := handlers.NewPaymentWebhookHandlers(webhookParser, svc.Webhooks, recorder)
	internalHandlers := handlers.NewInternalEventHandlers(svc.Notifications)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID, recorder.ObserveRequest),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(recorder.Handler()),
		handlers.WithMeRoutes(addressHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg); oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidc))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("commerce api listening",
			zap.String("environment", buildInfo.Environment),
			zap.String("repository", cfg.Repository.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if stopPublisher != nil {
		stopPublisher()
	}
	if closeStorage != nil {
		closeStorage()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("repository close error", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Server.Environment,
		StartedAt:   started,
	}
}

// newPaymentProvider selects Stripe when an API key is configured. Without one the sandbox
// provider settles intents in-process and webhooks are refused.
func newPaymentProvider(cfg config.Config, logger *zap.Logger) (payments.Provider, payments.WebhookParser, error) {
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		logger.Warn("stripe api key not configured; using sandbox payment provider")
		return payments.NewSandboxProvider(), nil, nil
	}
	provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        payments.StripeLogger(observability.EventLogger(logger, "payments")),
		Clock:         time.Now,
	})
	if err != nil {
		return nil, nil, err
	}
	return provider, provider, nil
}

// newOrderEventPublisher returns a Pub/Sub publisher when a topic is configured. A nil
// publisher makes the container deliver events in-process.
func newOrderEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.OrderEventPublisher, func(), error) {
	topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	if topicName == "" {
		logger.Info("order events topic not configured; delivering events in-process")
		return nil, nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(topicName))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	stop := func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, stop, nil
}

func newExportStorage(ctx context.Context, cfg config.Config) (services.ObjectWriter, services.DownloadURLSigner, func(), error) {
	if strings.TrimSpace(cfg.Exports.Bucket) == "" {
		if cfg.Repository.IsMemory() {
			return platformstorage.NewMemoryWriter(), nil, nil, nil
		}
		return nil, nil, nil, nil
	}
	client, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("storage client: %w", err)
	}
	closeFn := func() { _ = client.Close() }
	writer, err := platformstorage.NewGCSWriter(client)
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	signerOpts := []platformstorage.URLSignerOption{platformstorage.WithStorageClient(client)}
	if path := strings.TrimSpace(cfg.Exports.SignerCredentialsFile); path != "" {
		key, err := platformstorage.NewServiceAccountSignerFromFile(path)
		if err != nil {
			closeFn()
			return nil, nil, nil, fmt.Errorf("export signer: %w", err)
		}
		signerOpts = append(signerOpts, platformstorage.WithSigner(key))
	}
	signer, err := platformstorage.NewURLSigner(signerOpts...)
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	return writer, signer, closeFn, nil
}

// newIdempotencyStore returns the redis client as well when that backend is selected; the
// coupon rate limiter shares it.
func newIdempotencyStore(ctx context.Context, cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, *redis.Client, *repositories.DependencyCheck, error) {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendRedis:
		client, err := idempotency.NewRedisClient(ctx, cfg.Idempotency.RedisAddr, cfg.Idempotency.RedisPassword, cfg.Idempotency.RedisDB)
		if err != nil {
			return nil, nil, nil, err
		}
		check := &repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		}
		return idempotency.NewRedisStore(client), client, check, nil
	case config.IdempotencyBackendFirestore:
		if provider == nil {
			return nil, nil, nil, errors.New("firestore idempotency backend requires the firestore repository driver")
		}
		return idempotency.NewFirestoreStore(provider), nil, nil, nil
	default:
		return idempotency.NewMemoryStore(), nil, nil, nil
	}
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Internal.JWKSURL) == "" {
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Internal.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter))

	audience := strings.TrimSpace(cfg.Internal.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Internal.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve outside local development.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["API_ENVIRONMENT"]))
	if environment == "" || environment == "local" {
		return nil
	}
	required := []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}
	if strings.TrimSpace(env["API_IDEMPOTENCY_REDIS_PASSWORD"]) != "" {
		required = append(required, "Idempotency.RedisPassword")
	}
	return required
}
