package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/hanko-field/storefront/internal/di"
	"github.com/hanko-field/storefront/internal/handlers"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/config"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/platform/jobs"
	"github.com/hanko-field/storefront/internal/platform/mailer"
	"github.com/hanko-field/storefront/internal/platform/metrics"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/secrets"
	platformstorage "github.com/hanko-field/storefront/internal/platform/storage"
	"github.com/hanko-field/storefront/internal/repositories"
	firestoreRepo "github.com/hanko-field/storefront/internal/repositories/firestore"
	"github.com/hanko-field/storefront/internal/repositories/memory"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	shutdownTimeout       = 10 * time.Second
	backlogReportInterval = time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "storefront api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			return fmt.Errorf("missing required secrets %v", missing.RedactedNames())
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	var provider *pfirestore.Provider
	if cfg.Persistence.Driver == config.PersistenceFirestore {
		provider = pfirestore.NewProvider(cfg.Firestore)
	}
	registry, localCarts, err := openRegistry(provider, cfg.Sequence)
	if err != nil {
		return err
	}

	recorder := metrics.New()

	transport, err := newTransport(cfg.Mail, logger.Named("mail"))
	if err != nil {
		return err
	}

	labels, closeLabels, err := newLabelWriter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLabels()

	sink, closeSink, err := newEventSink(ctx, cfg, logger.Named("events"))
	if err != nil {
		return err
	}
	defer closeSink()

	deps := di.Dependencies{
		Registry:   registry,
		LocalCarts: localCarts,
		Transport:  transport,
		Sink:       sink,
		Metrics:    recorder,
		Logger:     logger,
	}
	if labels != nil {
		deps.Labels = labels
	}
	container, err := di.NewContainer(ctx, cfg, deps)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	var verifier auth.TokenVerifier
	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return fmt.Errorf("initialise firebase verifier: %w", err)
		}
		verifier = firebaseVerifier
	} else {
		logger.Warn("auth: firebase project not configured; authenticated routes will reject requests")
	}
	authenticator := auth.NewAuthenticator(verifier)

	idempotencyStore, err := newIdempotencyStore(provider, cfg)
	if err != nil {
		return err
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	svc := container.Services
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Returns, handlers.WithIdempotency(idempotencyMiddleware))
	returnHandlers := handlers.NewReturnHandlers(authenticator, svc.Returns)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Orders, svc.Returns)
	internalHandlers := handlers.NewInternalHandlers(container.Worker, svc.Orders)
	healthHandlers := handlers.NewHealthHandlers(registry.Ping)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(),
			recorder.Middleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(recorder.Handler()),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithReturnRoutes(returnHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg, recorder); oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidc))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return container.Worker.Run(groupCtx)
	})
	group.Go(func() error {
		return container.LogEvents(groupCtx)
	})
	group.Go(func() error {
		return container.ReportBacklog(groupCtx, backlogReportInterval)
	})
	group.Go(func() error {
		return idempotency.RunCleanup(groupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval,
			cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
		return nil
	})

	return group.Wait()
}

// openRegistry selects the repository backend. With Firestore, carts live in process memory and
// signed-in carts are mirrored to Firestore through the outbox.
func openRegistry(provider *pfirestore.Provider, sequence config.SequenceConfig) (repositories.Registry, repositories.CartRepository, error) {
	if provider == nil {
		return memory.NewRegistry(), nil, nil
	}
	registry, err := firestoreRepo.NewRegistry(provider, firestoreRepo.WithCounterTxAttempts(sequence.TxAttempts))
	if err != nil {
		return nil, nil, fmt.Errorf("initialise firestore repositories: %w", err)
	}
	return registry, memory.NewCartRepository(), nil
}

func newIdempotencyStore(provider *pfirestore.Provider, cfg config.Config) (idempotency.Store, error) {
	if provider == nil {
		return idempotency.NewMemoryStore(), nil
	}
	store, err := idempotency.NewFirestoreStore(provider, cfg.Firestore.TxTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialise idempotency store: %w", err)
	}
	return store, nil
}

func newTransport(cfg config.MailConfig, logger *zap.Logger) (services.NotificationTransport, error) {
	switch cfg.Provider {
	case config.MailProviderSendGrid:
		transport, err := mailer.NewSendGridTransport(cfg.SendGridAPIKey, cfg.FromAddress, cfg.FromName)
		if err != nil {
			return nil, fmt.Errorf("initialise sendgrid transport: %w", err)
		}
		return transport, nil
	default:
		return mailer.NewLogTransport(logger), nil
	}
}

func newLabelWriter(ctx context.Context, cfg config.Config) (*platformstorage.LabelWriter, func(), error) {
	noop := func() {}
	if strings.TrimSpace(cfg.Storage.LabelsBucket) == "" {
		return nil, noop, nil
	}
	client, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return nil, noop, fmt.Errorf("initialise storage client: %w", err)
	}
	closeClient := func() { _ = client.Close() }

	objects, err := platformstorage.NewGCSWriter(client)
	if err != nil {
		closeClient()
		return nil, noop, err
	}
	var opts []platformstorage.LabelWriterOption
	if key := strings.TrimSpace(cfg.Storage.SignerKey); key != "" {
		signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(key))
		if err != nil {
			closeClient()
			return nil, noop, fmt.Errorf("parse storage signer key: %w", err)
		}
		opts = append(opts, platformstorage.WithLabelSigner(signer, cfg.Storage.LabelURLExpiry))
	}
	writer, err := platformstorage.NewLabelWriter(cfg.Storage.LabelsBucket, objects, di.MoneyFormatter(cfg.Pricing), opts...)
	if err != nil {
		closeClient()
		return nil, noop, err
	}
	return writer, closeClient, nil
}

func newEventSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.EventSink, func(), error) {
	noop := func() {}
	switch cfg.Events.Sink {
	case config.EventSinkPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, noop, fmt.Errorf("initialise pubsub client: %w", err)
		}
		sink, err := jobs.NewPubSubEventSink(client.Topic(cfg.Events.PubSubTopic))
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return sink, func() {
			_ = sink.Close()
			_ = client.Close()
		}, nil
	case config.EventSinkKafka:
		sink, err := jobs.NewKafkaEventSink(jobs.KafkaConfig{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.KafkaTopic,
			Logger:  logger,
		})
		if err != nil {
			return nil, noop, err
		}
		return sink, func() { _ = sink.Close() }, nil
	default:
		return nil, noop, nil
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder *metrics.Recorder) func(http.Handler) http.Handler {
	var cache *auth.JWKSCache
	if url := strings.TrimSpace(cfg.Security.OIDC.JWKSURL); url != "" {
		cache = auth.NewJWKSCache(url, auth.WithJWKSLogger(logger))
	} else if strings.EqualFold(cfg.Security.Environment, "local") {
		logger.Warn("auth: OIDC JWKS not configured; internal routes are unauthenticated")
		return nil
	}

	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(logger),
		auth.WithOIDCRecorder(recorder.OIDCVerification),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
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
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewResolver(ctx, opts...)
}

func traceProjectID(cfg config.Config) string {
	if cfg.Firestore.ProjectID != "" {
		return cfg.Firestore.ProjectID
	}
	return cfg.Firebase.ProjectID
}
