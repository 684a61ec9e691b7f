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

	"go.uber.org/zap"

	"github.com/podbridge/fulfillment/internal/di"
	"github.com/podbridge/fulfillment/internal/handlers"
	"github.com/podbridge/fulfillment/internal/platform/auth"
	"github.com/podbridge/fulfillment/internal/platform/config"
	"github.com/podbridge/fulfillment/internal/platform/idempotency"
	"github.com/podbridge/fulfillment/internal/platform/observability"
	"github.com/podbridge/fulfillment/internal/platform/secrets"
	"github.com/podbridge/fulfillment/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := secrets.NewFetcherFromEnv(ctx, logger.Named("secrets"), envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets("Provider.APIKey"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()
	logger.Info("dependencies ready",
		zap.String("store", cfg.Store.Backend),
		zap.Bool("events", cfg.PubSub.ProjectID != ""),
		zap.Bool("archive", cfg.Webhook.ArchiveBucket != ""),
	)

	authenticator := newAuthenticator(ctx, logger.Named("auth"), cfg)

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	var janitorWG sync.WaitGroup
	janitorWG.Add(1)
	go func() {
		defer janitorWG.Done()
		idempotency.RunJanitor(janitorCtx, container.Idempotency, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	idempotencyMiddleware := idempotency.Middleware(container.Idempotency, idempotency.Options{
		Header: cfg.Idempotency.Header,
		TTL:    cfg.Idempotency.TTL,
	})

	signer := auth.NewWebhookSigner(cfg.Webhook.Secret, cfg.Webhook.SignatureHeader)
	if !signer.Enabled() {
		logger.Warn("webhook signature verification disabled; set FULFILLMENT_WEBHOOK_SECRET to enable")
	}

	svc := container.Services
	fulfillmentHandlers := handlers.NewFulfillmentHandlers(authenticator, svc.Fulfillment,
		handlers.WithFulfillmentIdempotency(idempotencyMiddleware))
	webhookHandlers := handlers.NewWebhookHandlers(svc.Reconciler, handlers.WithWebhookSigner(signer))
	diagnosticsHandlers := handlers.NewDiagnosticsHandlers(authenticator, svc.Diagnostics)
	auditHandlers := handlers.NewWebhookAuditHandlers(authenticator, svc.Audit)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLogger(logger.Named("http")),
		observability.Trace(projectID),
		observability.Recovery(logger.Named("http")),
		observability.RequestLogger(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(fulfillmentHandlers.Routes),
		handlers.WithFulfillmentRoutes(diagnosticsHandlers.Routes),
		handlers.WithFulfillmentRoutes(auditHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalMiddlewares(authenticator.RequireService()),
		handlers.WithInternalRoutes(auditHandlers.InternalRoutes),
	)

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
		serverLogger.Info("fulfillment api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	janitorCancel()
	janitorWG.Wait()
}

func newAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) *auth.Authenticator {
	var sellers auth.TokenVerifier
	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		sellers = verifier
	} else {
		logger.Warn("firebase project not configured; seller tokens will be rejected")
	}

	var serviceVerifier *auth.OIDCVerifier
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) != "" && audience != "" {
		cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, nil, time.Now)
		serviceVerifier = auth.NewOIDCVerifier(cache, audience, cfg.Security.OIDC.Issuers)
	} else {
		logger.Warn("OIDC audience not configured; internal routes will reject requests")
	}

	return auth.NewAuthenticator(sellers, serviceVerifier)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["FULFILLMENT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
