package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/podbridge/fulfillment/internal/platform/config"
	"github.com/podbridge/fulfillment/internal/platform/events"
	pfirestore "github.com/podbridge/fulfillment/internal/platform/firestore"
	"github.com/podbridge/fulfillment/internal/platform/idempotency"
	"github.com/podbridge/fulfillment/internal/platform/observability"
	"github.com/podbridge/fulfillment/internal/platform/storage"
	"github.com/podbridge/fulfillment/internal/printful"
	"github.com/podbridge/fulfillment/internal/repositories"
	firestoreRepo "github.com/podbridge/fulfillment/internal/repositories/firestore"
	"github.com/podbridge/fulfillment/internal/repositories/memory"
	"github.com/podbridge/fulfillment/internal/repositories/postgres"
	"github.com/podbridge/fulfillment/internal/services"
)

const (
	webhookProvider      = "printful"
	userAgent            = "podbridge-fulfillment"
	firestoreDialTimeout = 10 * time.Second
)

// Services bundles the service-layer contracts that handlers and the CLI rely upon.
type Services struct {
	Fulfillment services.FulfillmentService
	Reconciler  services.WebhookReconciler
	Audit       services.WebhookAuditService
	Diagnostics services.DiagnosticsService
	System      services.SystemService
}

// Container wires repositories, the provider client, and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Provider     *printful.Client
	Services     Services
	// Idempotency is Firestore-backed on the Firestore store and in-process otherwise.
	Idempotency idempotency.Store

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	registry repositories.Registry
	logger   *zap.Logger
	build    services.BuildInfo
	clock    func() time.Time
}

// WithRegistry supplies a prebuilt registry instead of opening the configured backend.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) { o.registry = reg }
}

// WithLogger sets the logger adapted into service event loggers.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithBuildInfo sets the version metadata reported by the system service.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) { o.build = build }
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies. Pub/Sub publishing and payload
// archiving are enabled only when their configuration is present.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.build.StartedAt.IsZero() {
		options.build.StartedAt = options.clock().UTC()
	}
	if options.build.Environment == "" {
		options.build.Environment = cfg.Security.Environment
	}

	c := &Container{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	var firestoreClient *firestore.Client
	if options.registry != nil {
		c.Repositories = options.registry
	} else {
		reg, client, err := openRegistry(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.Repositories = reg
		firestoreClient = client
	}
	c.closers = append(c.closers, c.Repositories.Close)

	if firestoreClient != nil {
		c.Idempotency = idempotency.NewFirestoreStore(firestoreClient)
	} else {
		c.Idempotency = idempotency.NewMemoryStore()
	}

	provider, err := printful.NewClient(printful.Config{
		BaseURL:      cfg.Provider.BaseURL,
		APIKey:       cfg.Provider.APIKey,
		StoreID:      cfg.Provider.StoreID,
		Timeout:      cfg.Provider.Timeout,
		ReadAttempts: cfg.Provider.ReadAttempts,
		RetryInitial: cfg.Provider.RetryInitial,
		RetryMax:     cfg.Provider.RetryMax,
	})
	if err != nil {
		return nil, fmt.Errorf("build provider client: %w", err)
	}
	c.Provider = provider

	checks := []repositories.DependencyCheck{{
		Name:     "store",
		Critical: true,
		Check:    c.Repositories.Ping,
	}}

	var publisher services.FulfillmentEventPublisher
	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		client, err := pubsub.NewClient(ctx, projectID, option.WithUserAgent(userAgent))
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		topic := client.Topic(cfg.PubSub.Topic)
		pub, err := events.NewPubSubPublisher(topic)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error {
			pub.Stop()
			return nil
		})
		publisher = pub
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}

	var archiver services.PayloadArchiver
	if bucket := strings.TrimSpace(cfg.Webhook.ArchiveBucket); bucket != "" {
		client, err := gcs.NewClient(ctx, option.WithUserAgent(userAgent))
		if err != nil {
			return nil, fmt.Errorf("build storage client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		arch, err := storage.NewWebhookArchiver(client, bucket, webhookProvider)
		if err != nil {
			return nil, err
		}
		archiver = arch
		checks = append(checks, repositories.DependencyCheck{
			Name:    "archive",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				_, err := client.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	}

	svc, err := buildServices(c, options, publisher, archiver, checks)
	if err != nil {
		return nil, err
	}
	c.Services = svc

	ok = true
	return c, nil
}

// Close releases clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func openRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, *firestore.Client, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendFirestore, "":
		provider := pfirestore.NewProvider(cfg.Firestore,
			pfirestore.WithDialTimeout(firestoreDialTimeout),
			pfirestore.WithClientOptions(option.WithUserAgent(userAgent)),
		)
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("build firestore client: %w", err)
		}
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, client, nil
	case config.StoreBackendPostgres:
		reg, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.Options{MaxConns: int32(cfg.Postgres.MaxConns)})
		if err != nil {
			return nil, nil, err
		}
		return reg, nil, nil
	case config.StoreBackendMemory:
		return memory.NewStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func buildServices(c *Container, options containerOptions, publisher services.FulfillmentEventPublisher, archiver services.PayloadArchiver, checks []repositories.DependencyCheck) (Services, error) {
	reg := c.Repositories
	logger := options.logger
	var svc Services

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:         reg.Orders(),
		Products:       reg.Products(),
		ExternalOrders: reg.ExternalOrders(),
		Provider:       c.Provider,
		Events:         publisher,
		Clock:          options.clock,
		Logger:         observability.EventLogger(logger.Named("fulfillment")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	reconciler, err := services.NewWebhookReconciler(services.WebhookReconcilerDeps{
		Reconciliation: reg.Reconciliation(),
		ExternalOrders: reg.ExternalOrders(),
		Events:         reg.WebhookEvents(),
		Archive:        archiver,
		Publisher:      publisher,
		Clock:          options.clock,
		Logger:         observability.EventLogger(logger.Named("webhooks")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build webhook reconciler: %w", err)
	}
	svc.Reconciler = reconciler

	auditSvc, err := services.NewWebhookAuditService(services.WebhookAuditServiceDeps{
		Events:     reg.WebhookEvents(),
		Reconciler: reconciler,
		Logger:     observability.EventLogger(logger.Named("webhooks")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build webhook audit service: %w", err)
	}
	svc.Audit = auditSvc

	diagnosticsSvc, err := services.NewDiagnosticsService(services.DiagnosticsServiceDeps{
		Provider: c.Provider,
		Clock:    options.clock,
		Logger:   observability.EventLogger(logger.Named("diagnostics")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build diagnostics service: %w", err)
	}
	svc.Diagnostics = diagnosticsSvc

	healthRepo, err := repositories.NewDependencyHealthRepository(checks, options.clock)
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            options.clock,
		Build:            options.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
