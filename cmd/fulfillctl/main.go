package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/podbridge/fulfillment/internal/cli"
	"github.com/podbridge/fulfillment/internal/di"
	"github.com/podbridge/fulfillment/internal/platform/config"
	"github.com/podbridge/fulfillment/internal/platform/secrets"
	"github.com/podbridge/fulfillment/internal/repositories/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	root := cli.NewRootCommand(cli.Dependencies{
		Open: func(ctx context.Context) (*cli.Backend, error) {
			return openBackend(ctx, logger)
		},
		MigrateUp: func(ctx context.Context) error {
			dsn, err := postgresDSN(ctx, logger)
			if err != nil {
				return err
			}
			return postgres.MigrateUp(dsn)
		},
		MigrateDown: func(ctx context.Context, steps int) error {
			dsn, err := postgresDSN(ctx, logger)
			if err != nil {
				return err
			}
			return postgres.MigrateDown(dsn, steps)
		},
	})

	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || exitErr.Code == cli.ExitCommandError {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		_ = logger.Sync()
		os.Exit(cli.GetExitCode(err))
	}
}

// newLogger writes warnings to stderr so stdout stays parseable with --format json.
func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "debug") {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("fulfillctl")
}

func loadConfig(ctx context.Context, logger *zap.Logger, required ...string) (config.Config, func(), error) {
	env, err := config.EnvironmentValues()
	if err != nil {
		return config.Config{}, nil, err
	}
	fetcher, err := secrets.NewFetcherFromEnv(ctx, logger.Named("secrets"), env)
	if err != nil {
		return config.Config{}, nil, err
	}
	release := func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}
	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(required...),
	)
	if err != nil {
		release()
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			return config.Config{}, nil, fmt.Errorf("missing required secrets: %s", strings.Join(missing.RedactedNames(), ", "))
		}
		return config.Config{}, nil, err
	}
	return cfg, release, nil
}

func openBackend(ctx context.Context, logger *zap.Logger) (*cli.Backend, error) {
	cfg, release, err := loadConfig(ctx, logger, "Provider.APIKey")
	if err != nil {
		return nil, err
	}
	container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger))
	if err != nil {
		release()
		return nil, err
	}
	svc := container.Services
	return &cli.Backend{
		Fulfillment: svc.Fulfillment,
		Audit:       svc.Audit,
		Diagnostics: svc.Diagnostics,
		Close: func(ctx context.Context) error {
			defer release()
			return container.Close(ctx)
		},
	}, nil
}

func postgresDSN(ctx context.Context, logger *zap.Logger) (string, error) {
	cfg, release, err := loadConfig(ctx, logger)
	if err != nil {
		return "", err
	}
	defer release()
	if cfg.Store.Backend != config.StoreBackendPostgres {
		return "", fmt.Errorf("migrations apply to the postgres store only; FULFILLMENT_STORE_BACKEND is %q", cfg.Store.Backend)
	}
	return cfg.Postgres.DSN, nil
}
