package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podbridge/fulfillment/internal/repositories"
)

// Options tunes the connection pool.
type Options struct {
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Registry serves every repository from one pgx pool.
type Registry struct {
	pool *pgxpool.Pool
}

var _ repositories.Registry = (*Registry)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts Options) (*Registry, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Registry{pool: pool}, nil
}

// NewRegistry wraps an existing pool.
func NewRegistry(pool *pgxpool.Pool) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres: pool is required")
	}
	return &Registry{pool: pool}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return &OrderRepository{pool: r.pool} }
func (r *Registry) Products() repositories.ProductRepository { return &ProductRepository{pool: r.pool} }
func (r *Registry) ExternalOrders() repositories.ExternalOrderRepository {
	return &ExternalOrderRepository{pool: r.pool}
}
func (r *Registry) WebhookEvents() repositories.WebhookEventRepository {
	return &WebhookEventRepository{pool: r.pool}
}
func (r *Registry) Reconciliation() repositories.ReconciliationRepository {
	return &ReconciliationRepository{pool: r.pool}
}

func (r *Registry) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return repositories.NewUnavailableError("postgres.ping", err)
	}
	return nil
}

func (r *Registry) Close(context.Context) error {
	r.pool.Close()
	return nil
}
