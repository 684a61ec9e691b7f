package repositories

import (
	"context"
	"time"

	domain "github.com/podbridge/fulfillment/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	ExternalOrders() ExternalOrderRepository
	WebhookEvents() WebhookEventRepository
	Reconciliation() ReconciliationRepository
	Ping(ctx context.Context) error
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository reads local orders and moves their status forward.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.LocalOrder, error)
	// TransitionStatus applies next only when the current status allows it and
	// returns a conflict error otherwise.
	TransitionStatus(ctx context.Context, orderID string, next domain.OrderStatus, at time.Time) (domain.LocalOrder, error)
}

// ProductRepository reads and writes provider metadata attached to products.
type ProductRepository interface {
	ProviderMetadata(ctx context.Context, productIDs []string) (map[string]domain.ProviderMetadata, error)
	SaveProviderMetadata(ctx context.Context, metadata domain.ProviderMetadata) error
}

// ExternalOrderRepository persists the join records keyed by reference id.
type ExternalOrderRepository interface {
	FindByReference(ctx context.Context, referenceID string) (domain.ExternalOrderRecord, error)
	Save(ctx context.Context, record domain.ExternalOrderRecord) error
}

// WebhookEventRepository is the append-only audit log of provider deliveries.
type WebhookEventRepository interface {
	Append(ctx context.Context, event domain.WebhookEvent) error
	FindByID(ctx context.Context, eventID string) (domain.WebhookEvent, error)
	List(ctx context.Context, filter WebhookEventFilter) ([]domain.WebhookEvent, error)
}

// ReconcileFunc computes the new record and order state from the current one.
// It must be free of side effects because stores may invoke it more than once.
type ReconcileFunc func(record domain.ExternalOrderRecord, order domain.LocalOrder) (domain.ExternalOrderRecord, domain.LocalOrder, error)

// ReconciliationRepository applies a webhook transition to the external record and
// the local order atomically. A missing record or order yields a not-found error.
type ReconciliationRepository interface {
	Apply(ctx context.Context, referenceID string, mutate ReconcileFunc) (domain.ExternalOrderRecord, domain.LocalOrder, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// WebhookEventFilter narrows audit log listings.
type WebhookEventFilter struct {
	ReferenceID string
	Type        string
	Unprocessed bool
	Limit       int
}
