package firestore

import (
	"context"
	"fmt"

	pfirestore "github.com/podbridge/fulfillment/internal/platform/firestore"
	"github.com/podbridge/fulfillment/internal/repositories"
)

// Registry exposes the Firestore-backed repositories.
type Registry struct {
	provider       *pfirestore.Provider
	orders         *OrderRepository
	products       *ProductRepository
	externalOrders *ExternalOrderRepository
	webhookEvents  *WebhookEventRepository
	reconciliation *ReconciliationRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on top of a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	externals, err := NewExternalOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	events, err := NewWebhookEventRepository(provider)
	if err != nil {
		return nil, err
	}
	reconciliation, err := NewReconciliationRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:       provider,
		orders:         orders,
		products:       products,
		externalOrders: externals,
		webhookEvents:  events,
		reconciliation: reconciliation,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) ExternalOrders() repositories.ExternalOrderRepository { return r.externalOrders }
func (r *Registry) WebhookEvents() repositories.WebhookEventRepository { return r.webhookEvents }
func (r *Registry) Reconciliation() repositories.ReconciliationRepository { return r.reconciliation }

// Ping reads one order document to verify credentials and connectivity.
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.provider.Ping(ctx, ordersCollection); err != nil {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
