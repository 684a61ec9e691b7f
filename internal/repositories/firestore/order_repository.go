package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/podbridge/fulfillment/internal/domain"
	pfirestore "github.com/podbridge/fulfillment/internal/platform/firestore"
	"github.com/podbridge/fulfillment/internal/repositories"
)

// OrderRepository reads local orders from the orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.LocalOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.LocalOrder{}, repositories.NewNotFoundError("orders.find", "order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.LocalOrder{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Put writes the full order document. Used by seeding tools and tests.
func (r *OrderRepository) Put(ctx context.Context, order domain.LocalOrder) error {
	return r.base.Set(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID string, next domain.OrderStatus, at time.Time) (domain.LocalOrder, error) {
	var updated domain.LocalOrder
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.GetTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order := doc.Data.toDomain(doc.ID)
		if !order.Status.CanTransitionTo(next) {
			updated = order
			return repositories.NewConflictError("orders.transition",
				fmt.Sprintf("cannot move order %s from %s to %s", orderID, order.Status, next))
		}
		order.Status = next
		order.UpdatedAt = at.UTC()
		if err := r.base.UpdateTx(ctx, tx, orderID, orderStatusUpdates(order)); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return updated, err
	}
	return updated, nil
}
