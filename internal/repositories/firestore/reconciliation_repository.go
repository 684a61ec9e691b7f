package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/podbridge/fulfillment/internal/domain"
	pfirestore "github.com/podbridge/fulfillment/internal/platform/firestore"
	"github.com/podbridge/fulfillment/internal/repositories"
)

// ReconciliationRepository updates an external record and its local order in one transaction.
type ReconciliationRepository struct {
	provider  *pfirestore.Provider
	externals *pfirestore.BaseRepository[externalOrderDocument]
	orders    *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.ReconciliationRepository = (*ReconciliationRepository)(nil)

func NewReconciliationRepository(provider *pfirestore.Provider) (*ReconciliationRepository, error) {
	if provider == nil {
		return nil, errors.New("reconciliation repository requires firestore provider")
	}
	return &ReconciliationRepository{
		provider:  provider,
		externals: pfirestore.NewBaseRepository[externalOrderDocument](provider, externalOrdersCollection),
		orders:    pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *ReconciliationRepository) Apply(ctx context.Context, referenceID string, mutate repositories.ReconcileFunc) (domain.ExternalOrderRecord, domain.LocalOrder, error) {
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return domain.ExternalOrderRecord{}, domain.LocalOrder{}, repositories.NewNotFoundError("reconciliation.apply", "reference id is required")
	}
	if mutate == nil {
		return domain.ExternalOrderRecord{}, domain.LocalOrder{}, errors.New("reconciliation.apply: mutate function is required")
	}

	var (
		record domain.ExternalOrderRecord
		order  domain.LocalOrder
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		recordDoc, err := r.externals.GetTx(ctx, tx, referenceID)
		if err != nil {
			return err
		}
		current := recordDoc.Data.toDomain(recordDoc.ID)

		orderDoc, err := r.orders.GetTx(ctx, tx, current.LocalOrderID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return repositories.NewNotFoundError("reconciliation.apply",
					fmt.Sprintf("local order %s for reference %s not found", current.LocalOrderID, referenceID))
			}
			return err
		}

		nextRecord, nextOrder, err := mutate(current, orderDoc.Data.toDomain(orderDoc.ID))
		if err != nil {
			return err
		}
		if err := r.externals.SetTx(ctx, tx, referenceID, newExternalOrderDocument(nextRecord)); err != nil {
			return err
		}
		if err := r.orders.UpdateTx(ctx, tx, orderDoc.ID, orderStatusUpdates(nextOrder)); err != nil {
			return err
		}
		record, order = nextRecord, nextOrder
		return nil
	})
	if err != nil {
		return domain.ExternalOrderRecord{}, domain.LocalOrder{}, err
	}
	return record, order, nil
}
