package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/podbridge/fulfillment/internal/domain"
	pfirestore "github.com/podbridge/fulfillment/internal/platform/firestore"
	"github.com/podbridge/fulfillment/internal/repositories"
)

// ExternalOrderRepository stores join records keyed by reference id.
type ExternalOrderRepository struct {
	base *pfirestore.BaseRepository[externalOrderDocument]
}

var _ repositories.ExternalOrderRepository = (*ExternalOrderRepository)(nil)

func NewExternalOrderRepository(provider *pfirestore.Provider) (*ExternalOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("external order repository requires firestore provider")
	}
	return &ExternalOrderRepository{
		base: pfirestore.NewBaseRepository[externalOrderDocument](provider, externalOrdersCollection),
	}, nil
}

func (r *ExternalOrderRepository) FindByReference(ctx context.Context, referenceID string) (domain.ExternalOrderRecord, error) {
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return domain.ExternalOrderRecord{}, repositories.NewNotFoundError("externalOrders.find", "reference id is required")
	}
	doc, err := r.base.Get(ctx, referenceID)
	if err != nil {
		return domain.ExternalOrderRecord{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ExternalOrderRepository) Save(ctx context.Context, record domain.ExternalOrderRecord) error {
	return r.base.Set(ctx, record.ReferenceID, newExternalOrderDocument(record))
}
