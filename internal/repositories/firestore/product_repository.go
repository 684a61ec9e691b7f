package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/podbridge/fulfillment/internal/domain"
	pfirestore "github.com/podbridge/fulfillment/internal/platform/firestore"
	"github.com/podbridge/fulfillment/internal/repositories"
)

const fulfillmentProvider = "printful"

// ProductRepository reads the provider block stored on product documents.
type ProductRepository struct {
	base  *pfirestore.BaseRepository[productDocument]
	clock func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base:  pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		clock: time.Now,
	}, nil
}

// ProviderMetadata returns metadata keyed by product id. Products without a
// provider block are omitted and therefore resolve as not fulfilled.
func (r *ProductRepository) ProviderMetadata(ctx context.Context, productIDs []string) (map[string]domain.ProviderMetadata, error) {
	docs, err := r.base.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	result := make(map[string]domain.ProviderMetadata, len(docs))
	for _, doc := range docs {
		if doc.Data.Fulfillment == nil {
			continue
		}
		result[doc.ID] = doc.Data.Fulfillment.toDomain(doc.ID)
	}
	return result, nil
}

// SaveProviderMetadata merges the provider block into the product document.
func (r *ProductRepository) SaveProviderMetadata(ctx context.Context, metadata domain.ProviderMetadata) error {
	productID := strings.TrimSpace(metadata.ProductID)
	ref, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	variants := make([]map[string]any, len(metadata.Variants))
	for i, v := range metadata.Variants {
		variants[i] = map[string]any{
			"variantId":    v.VariantID,
			"rank":         v.Rank,
			"catalogPrice": v.CatalogPrice,
			"label":        v.Label,
		}
	}
	_, err = ref.Set(ctx, map[string]any{
		"fulfillment": map[string]any{
			"provider":  fulfillmentProvider,
			"fulfilled": metadata.Fulfilled,
			"variants":  variants,
			"updatedAt": r.clock().UTC(),
		},
	}, firestore.MergeAll)
	return pfirestore.WrapError("products.saveProviderMetadata", err)
}
