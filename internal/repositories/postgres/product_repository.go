package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/repositories"
)

// ProductRepository stores provider metadata in product_fulfillment.
type ProductRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// ProviderMetadata returns metadata for the products that have any. Missing products are omitted.
func (r *ProductRepository) ProviderMetadata(ctx context.Context, productIDs []string) (map[string]domain.ProviderMetadata, error) {
	const op = "products.metadata"
	ids := make([]string, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	result := make(map[string]domain.ProviderMetadata, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT product_id, fulfilled, variants
FROM product_fulfillment
WHERE product_id = ANY($1)`, ids)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			meta        domain.ProviderMetadata
			variantsRaw []byte
		)
		if err := rows.Scan(&meta.ProductID, &meta.Fulfilled, &variantsRaw); err != nil {
			return nil, wrapError(op, err)
		}
		if meta.Variants, err = decodeVariants(variantsRaw); err != nil {
			return nil, err
		}
		result[meta.ProductID] = meta
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return result, nil
}

func (r *ProductRepository) SaveProviderMetadata(ctx context.Context, metadata domain.ProviderMetadata) error {
	const op = "products.save_metadata"
	productID := strings.TrimSpace(metadata.ProductID)
	if productID == "" {
		return repositories.NewNotFoundError(op, "product id is required")
	}
	variants, err := encodeVariants(metadata.Variants)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO product_fulfillment (product_id, fulfilled, variants, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (product_id) DO UPDATE SET
    fulfilled = EXCLUDED.fulfilled,
    variants = EXCLUDED.variants,
    updated_at = NOW()`, productID, metadata.Fulfilled, variants)
	return wrapError(op, err)
}
