package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/repositories"
)

const selectExternalOrderSQL = `
SELECT reference_id, local_order_id, provider_order_id, status, costs, items, recipient,
       tracking, shipped_at, created_at, updated_at
FROM external_orders
WHERE reference_id = $1`

const upsertExternalOrderSQL = `
INSERT INTO external_orders (reference_id, local_order_id, provider_order_id, status, costs, items,
                             recipient, tracking, shipped_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (reference_id) DO UPDATE SET
    provider_order_id = EXCLUDED.provider_order_id,
    status = EXCLUDED.status,
    costs = EXCLUDED.costs,
    items = EXCLUDED.items,
    recipient = EXCLUDED.recipient,
    tracking = EXCLUDED.tracking,
    shipped_at = EXCLUDED.shipped_at,
    updated_at = EXCLUDED.updated_at`

// ExternalOrderRepository stores the join between local and provider orders.
type ExternalOrderRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.ExternalOrderRepository = (*ExternalOrderRepository)(nil)

func (r *ExternalOrderRepository) FindByReference(ctx context.Context, referenceID string) (domain.ExternalOrderRecord, error) {
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return domain.ExternalOrderRecord{}, repositories.NewNotFoundError("external_orders.find", "reference id is required")
	}
	return loadExternalOrder(ctx, r.pool, referenceID, false)
}

// Save upserts by reference id. local_order_id stays fixed once written.
func (r *ExternalOrderRepository) Save(ctx context.Context, record domain.ExternalOrderRecord) error {
	if strings.TrimSpace(record.ReferenceID) == "" {
		return repositories.NewNotFoundError("external_orders.save", "reference id is required")
	}
	return saveExternalOrder(ctx, r.pool, record)
}

func loadExternalOrder(ctx context.Context, q querier, referenceID string, forUpdate bool) (domain.ExternalOrderRecord, error) {
	const op = "external_orders.find"
	query := selectExternalOrderSQL
	if forUpdate {
		query += "\nFOR UPDATE"
	}

	var (
		record                                   domain.ExternalOrderRecord
		status                                   string
		costsRaw, itemsRaw, recipientRaw, trkRaw []byte
		shippedAt                                *time.Time
	)
	err := q.QueryRow(ctx, query, referenceID).Scan(
		&record.ReferenceID, &record.LocalOrderID, &record.ProviderOrderID, &status,
		&costsRaw, &itemsRaw, &recipientRaw, &trkRaw, &shippedAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExternalOrderRecord{}, repositories.NewNotFoundError(op, "external order not found")
		}
		return domain.ExternalOrderRecord{}, wrapError(op, err)
	}
	record.Status = domain.NormalizeExternalStatus(status)
	record.ShippedAt = utcPtr(shippedAt)
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()

	var costs costsJSON
	if err := decodeJSON("costs", costsRaw, &costs); err != nil {
		return domain.ExternalOrderRecord{}, err
	}
	record.Costs = domain.CostBreakdown(costs)
	if record.Items, err = decodeItems(itemsRaw); err != nil {
		return domain.ExternalOrderRecord{}, err
	}
	var recipient addressJSON
	if err := decodeJSON("recipient", recipientRaw, &recipient); err != nil {
		return domain.ExternalOrderRecord{}, err
	}
	record.Recipient = domain.Address(recipient)
	var tracking trackingJSON
	if err := decodeJSON("tracking", trkRaw, &tracking); err != nil {
		return domain.ExternalOrderRecord{}, err
	}
	record.Tracking = domain.Tracking(tracking)
	return record, nil
}

func saveExternalOrder(ctx context.Context, q querier, record domain.ExternalOrderRecord) error {
	const op = "external_orders.save"
	costs, err := encodeJSON("costs", costsJSON(record.Costs))
	if err != nil {
		return err
	}
	items, err := encodeItems(record.Items)
	if err != nil {
		return err
	}
	recipient, err := encodeJSON("recipient", addressJSON(record.Recipient))
	if err != nil {
		return err
	}
	var tracking []byte
	if record.Tracking != (domain.Tracking{}) {
		if tracking, err = encodeJSON("tracking", trackingJSON(record.Tracking)); err != nil {
			return err
		}
	}
	_, err = q.Exec(ctx, upsertExternalOrderSQL,
		record.ReferenceID, record.LocalOrderID, record.ProviderOrderID, string(record.Status),
		costs, items, recipient, tracking, record.ShippedAt, record.CreatedAt.UTC(), record.UpdatedAt.UTC(),
	)
	return wrapError(op, err)
}
