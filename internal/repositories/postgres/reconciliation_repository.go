package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/repositories"
)

// ReconciliationRepository locks the external record and its order, then writes both in one transaction.
type ReconciliationRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.ReconciliationRepository = (*ReconciliationRepository)(nil)

func (r *ReconciliationRepository) Apply(ctx context.Context, referenceID string, mutate repositories.ReconcileFunc) (domain.ExternalOrderRecord, domain.LocalOrder, error) {
	const op = "reconciliation.apply"
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return domain.ExternalOrderRecord{}, domain.LocalOrder{}, repositories.NewNotFoundError(op, "reference id is required")
	}
	if mutate == nil {
		return domain.ExternalOrderRecord{}, domain.LocalOrder{}, errors.New("reconciliation.apply: mutate function is required")
	}

	var (
		record domain.ExternalOrderRecord
		order  domain.LocalOrder
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := loadExternalOrder(ctx, tx, referenceID, true)
		if err != nil {
			return err
		}
		local, err := loadOrder(ctx, tx, current.LocalOrderID, true)
		if err != nil {
			if repositories.IsNotFound(err) {
				return repositories.NewNotFoundError(op,
					fmt.Sprintf("local order %s for reference %s not found", current.LocalOrderID, referenceID))
			}
			return err
		}

		nextRecord, nextOrder, err := mutate(current, local)
		if err != nil {
			return err
		}
		if err := saveExternalOrder(ctx, tx, nextRecord); err != nil {
			return err
		}
		if err := updateOrder(ctx, tx, nextOrder); err != nil {
			return err
		}
		record, order = nextRecord, nextOrder
		return nil
	})
	if err != nil {
		return domain.ExternalOrderRecord{}, domain.LocalOrder{}, wrapError(op, err)
	}
	return record, order, nil
}
