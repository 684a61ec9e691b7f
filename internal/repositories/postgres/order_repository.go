package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/repositories"
)

const selectOrderSQL = `
SELECT id, buyer_id, seller_id, status, currency, customer, shipping_address,
       total, discount, tracking_number, created_at, updated_at, completed_at, cancelled_at
FROM orders
WHERE id = $1`

const selectOrderItemsSQL = `
SELECT line_item_id, product_id, product_name, quantity, unit_price, variant_id
FROM order_items
WHERE order_id = $1
ORDER BY position`

const updateOrderSQL = `
UPDATE orders
SET status = $2, tracking_number = $3, updated_at = $4, completed_at = $5, cancelled_at = $6
WHERE id = $1`

// OrderRepository reads orders and their line items.
type OrderRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.LocalOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.LocalOrder{}, repositories.NewNotFoundError("orders.find", "order id is required")
	}
	return loadOrder(ctx, r.pool, orderID, false)
}

// TransitionStatus locks the row so concurrent transitions serialise.
func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID string, next domain.OrderStatus, at time.Time) (domain.LocalOrder, error) {
	const op = "orders.transition"
	orderID = strings.TrimSpace(orderID)
	var result domain.LocalOrder
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		order, err := loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(next) {
			result = order
			return repositories.NewConflictError(op, fmt.Sprintf("cannot move order from %s to %s", order.Status, next))
		}
		order.Status = next
		order.UpdatedAt = at.UTC()
		if err := updateOrder(ctx, tx, order); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return result, wrapError(op, err)
	}
	return result, nil
}

// Put inserts or replaces an order and its items. Used for seeding.
func (r *OrderRepository) Put(ctx context.Context, order domain.LocalOrder) error {
	const op = "orders.put"
	customer, err := encodeJSON("customer", customerJSON(order.Customer))
	if err != nil {
		return err
	}
	address, err := encodeJSON("shipping_address", addressJSON(order.ShippingAddress))
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO orders (id, buyer_id, seller_id, status, currency, customer, shipping_address,
                    total, discount, tracking_number, created_at, updated_at, completed_at, cancelled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
    buyer_id = EXCLUDED.buyer_id,
    seller_id = EXCLUDED.seller_id,
    status = EXCLUDED.status,
    currency = EXCLUDED.currency,
    customer = EXCLUDED.customer,
    shipping_address = EXCLUDED.shipping_address,
    total = EXCLUDED.total,
    discount = EXCLUDED.discount,
    tracking_number = EXCLUDED.tracking_number,
    updated_at = EXCLUDED.updated_at,
    completed_at = EXCLUDED.completed_at,
    cancelled_at = EXCLUDED.cancelled_at`,
			order.ID, order.BuyerID, order.SellerID, string(order.Status), order.Currency, customer, address,
			order.Total, order.Discount, order.TrackingNumber, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
			order.CompletedAt, order.CancelledAt,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
			return err
		}
		for i, item := range order.Items {
			if _, err := tx.Exec(ctx, `
INSERT INTO order_items (order_id, line_item_id, position, product_id, product_name, quantity, unit_price, variant_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				order.ID, item.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.VariantID,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapError(op, err)
}

func loadOrder(ctx context.Context, q querier, orderID string, forUpdate bool) (domain.LocalOrder, error) {
	const op = "orders.find"
	query := selectOrderSQL
	if forUpdate {
		query += "\nFOR UPDATE"
	}

	var (
		order                 domain.LocalOrder
		status                string
		customerRaw, addrRaw  []byte
		completedAt, cancelAt *time.Time
	)
	err := q.QueryRow(ctx, query, orderID).Scan(
		&order.ID, &order.BuyerID, &order.SellerID, &status, &order.Currency, &customerRaw, &addrRaw,
		&order.Total, &order.Discount, &order.TrackingNumber, &order.CreatedAt, &order.UpdatedAt,
		&completedAt, &cancelAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LocalOrder{}, repositories.NewNotFoundError(op, "order not found")
		}
		return domain.LocalOrder{}, wrapError(op, err)
	}
	order.Status = domain.NormalizeOrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.CompletedAt = utcPtr(completedAt)
	order.CancelledAt = utcPtr(cancelAt)

	var customer customerJSON
	if err := decodeJSON("customer", customerRaw, &customer); err != nil {
		return domain.LocalOrder{}, err
	}
	order.Customer = domain.Customer(customer)
	var address addressJSON
	if err := decodeJSON("shipping_address", addrRaw, &address); err != nil {
		return domain.LocalOrder{}, err
	}
	order.ShippingAddress = domain.Address(address)

	rows, err := q.Query(ctx, selectOrderItemsSQL, orderID)
	if err != nil {
		return domain.LocalOrder{}, wrapError(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.VariantID); err != nil {
			return domain.LocalOrder{}, wrapError(op, err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.LocalOrder{}, wrapError(op, err)
	}
	return order, nil
}

func updateOrder(ctx context.Context, q querier, order domain.LocalOrder) error {
	tag, err := q.Exec(ctx, updateOrderSQL,
		order.ID, string(order.Status), order.TrackingNumber, order.UpdatedAt.UTC(), order.CompletedAt, order.CancelledAt)
	if err != nil {
		return wrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewNotFoundError("orders.update", "order not found")
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
