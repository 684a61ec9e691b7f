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

const defaultWebhookListLimit = 50

const selectWebhookEventColumns = `
SELECT id, provider, type, payload, reference_id, processed, error_message, received_at
FROM webhook_events`

// WebhookEventRepository is the append-only audit log. Rows are inserted, never updated.
type WebhookEventRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.WebhookEventRepository = (*WebhookEventRepository)(nil)

func (r *WebhookEventRepository) Append(ctx context.Context, event domain.WebhookEvent) error {
	const op = "webhook_events.append"
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("%s: event id is required", op)
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO webhook_events (id, provider, type, payload, reference_id, processed, error_message, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.Provider, event.Type, payloadBytes(event.Payload), event.ReferenceID, event.Processed,
		event.ErrorMessage, event.ReceivedAt.UTC(),
	)
	return wrapError(op, err)
}

func (r *WebhookEventRepository) FindByID(ctx context.Context, eventID string) (domain.WebhookEvent, error) {
	const op = "webhook_events.find"
	event, err := scanWebhookEvent(r.pool.QueryRow(ctx, selectWebhookEventColumns+"\nWHERE id = $1", strings.TrimSpace(eventID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookEvent{}, repositories.NewNotFoundError(op, "webhook event not found")
		}
		return domain.WebhookEvent{}, wrapError(op, err)
	}
	return event, nil
}

// List returns the newest rows first.
func (r *WebhookEventRepository) List(ctx context.Context, filter repositories.WebhookEventFilter) ([]domain.WebhookEvent, error) {
	const op = "webhook_events.list"
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultWebhookListLimit
	}

	var (
		clauses []string
		args    []any
	)
	if filter.ReferenceID != "" {
		args = append(args, filter.ReferenceID)
		clauses = append(clauses, fmt.Sprintf("reference_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Unprocessed {
		clauses = append(clauses, "processed = FALSE")
	}
	query := selectWebhookEventColumns
	if len(clauses) > 0 {
		query += "\nWHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf("\nORDER BY received_at DESC, id DESC\nLIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()
	events := make([]domain.WebhookEvent, 0)
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, wrapError(op, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return events, nil
}

func scanWebhookEvent(row pgx.Row) (domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	if err := row.Scan(&event.ID, &event.Provider, &event.Type, &event.Payload, &event.ReferenceID,
		&event.Processed, &event.ErrorMessage, &event.ReceivedAt); err != nil {
		return domain.WebhookEvent{}, err
	}
	event.ReceivedAt = event.ReceivedAt.UTC()
	return event, nil
}

// payloadBytes keeps an empty body from binding as NULL against the NOT NULL column.
func payloadBytes(payload []byte) []byte {
	if payload == nil {
		return []byte{}
	}
	return payload
}
