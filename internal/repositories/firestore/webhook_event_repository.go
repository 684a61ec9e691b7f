package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/podbridge/fulfillment/internal/domain"
	pfirestore "github.com/podbridge/fulfillment/internal/platform/firestore"
	"github.com/podbridge/fulfillment/internal/repositories"
)

const defaultWebhookListLimit = 50

// WebhookEventRepository is the append-only audit log of deliveries.
type WebhookEventRepository struct {
	base *pfirestore.BaseRepository[webhookEventDocument]
}

var _ repositories.WebhookEventRepository = (*WebhookEventRepository)(nil)

func NewWebhookEventRepository(provider *pfirestore.Provider) (*WebhookEventRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook event repository requires firestore provider")
	}
	return &WebhookEventRepository{
		base: pfirestore.NewBaseRepository[webhookEventDocument](provider, webhookEventsCollection),
	}, nil
}

// Append creates the audit row. An existing id is a conflict; rows are never overwritten.
func (r *WebhookEventRepository) Append(ctx context.Context, event domain.WebhookEvent) error {
	return r.base.Create(ctx, event.ID, newWebhookEventDocument(event))
}

func (r *WebhookEventRepository) FindByID(ctx context.Context, eventID string) (domain.WebhookEvent, error) {
	doc, err := r.base.Get(ctx, eventID)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns the newest rows first.
func (r *WebhookEventRepository) List(ctx context.Context, filter repositories.WebhookEventFilter) ([]domain.WebhookEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultWebhookListLimit
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ReferenceID != "" {
			q = q.Where("referenceId", "==", filter.ReferenceID)
		}
		if filter.Type != "" {
			q = q.Where("type", "==", filter.Type)
		}
		if filter.Unprocessed {
			q = q.Where("processed", "==", false)
		}
		return q.OrderBy("receivedAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	events := make([]domain.WebhookEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, doc.Data.toDomain(doc.ID))
	}
	return events, nil
}
