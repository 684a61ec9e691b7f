package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/podbridge/fulfillment/internal/repositories"
)

const (
	defaultAuditListLimit = 50
	maxAuditListLimit     = 500
)

// WebhookAuditServiceDeps bundles collaborators required to construct the audit service.
type WebhookAuditServiceDeps struct {
	Events     repositories.WebhookEventRepository
	Reconciler WebhookReconciler
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type webhookAuditService struct {
	events     repositories.WebhookEventRepository
	reconciler WebhookReconciler
	logger     func(context.Context, string, map[string]any)
}

var _ WebhookAuditService = (*webhookAuditService)(nil)

// NewWebhookAuditService constructs the audit log reader and replayer.
func NewWebhookAuditService(deps WebhookAuditServiceDeps) (WebhookAuditService, error) {
	if deps.Events == nil {
		return nil, errors.New("webhook audit service: webhook event repository is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("webhook audit service: reconciler is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &webhookAuditService{
		events:     deps.Events,
		reconciler: deps.Reconciler,
		logger:     logger,
	}, nil
}

func (s *webhookAuditService) ListEvents(ctx context.Context, filter WebhookEventFilter) ([]WebhookEvent, error) {
	filter.ReferenceID = strings.TrimSpace(filter.ReferenceID)
	filter.Type = strings.TrimSpace(filter.Type)
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultAuditListLimit
	case filter.Limit > maxAuditListLimit:
		filter.Limit = maxAuditListLimit
	}

	events, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list webhook events: %v", ErrFulfillmentUnavailable, err)
	}
	return events, nil
}

// Replay feeds a stored payload through the reconciler again. The replay is a new
// delivery and therefore gets its own audit row.
func (s *webhookAuditService) Replay(ctx context.Context, eventID string) (ReconcileOutcome, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return ReconcileOutcome{}, fmt.Errorf("%w: event id is required", ErrFulfillmentInvalidInput)
	}

	stored, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return ReconcileOutcome{}, fmt.Errorf("%w: %s", ErrWebhookEventNotFound, eventID)
		}
		return ReconcileOutcome{}, fmt.Errorf("%w: load webhook event: %v", ErrFulfillmentUnavailable, err)
	}

	outcome, err := s.reconciler.Reconcile(ctx, WebhookDelivery{
		Payload: stored.Payload,
		Source:  "replay:" + eventID,
	})
	s.logger(ctx, "webhook.replayed", map[string]any{
		"sourceEventId": eventID,
		"eventId":       outcome.EventID,
		"processed":     outcome.Processed,
	})
	return outcome, err
}
