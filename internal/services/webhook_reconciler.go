package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/printful"
	"github.com/podbridge/fulfillment/internal/repositories"
)

const (
	webhookProvider           = "printful"
	webhookErrOrderNotFound   = "order not found"
	webhookErrInvalidPayload  = "invalid payload"
	maxWebhookErrorMessageLen = 512
)

// WebhookReconcilerDeps bundles collaborators required to construct the reconciler.
type WebhookReconcilerDeps struct {
	Reconciliation repositories.ReconciliationRepository
	ExternalOrders repositories.ExternalOrderRepository
	Events         repositories.WebhookEventRepository
	Archive        PayloadArchiver
	Publisher      FulfillmentEventPublisher
	Meter          metric.Meter
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type webhookReconciler struct {
	reconciliation repositories.ReconciliationRepository
	externals      repositories.ExternalOrderRepository
	events         repositories.WebhookEventRepository
	archive        PayloadArchiver
	publisher      FulfillmentEventPublisher
	clock          func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)

	counter        metric.Int64Counter
	counterEnabled bool
}

var _ WebhookReconciler = (*webhookReconciler)(nil)

// NewWebhookReconciler constructs the reconciler applying provider events to local state.
func NewWebhookReconciler(deps WebhookReconcilerDeps) (WebhookReconciler, error) {
	if deps.Reconciliation == nil {
		return nil, errors.New("webhook reconciler: reconciliation repository is required")
	}
	if deps.ExternalOrders == nil {
		return nil, errors.New("webhook reconciler: external order repository is required")
	}
	if deps.Events == nil {
		return nil, errors.New("webhook reconciler: webhook event repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(servicesMeterName)
	}

	r := &webhookReconciler{
		reconciliation: deps.Reconciliation,
		externals:      deps.ExternalOrders,
		events:         deps.Events,
		archive:        deps.Archive,
		publisher:      deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}
	counter, err := meter.Int64Counter(
		"webhook.events",
		metric.WithDescription("Provider webhook deliveries by type and outcome"),
	)
	if err == nil {
		r.counter = counter
		r.counterEnabled = true
	}
	return r, nil
}

// Reconcile handles one delivery. Processing problems are reported in the outcome
// and never returned as errors; the only error is a failure to write the audit row.
func (r *webhookReconciler) Reconcile(ctx context.Context, delivery WebhookDelivery) (ReconcileOutcome, error) {
	receivedAt := delivery.ReceivedAt.UTC()
	if delivery.ReceivedAt.IsZero() {
		receivedAt = r.clock()
	}
	outcome := ReconcileOutcome{EventID: r.newID()}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				outcome.Processed = false
				outcome.ErrorMessage = fmt.Sprintf("panic: %v", rec)
				r.logger(ctx, "webhook.panic", map[string]any{
					"eventId": outcome.EventID,
					"panic":   fmt.Sprint(rec),
				})
			}
		}()
		r.process(ctx, delivery.Payload, receivedAt, &outcome)
	}()

	if r.archive != nil {
		path, err := r.archive.ArchiveWebhook(ctx, outcome.EventID, receivedAt, delivery.Payload)
		if err != nil {
			r.logger(ctx, "webhook.archive.failed", map[string]any{
				"eventId": outcome.EventID,
				"error":   err.Error(),
			})
		} else {
			outcome.ArchivePath = path
		}
	}

	audit := domain.WebhookEvent{
		ID:           outcome.EventID,
		Provider:     webhookProvider,
		Type:         outcome.Type,
		Payload:      append([]byte{}, delivery.Payload...),
		Processed:    outcome.Processed,
		ErrorMessage: truncate(outcome.ErrorMessage, maxWebhookErrorMessageLen),
		ReceivedAt:   receivedAt,
	}
	if outcome.ReferenceID != "" {
		ref := outcome.ReferenceID
		audit.ReferenceID = &ref
	}

	r.recordDelivery(ctx, outcome)
	if err := r.events.Append(ctx, audit); err != nil {
		r.logger(ctx, "webhook.audit.failed", map[string]any{
			"eventId":   outcome.EventID,
			"type":      outcome.Type,
			"reference": outcome.ReferenceID,
			"error":     err.Error(),
		})
		return outcome, fmt.Errorf("%w: %v", ErrWebhookAuditFailed, err)
	}

	r.logger(ctx, "webhook.reconciled", map[string]any{
		"eventId":   outcome.EventID,
		"type":      outcome.Type,
		"reference": outcome.ReferenceID,
		"processed": outcome.Processed,
		"error":     outcome.ErrorMessage,
		"source":    delivery.Source,
	})
	return outcome, nil
}

func (r *webhookReconciler) process(ctx context.Context, payload []byte, receivedAt time.Time, outcome *ReconcileOutcome) {
	event, err := printful.ParseWebhook(payload)
	if err != nil {
		outcome.ErrorMessage = webhookErrInvalidPayload
		return
	}
	outcome.Type = event.Type()

	reference := strings.TrimSpace(event.ExternalID())
	if reference == "" {
		outcome.ErrorMessage = webhookErrOrderNotFound
		return
	}

	if _, ok := event.(printful.UnknownEvent); ok {
		if _, err := r.externals.FindByReference(ctx, reference); err != nil {
			outcome.ErrorMessage = r.resolutionMessage(ctx, reference, err)
			return
		}
		outcome.ReferenceID = reference
		outcome.Processed = true
		return
	}

	record, order, err := r.reconciliation.Apply(ctx, reference, func(record domain.ExternalOrderRecord, order domain.LocalOrder) (domain.ExternalOrderRecord, domain.LocalOrder, error) {
		return applyTransition(event, record, order, receivedAt)
	})
	if err != nil {
		outcome.ErrorMessage = r.resolutionMessage(ctx, reference, err)
		return
	}

	outcome.ReferenceID = reference
	outcome.Processed = true
	outcome.OrderStatus = order.Status
	r.publishTransition(ctx, event, record, order, receivedAt)
}

func (r *webhookReconciler) resolutionMessage(ctx context.Context, reference string, err error) string {
	if repositories.IsNotFound(err) {
		resolutionErr := newFulfillmentError(KindWebhookResolutionFailed, webhookErrOrderNotFound, err)
		r.logger(ctx, "webhook.unresolved", map[string]any{
			"reference": reference,
			"error":     resolutionErr.Error(),
		})
		return webhookErrOrderNotFound
	}
	r.logger(ctx, "webhook.apply.failed", map[string]any{
		"reference": reference,
		"error":     err.Error(),
	})
	return err.Error()
}

// applyTransition is the reconciliation state machine. The external record always
// takes the event's fields; the local order only moves forward.
func applyTransition(event printful.WebhookEvent, record domain.ExternalOrderRecord, order domain.LocalOrder, now time.Time) (domain.ExternalOrderRecord, domain.LocalOrder, error) {
	switch ev := event.(type) {
	case printful.PackageShipped:
		record.Status = domain.ExternalStatusFulfilled
		record.Tracking = domain.Tracking{
			Carrier: strings.TrimSpace(ev.Shipment.Carrier),
			Service: strings.TrimSpace(ev.Shipment.Service),
			Number:  ev.Shipment.TrackingNumber.String(),
			URL:     strings.TrimSpace(ev.Shipment.TrackingURL),
		}
		shippedAt := now
		if ev.Shipment.ShippedAt > 0 {
			shippedAt = time.Unix(ev.Shipment.ShippedAt, 0).UTC()
		}
		record.ShippedAt = &shippedAt
		if order.Status.CanTransitionTo(domain.OrderStatusCompleted) {
			completedAt := now
			order.Status = domain.OrderStatusCompleted
			order.TrackingNumber = record.Tracking.Number
			order.CompletedAt = &completedAt
			order.UpdatedAt = now
		}
	case printful.PackageReturned:
		record.Status = domain.ExternalStatusReturned
		order = cancelOrder(order, now)
	case printful.OrderFailed:
		record.Status = domain.ExternalStatusFailed
		order = cancelOrder(order, now)
	case printful.OrderUpdated:
		if status := domain.NormalizeExternalStatus(ev.Order.Status); status != "" {
			record.Status = status
		}
		if ev.Order.Costs != nil {
			record.Costs = costBreakdown(*ev.Order.Costs)
		}
	default:
		return record, order, nil
	}
	if record.ProviderOrderID == 0 {
		record.ProviderOrderID = int64(event.Header().Order.ID)
	}
	record.UpdatedAt = now
	return record, order, nil
}

func cancelOrder(order domain.LocalOrder, now time.Time) domain.LocalOrder {
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return order
	}
	cancelledAt := now
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &cancelledAt
	order.UpdatedAt = now
	return order
}

func (r *webhookReconciler) publishTransition(ctx context.Context, event printful.WebhookEvent, record domain.ExternalOrderRecord, order domain.LocalOrder, at time.Time) {
	if r.publisher == nil {
		return
	}
	eventType := ""
	switch event.(type) {
	case printful.PackageShipped:
		eventType = FulfillmentEventShipped
	case printful.PackageReturned:
		eventType = FulfillmentEventReturned
	case printful.OrderFailed:
		eventType = FulfillmentEventRejected
	case printful.OrderUpdated:
		eventType = FulfillmentEventUpdated
	default:
		return
	}
	msg := FulfillmentEvent{
		Type:            eventType,
		OrderID:         record.LocalOrderID,
		ReferenceID:     record.ReferenceID,
		ProviderOrderID: record.ProviderOrderID,
		ExternalStatus:  string(record.Status),
		OrderStatus:     string(order.Status),
		OccurredAt:      at,
	}
	if record.Tracking.Number != "" {
		msg.Metadata = map[string]any{
			"trackingNumber": record.Tracking.Number,
			"carrier":        record.Tracking.Carrier,
		}
	}
	if err := r.publisher.PublishFulfillmentEvent(ctx, msg); err != nil {
		r.logger(ctx, "webhook.event.publish.failed", map[string]any{
			"type":      eventType,
			"reference": record.ReferenceID,
			"error":     err.Error(),
		})
	}
}

func (r *webhookReconciler) recordDelivery(ctx context.Context, outcome ReconcileOutcome) {
	if !r.counterEnabled {
		return
	}
	eventType := outcome.Type
	if eventType == "" {
		eventType = "unknown"
	}
	r.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.Bool("processed", outcome.Processed),
	))
}

// truncate caps value at limit bytes without splitting a UTF-8 sequence.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
