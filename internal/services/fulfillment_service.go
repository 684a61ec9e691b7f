package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/printful"
	"github.com/podbridge/fulfillment/internal/repositories"
)

const servicesMeterName = "github.com/podbridge/fulfillment/internal/services"

// FulfillmentServiceDeps bundles collaborators required to construct the fulfillment service.
type FulfillmentServiceDeps struct {
	Orders         repositories.OrderRepository
	Products       repositories.ProductRepository
	ExternalOrders repositories.ExternalOrderRepository
	Provider       FulfillmentProvider
	Events         FulfillmentEventPublisher
	Meter          metric.Meter
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	externals repositories.ExternalOrderRepository
	provider  FulfillmentProvider
	events    FulfillmentEventPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)

	submissions        metric.Int64Counter
	submissionsEnabled bool
}

var _ FulfillmentService = (*fulfillmentService)(nil)

// NewFulfillmentService wires dependencies into the two-phase submission orchestrator.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("fulfillment service: product repository is required")
	}
	if deps.ExternalOrders == nil {
		return nil, errors.New("fulfillment service: external order repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("fulfillment service: provider client is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(servicesMeterName)
	}

	svc := &fulfillmentService{
		orders:    deps.Orders,
		products:  deps.Products,
		externals: deps.ExternalOrders,
		provider:  deps.Provider,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
	counter, err := meter.Int64Counter(
		"fulfillment.submissions",
		metric.WithDescription("Fulfillment submissions by outcome"),
	)
	if err == nil {
		svc.submissions = counter
		svc.submissionsEnabled = true
	}
	return svc, nil
}

func (s *fulfillmentService) Fulfill(ctx context.Context, cmd FulfillCommand) (FulfillmentResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return FulfillmentResult{}, newFulfillmentError(KindInvalidInput, "order id is required", nil)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return FulfillmentResult{}, s.reject(ctx, cmd, s.mapLoadError(orderID, err))
	}
	if seller := strings.TrimSpace(cmd.SellerID); seller != "" && order.SellerID != seller {
		return FulfillmentResult{}, s.reject(ctx, cmd, newFulfillmentError(KindOrderNotFound, fmt.Sprintf("order %q not found", orderID), nil))
	}
	if order.Status != domain.OrderStatusPending {
		return FulfillmentResult{}, s.reject(ctx, cmd, newFulfillmentError(KindConflict,
			fmt.Sprintf("order %q is %s, only pending orders can be submitted", orderID, order.Status), nil))
	}
	if err := s.ensureNotSubmitted(ctx, orderID); err != nil {
		return FulfillmentResult{}, s.reject(ctx, cmd, err)
	}

	metadata, err := s.products.ProviderMetadata(ctx, productIDs(order.Items))
	if err != nil {
		return FulfillmentResult{}, s.reject(ctx, cmd, newFulfillmentError(KindUnavailable, "load product provider metadata", err))
	}

	translation, err := TranslateOrder(order, metadata, cmd.Overrides)
	if err != nil {
		return FulfillmentResult{}, s.reject(ctx, cmd, err)
	}
	if len(translation.Skipped) > 0 {
		s.logger(ctx, "fulfillment.items.skipped", map[string]any{
			"orderId": orderID,
			"skipped": len(translation.Skipped),
		})
	}

	estimate, err := s.provider.EstimateCosts(ctx, translation.Request)
	if err != nil {
		return FulfillmentResult{}, s.reject(ctx, cmd, newFulfillmentError(KindEstimationFailed, providerMessage("cost estimate", err), err))
	}

	created, err := s.provider.CreateOrder(ctx, translation.Request, true)
	if err != nil {
		return FulfillmentResult{}, s.reject(ctx, cmd, newFulfillmentError(KindSubmissionFailed, providerMessage("order submission", err), err))
	}

	now := s.clock()
	record := buildExternalRecord(order, translation, created, estimate, now)
	result := FulfillmentResult{
		Record:   record,
		Estimate: estimate,
		Skipped:  translation.Skipped,
	}

	// The provider order stands from here on; local write failures are reported, never undone.
	var persistErr error
	if err := s.externals.Save(ctx, record); err != nil {
		s.logger(ctx, "fulfillment.persist.failed", map[string]any{
			"orderId":         orderID,
			"providerOrderId": record.ProviderOrderID,
			"error":           err.Error(),
		})
		persistErr = newFulfillmentError(KindPersistenceFailed, "external order record was not saved", err)
	}

	if _, err := s.orders.TransitionStatus(ctx, orderID, domain.OrderStatusProcessing, now); err != nil {
		if repositories.IsConflict(err) {
			// A webhook already moved the order forward.
			s.logger(ctx, "fulfillment.status.skipped", map[string]any{
				"orderId": orderID,
				"reason":  err.Error(),
			})
		} else {
			s.logger(ctx, "fulfillment.status.failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
			if persistErr == nil {
				persistErr = newFulfillmentError(KindPersistenceFailed, "order status was not updated", err)
			}
		}
	}

	s.recordOutcome(ctx, "submitted")
	s.logger(ctx, "fulfillment.submitted", map[string]any{
		"orderId":         orderID,
		"providerOrderId": record.ProviderOrderID,
		"status":          string(record.Status),
		"items":           len(record.Items),
	})
	s.publish(ctx, FulfillmentEvent{
		Type:            FulfillmentEventSubmitted,
		OrderID:         orderID,
		ReferenceID:     record.ReferenceID,
		ProviderOrderID: record.ProviderOrderID,
		ExternalStatus:  string(record.Status),
		OrderStatus:     string(domain.OrderStatusProcessing),
		ActorID:         cmd.ActorID,
		OccurredAt:      now,
		Metadata: map[string]any{
			"total":    record.Costs.Total,
			"currency": record.Costs.Currency,
		},
	})

	return result, persistErr
}

func (s *fulfillmentService) ensureNotSubmitted(ctx context.Context, orderID string) error {
	existing, err := s.externals.FindByReference(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil
		}
		return newFulfillmentError(KindUnavailable, "load external order record", err)
	}
	if existing.Status.AllowsResubmission() {
		return nil
	}
	return newFulfillmentError(KindConflict,
		fmt.Sprintf("order %q already has provider order %d in status %s", orderID, existing.ProviderOrderID, existing.Status), nil)
}

func (s *fulfillmentService) mapLoadError(orderID string, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return newFulfillmentError(KindOrderNotFound, fmt.Sprintf("order %q not found", orderID), err)
		case repoErr.IsUnavailable():
			return newFulfillmentError(KindUnavailable, "order store unavailable", err)
		}
	}
	return newFulfillmentError(KindUnavailable, "load order", err)
}

func (s *fulfillmentService) reject(ctx context.Context, cmd FulfillCommand, err error) error {
	kind := KindUnavailable
	message := err.Error()
	if fe, ok := AsFulfillmentError(err); ok {
		kind = fe.Kind
		message = fe.Message
	}
	s.recordOutcome(ctx, string(kind))
	s.logger(ctx, "fulfillment.rejected", map[string]any{
		"orderId": cmd.OrderID,
		"kind":    string(kind),
		"error":   err.Error(),
	})

	// Failures that never reached the provider are not published.
	if kind == KindEstimationFailed || kind == KindSubmissionFailed {
		s.publish(ctx, FulfillmentEvent{
			Type:       FulfillmentEventFailed,
			OrderID:    strings.TrimSpace(cmd.OrderID),
			ActorID:    cmd.ActorID,
			OccurredAt: s.clock(),
			Metadata: map[string]any{
				"kind":    string(kind),
				"message": message,
			},
		})
	}
	return err
}

func (s *fulfillmentService) recordOutcome(ctx context.Context, outcome string) {
	if !s.submissionsEnabled {
		return
	}
	s.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *fulfillmentService) publish(ctx context.Context, event FulfillmentEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishFulfillmentEvent(ctx, event); err != nil {
		s.logger(ctx, "fulfillment.event.publish.failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func buildExternalRecord(order LocalOrder, translation Translation, created printful.Order, estimate printful.CostEstimate, now time.Time) ExternalOrderRecord {
	req := translation.Request
	productByLine := make(map[string]string, len(order.Items))
	for _, item := range order.Items {
		productByLine[strings.TrimSpace(item.ID)] = item.ProductID
	}

	items := make([]domain.SubmittedItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.SubmittedItem{
			LineItemID:  item.ExternalID,
			ProductID:   productByLine[item.ExternalID],
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			RetailPrice: item.RetailPrice,
		})
	}

	costs := created.Costs
	if strings.TrimSpace(costs.Total) == "" {
		costs = estimate.Costs
	}
	status := domain.NormalizeExternalStatus(created.Status)
	if status == "" {
		status = domain.ExternalStatusPending
	}

	return ExternalOrderRecord{
		ReferenceID:     req.ExternalID,
		LocalOrderID:    order.ID,
		ProviderOrderID: int64(created.ID),
		Status:          status,
		Costs:           costBreakdown(costs),
		Items:           items,
		Recipient:       recipientSnapshot(req.Recipient),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func costBreakdown(costs printful.Costs) domain.CostBreakdown {
	return domain.CostBreakdown{
		Currency: strings.TrimSpace(costs.Currency),
		Subtotal: strings.TrimSpace(costs.Subtotal),
		Discount: strings.TrimSpace(costs.Discount),
		Shipping: strings.TrimSpace(costs.Shipping),
		Tax:      strings.TrimSpace(costs.Tax),
		Total:    strings.TrimSpace(costs.Total),
	}
}

func recipientSnapshot(r printful.Recipient) domain.Address {
	return domain.Address{
		Name:       r.Name,
		Company:    r.Company,
		Line1:      r.Address1,
		Line2:      r.Address2,
		City:       r.City,
		State:      r.StateCode,
		PostalCode: r.Zip,
		Country:    r.CountryCode,
		Phone:      r.Phone,
	}
}

func productIDs(items []LineItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func providerMessage(step string, err error) string {
	if providerErr, ok := printful.AsError(err); ok {
		if providerErr.Status == 0 {
			return fmt.Sprintf("%s failed: provider unreachable", step)
		}
		return fmt.Sprintf("%s rejected by provider: %s", step, providerErr.Message)
	}
	return fmt.Sprintf("%s failed", step)
}
