package services

import (
	"context"
	"time"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/printful"
	"github.com/podbridge/fulfillment/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	LocalOrder          = domain.LocalOrder
	LineItem            = domain.LineItem
	Customer            = domain.Customer
	ProviderMetadata    = domain.ProviderMetadata
	ExternalOrderRecord = domain.ExternalOrderRecord
	WebhookEvent        = domain.WebhookEvent
	SystemHealthReport  = domain.SystemHealthReport
	WebhookEventFilter  = repositories.WebhookEventFilter
)

// FulfillmentService submits local orders to the provider.
type FulfillmentService interface {
	Fulfill(ctx context.Context, cmd FulfillCommand) (FulfillmentResult, error)
}

// WebhookReconciler applies provider lifecycle events to local state.
type WebhookReconciler interface {
	Reconcile(ctx context.Context, delivery WebhookDelivery) (ReconcileOutcome, error)
}

// WebhookAuditService exposes the delivery audit log to operators.
type WebhookAuditService interface {
	ListEvents(ctx context.Context, filter WebhookEventFilter) ([]WebhookEvent, error)
	Replay(ctx context.Context, eventID string) (ReconcileOutcome, error)
}

// DiagnosticsService reports provider connectivity for operator screens.
type DiagnosticsService interface {
	TestConnection(ctx context.Context) (ConnectionStatus, error)
	ProviderOrder(ctx context.Context, referenceID string) (printful.Order, error)
}

// SystemService reports process readiness.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// FulfillmentProvider is the subset of the provider client used for submission.
type FulfillmentProvider interface {
	EstimateCosts(ctx context.Context, req printful.OrderRequest) (printful.CostEstimate, error)
	CreateOrder(ctx context.Context, req printful.OrderRequest, confirm bool) (printful.Order, error)
}

// ProviderDiagnostics is the subset of the provider client used for diagnostics.
type ProviderDiagnostics interface {
	StoreInfo(ctx context.Context) (printful.Store, error)
	GetOrder(ctx context.Context, externalID string) (printful.Order, error)
}

// FulfillmentEventPublisher emits lifecycle notifications for downstream consumers.
type FulfillmentEventPublisher interface {
	PublishFulfillmentEvent(ctx context.Context, event FulfillmentEvent) error
}

// PayloadArchiver stores raw webhook bodies outside the audit log.
type PayloadArchiver interface {
	ArchiveWebhook(ctx context.Context, eventID string, receivedAt time.Time, payload []byte) (string, error)
}

// Fulfillment event types.
const (
	FulfillmentEventSubmitted = "fulfillment.submitted"
	FulfillmentEventFailed    = "fulfillment.failed"
	FulfillmentEventShipped   = "fulfillment.shipped"
	FulfillmentEventReturned  = "fulfillment.returned"
	FulfillmentEventRejected  = "fulfillment.rejected"
	FulfillmentEventUpdated   = "fulfillment.updated"
)

// FulfillmentEvent is published whenever the bridge changes fulfillment state.
type FulfillmentEvent struct {
	Type            string         `json:"type"`
	OrderID         string         `json:"orderId"`
	ReferenceID     string         `json:"referenceId,omitempty"`
	ProviderOrderID int64          `json:"providerOrderId,omitempty"`
	ExternalStatus  string         `json:"externalStatus,omitempty"`
	OrderStatus     string         `json:"orderStatus,omitempty"`
	ActorID         string         `json:"actorId,omitempty"`
	OccurredAt      time.Time      `json:"occurredAt"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// FulfillCommand requests submission of a local order.
type FulfillCommand struct {
	OrderID   string
	Overrides FulfillmentOverrides
	ActorID   string
	// SellerID, when set, restricts submission to orders owned by that seller.
	SellerID string
}

// FulfillmentOverrides replace stored order data in the provider payload.
type FulfillmentOverrides struct {
	Recipient      *RecipientOverride
	ShippingMethod string
	// Shipping and Tax are in the order currency's minor units.
	Shipping *int64
	Tax      *int64
}

// RecipientOverride fields take precedence over the stored shipping address when non-empty.
type RecipientOverride struct {
	Name        string
	Company     string
	Address1    string
	Address2    string
	City        string
	StateCode   string
	CountryCode string
	Zip         string
	Phone       string
	Email       string
}

// FulfillmentResult is returned by a successful submission.
type FulfillmentResult struct {
	Record   ExternalOrderRecord
	Estimate printful.CostEstimate
	Skipped  []SkippedItem
}

// WebhookDelivery is one inbound provider request body.
type WebhookDelivery struct {
	Payload    []byte
	ReceivedAt time.Time
	Source     string
}

// ReconcileOutcome summarises how a delivery was handled.
type ReconcileOutcome struct {
	EventID      string
	Type         string
	ReferenceID  string
	Processed    bool
	ErrorMessage string
	OrderStatus  domain.OrderStatus
	ArchivePath  string
}

// ConnectionStatus is the structured result of a provider connection test.
type ConnectionStatus struct {
	OK        bool
	Store     *printful.Store
	Error     *printful.Error
	Latency   time.Duration
	CheckedAt time.Time
}
