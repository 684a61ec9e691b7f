package domain

import (
	"strings"
	"time"
)

// VariantOption is one provider SKU a product may be fulfilled with.
type VariantOption struct {
	VariantID    int64
	Rank         int
	CatalogPrice int64
	Label        string
}

// ProviderMetadata describes how a product maps to the provider catalogue.
type ProviderMetadata struct {
	ProductID string
	Fulfilled bool
	// Variants is a ranked list; the lowest Rank wins and ties go to the earliest entry.
	Variants []VariantOption
}

// ExternalStatus mirrors the provider's order status vocabulary.
type ExternalStatus string

const (
	ExternalStatusDraft     ExternalStatus = "draft"
	ExternalStatusPending   ExternalStatus = "pending"
	ExternalStatusInProcess ExternalStatus = "inprocess"
	ExternalStatusOnHold    ExternalStatus = "onhold"
	ExternalStatusPartial   ExternalStatus = "partial"
	ExternalStatusFulfilled ExternalStatus = "fulfilled"
	ExternalStatusReturned  ExternalStatus = "returned"
	ExternalStatusFailed    ExternalStatus = "failed"
	ExternalStatusCanceled  ExternalStatus = "canceled"
)

// AllowsResubmission reports whether a new provider order may replace the record.
func (s ExternalStatus) AllowsResubmission() bool {
	switch s {
	case ExternalStatusFailed, ExternalStatusCanceled, ExternalStatusReturned:
		return true
	default:
		return false
	}
}

// NormalizeExternalStatus lower-cases provider supplied status strings.
func NormalizeExternalStatus(value string) ExternalStatus {
	return ExternalStatus(strings.ToLower(strings.TrimSpace(value)))
}

// CostBreakdown keeps provider cost figures as decimal strings exactly as returned.
type CostBreakdown struct {
	Currency string
	Subtotal string
	Discount string
	Shipping string
	Tax      string
	Total    string
}

// SubmittedItem is a line item as sent to the provider.
type SubmittedItem struct {
	LineItemID  string
	ProductID   string
	VariantID   int64
	Quantity    int
	RetailPrice string
}

// Tracking holds shipment details reported by the provider.
type Tracking struct {
	Carrier string
	Service string
	Number  string
	URL     string
}

// ExternalOrderRecord joins a local order to the order created at the provider.
// ReferenceID always equals LocalOrderID and is the only trusted correlation key.
type ExternalOrderRecord struct {
	ReferenceID     string
	LocalOrderID    string
	ProviderOrderID int64
	Status          ExternalStatus
	Costs           CostBreakdown
	Items           []SubmittedItem
	Recipient       Address
	Tracking        Tracking
	ShippedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WebhookEvent is an immutable audit row for one inbound provider delivery.
type WebhookEvent struct {
	ID           string
	Provider     string
	Type         string
	Payload      []byte
	ReferenceID  *string
	Processed    bool
	ErrorMessage string
	ReceivedAt   time.Time
}
