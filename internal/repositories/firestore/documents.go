package firestore

import (
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/podbridge/fulfillment/internal/domain"
)

const (
	ordersCollection         = "orders"
	productsCollection       = "products"
	externalOrdersCollection = "externalOrders"
	webhookEventsCollection  = "webhookEvents"
)

type orderDocument struct {
	BuyerID         string             `firestore:"buyerId"`
	SellerID        string             `firestore:"sellerId,omitempty"`
	Status          string             `firestore:"status"`
	Currency        string             `firestore:"currency"`
	Items           []lineItemDocument `firestore:"items"`
	Customer        customerDocument   `firestore:"customer"`
	ShippingAddress addressDocument    `firestore:"shippingAddress"`
	Total           int64              `firestore:"total"`
	Discount        int64              `firestore:"discount"`
	TrackingNumber  string             `firestore:"trackingNumber,omitempty"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
	CompletedAt     *time.Time         `firestore:"completedAt,omitempty"`
	CancelledAt     *time.Time         `firestore:"cancelledAt,omitempty"`
}

type lineItemDocument struct {
	ID          string `firestore:"id"`
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName,omitempty"`
	Quantity    int    `firestore:"qty"`
	UnitPrice   int64  `firestore:"unitPrice"`
	VariantID   int64  `firestore:"variantId,omitempty"`
}

type customerDocument struct {
	ID    string `firestore:"id,omitempty"`
	Name  string `firestore:"name,omitempty"`
	Email string `firestore:"email,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

type addressDocument struct {
	Name       string `firestore:"name,omitempty"`
	Company    string `firestore:"company,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

func newOrderDocument(order domain.LocalOrder) orderDocument {
	items := make([]lineItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = lineItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			VariantID:   item.VariantID,
		}
	}
	return orderDocument{
		BuyerID:  order.BuyerID,
		SellerID: order.SellerID,
		Status:   string(order.Status),
		Currency: order.Currency,
		Items:    items,
		Customer: customerDocument{
			ID:    order.Customer.ID,
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		ShippingAddress: newAddressDocument(order.ShippingAddress),
		Total:           order.Total,
		Discount:        order.Discount,
		TrackingNumber:  order.TrackingNumber,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		CompletedAt:     order.CompletedAt,
		CancelledAt:     order.CancelledAt,
	}
}

// orderStatusUpdates lists the order fields this service owns. The rest of the
// document belongs to order placement and is never rewritten here.
func orderStatusUpdates(order domain.LocalOrder) []firestore.Update {
	return []firestore.Update{
		{Path: "status", Value: string(order.Status)},
		{Path: "updatedAt", Value: order.UpdatedAt.UTC()},
		{Path: "trackingNumber", Value: deleteIfEmpty(order.TrackingNumber)},
		{Path: "completedAt", Value: deleteIfNil(order.CompletedAt)},
		{Path: "cancelledAt", Value: deleteIfNil(order.CancelledAt)},
	}
}

func deleteIfEmpty(value string) any {
	if value == "" {
		return firestore.Delete
	}
	return value
}

func deleteIfNil(value *time.Time) any {
	if value == nil {
		return firestore.Delete
	}
	return value.UTC()
}

func (d orderDocument) toDomain(id string) domain.LocalOrder {
	items := make([]domain.LineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.LineItem{
			ID:          item.ID,
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			VariantID:   item.VariantID,
		}
	}
	return domain.LocalOrder{
		ID:       id,
		BuyerID:  d.BuyerID,
		SellerID: d.SellerID,
		Status:   domain.NormalizeOrderStatus(d.Status),
		Currency: d.Currency,
		Items:    items,
		Customer: domain.Customer{
			ID:    d.Customer.ID,
			Name:  d.Customer.Name,
			Email: d.Customer.Email,
			Phone: d.Customer.Phone,
		},
		ShippingAddress: d.ShippingAddress.toDomain(),
		Total:           d.Total,
		Discount:        d.Discount,
		TrackingNumber:  d.TrackingNumber,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		CompletedAt:     d.CompletedAt,
		CancelledAt:     d.CancelledAt,
	}
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Name:       addr.Name,
		Company:    addr.Company,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Name:       d.Name,
		Company:    d.Company,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

// productDocument only maps the provider block; other product fields are owned elsewhere.
type productDocument struct {
	Fulfillment *fulfillmentDocument `firestore:"fulfillment"`
}

type fulfillmentDocument struct {
	Provider  string            `firestore:"provider"`
	Fulfilled bool              `firestore:"fulfilled"`
	Variants  []variantDocument `firestore:"variants"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	VariantID    int64  `firestore:"variantId"`
	Rank         int    `firestore:"rank"`
	CatalogPrice int64  `firestore:"catalogPrice,omitempty"`
	Label        string `firestore:"label,omitempty"`
}

func (d fulfillmentDocument) toDomain(productID string) domain.ProviderMetadata {
	variants := make([]domain.VariantOption, len(d.Variants))
	for i, v := range d.Variants {
		variants[i] = domain.VariantOption{
			VariantID:    v.VariantID,
			Rank:         v.Rank,
			CatalogPrice: v.CatalogPrice,
			Label:        v.Label,
		}
	}
	return domain.ProviderMetadata{
		ProductID: productID,
		Fulfilled: d.Fulfilled,
		Variants:  variants,
	}
}

type externalOrderDocument struct {
	LocalOrderID    string                  `firestore:"localOrderId"`
	ProviderOrderID int64                   `firestore:"providerOrderId"`
	Status          string                  `firestore:"status"`
	Costs           costsDocument           `firestore:"costs"`
	Items           []submittedItemDocument `firestore:"items"`
	Recipient       addressDocument         `firestore:"recipient"`
	Tracking        *trackingDocument       `firestore:"tracking,omitempty"`
	ShippedAt       *time.Time              `firestore:"shippedAt,omitempty"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
}

type costsDocument struct {
	Currency string `firestore:"currency"`
	Subtotal string `firestore:"subtotal"`
	Discount string `firestore:"discount"`
	Shipping string `firestore:"shipping"`
	Tax      string `firestore:"tax"`
	Total    string `firestore:"total"`
}

type submittedItemDocument struct {
	LineItemID  string `firestore:"lineItemId"`
	ProductID   string `firestore:"productId"`
	VariantID   int64  `firestore:"variantId"`
	Quantity    int    `firestore:"qty"`
	RetailPrice string `firestore:"retailPrice"`
}

type trackingDocument struct {
	Carrier string `firestore:"carrier,omitempty"`
	Service string `firestore:"service,omitempty"`
	Number  string `firestore:"number"`
	URL     string `firestore:"url,omitempty"`
}

func newExternalOrderDocument(record domain.ExternalOrderRecord) externalOrderDocument {
	items := make([]submittedItemDocument, len(record.Items))
	for i, item := range record.Items {
		items[i] = submittedItemDocument{
			LineItemID:  item.LineItemID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			RetailPrice: item.RetailPrice,
		}
	}
	doc := externalOrderDocument{
		LocalOrderID:    record.LocalOrderID,
		ProviderOrderID: record.ProviderOrderID,
		Status:          string(record.Status),
		Costs:           costsDocument(record.Costs),
		Items:           items,
		Recipient:       newAddressDocument(record.Recipient),
		ShippedAt:       record.ShippedAt,
		CreatedAt:       record.CreatedAt.UTC(),
		UpdatedAt:       record.UpdatedAt.UTC(),
	}
	if record.Tracking != (domain.Tracking{}) {
		tracking := trackingDocument(record.Tracking)
		doc.Tracking = &tracking
	}
	return doc
}

func (d externalOrderDocument) toDomain(referenceID string) domain.ExternalOrderRecord {
	items := make([]domain.SubmittedItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.SubmittedItem{
			LineItemID:  item.LineItemID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			RetailPrice: item.RetailPrice,
		}
	}
	record := domain.ExternalOrderRecord{
		ReferenceID:     referenceID,
		LocalOrderID:    d.LocalOrderID,
		ProviderOrderID: d.ProviderOrderID,
		Status:          domain.NormalizeExternalStatus(d.Status),
		Costs:           domain.CostBreakdown(d.Costs),
		Items:           items,
		Recipient:       d.Recipient.toDomain(),
		ShippedAt:       d.ShippedAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.Tracking != nil {
		record.Tracking = domain.Tracking(*d.Tracking)
	}
	return record
}

type webhookEventDocument struct {
	Provider     string    `firestore:"provider"`
	Type         string    `firestore:"type"`
	Payload      []byte    `firestore:"payload"`
	ReferenceID  *string   `firestore:"referenceId"`
	Processed    bool      `firestore:"processed"`
	ErrorMessage string    `firestore:"errorMessage,omitempty"`
	ReceivedAt   time.Time `firestore:"receivedAt"`
}

func newWebhookEventDocument(event domain.WebhookEvent) webhookEventDocument {
	return webhookEventDocument{
		Provider:     event.Provider,
		Type:         event.Type,
		Payload:      event.Payload,
		ReferenceID:  event.ReferenceID,
		Processed:    event.Processed,
		ErrorMessage: event.ErrorMessage,
		ReceivedAt:   event.ReceivedAt.UTC(),
	}
}

func (d webhookEventDocument) toDomain(id string) domain.WebhookEvent {
	return domain.WebhookEvent{
		ID:           id,
		Provider:     d.Provider,
		Type:         d.Type,
		Payload:      d.Payload,
		ReferenceID:  d.ReferenceID,
		Processed:    d.Processed,
		ErrorMessage: d.ErrorMessage,
		ReceivedAt:   d.ReceivedAt,
	}
}
