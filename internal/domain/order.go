package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates the lifecycle states of a locally placed order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has not been handed to the provider yet.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates a confirmed provider order exists.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusCompleted indicates the provider shipped the order.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was returned, failed, or cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusCompleted:  2,
	OrderStatusCancelled:  2,
}

// IsTerminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// IsValid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) IsValid() bool {
	_, ok := orderStatusRank[s]
	return ok
}

// CanTransitionTo reports whether moving to next keeps the lifecycle monotonic.
// Terminal states never change; cancelled is reachable from any non-terminal state.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	current, ok := orderStatusRank[s]
	if !ok {
		// Unknown legacy values are treated as pending.
		current = 0
	}
	return orderStatusRank[next] > current
}

// NormalizeOrderStatus lower-cases and trims a stored status value.
func NormalizeOrderStatus(value string) OrderStatus {
	return OrderStatus(strings.ToLower(strings.TrimSpace(value)))
}

// Address captures a postal destination.
type Address struct {
	Name       string
	Company    string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Customer is the buyer profile stored alongside the order.
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// LineItem is a purchased product with quantity and unit price in minor units.
type LineItem struct {
	ID          string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
	// VariantID is set once the item has been resolved to a provider variant.
	VariantID int64
}

// LocalOrder is the marketplace purchase record the bridge fulfils.
type LocalOrder struct {
	ID              string
	BuyerID         string
	SellerID        string
	Status          OrderStatus
	Currency        string
	Items           []LineItem
	Customer        Customer
	ShippingAddress Address
	Total           int64
	Discount        int64
	TrackingNumber  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
}
