package printful

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Recipient is the shipping destination block of an order request.
type Recipient struct {
	Name        string `json:"name"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Item is a single variant line in an order request or response.
type Item struct {
	ExternalID  string `json:"external_id,omitempty"`
	VariantID   int64  `json:"variant_id"`
	Quantity    int    `json:"quantity"`
	RetailPrice string `json:"retail_price"`
	Name        string `json:"name,omitempty"`
}

// RetailCosts is the cost block the seller charged the buyer.
type RetailCosts struct {
	Currency string `json:"currency,omitempty"`
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
}

// OrderRequest is the payload for both estimate-costs and order creation.
type OrderRequest struct {
	ExternalID  string      `json:"external_id"`
	Shipping    string      `json:"shipping,omitempty"`
	Recipient   Recipient   `json:"recipient"`
	Items       []Item      `json:"items"`
	RetailCosts RetailCosts `json:"retail_costs"`
}

// Costs are the provider's charges as decimal strings.
type Costs struct {
	Currency string `json:"currency"`
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	VAT      string `json:"vat,omitempty"`
	Total    string `json:"total"`
}

// CostEstimate is the result of POST /orders/estimate-costs.
type CostEstimate struct {
	Costs       Costs `json:"costs"`
	RetailCosts Costs `json:"retail_costs"`
}

// Shipment describes a dispatched package.
type Shipment struct {
	ID             FlexibleID     `json:"id"`
	Carrier        string         `json:"carrier"`
	Service        string         `json:"service"`
	TrackingNumber FlexibleString `json:"tracking_number"`
	TrackingURL    string         `json:"tracking_url"`
	ShipDate       string         `json:"ship_date"`
	ShippedAt      int64          `json:"shipped_at"`
}

// Order is the provider's representation of a created order.
type Order struct {
	ID          FlexibleID     `json:"id"`
	ExternalID  FlexibleString `json:"external_id"`
	Status      string         `json:"status"`
	Shipping    string         `json:"shipping"`
	Created     int64          `json:"created"`
	Updated     int64          `json:"updated"`
	Recipient   Recipient      `json:"recipient"`
	Items       []Item         `json:"items"`
	Costs       Costs          `json:"costs"`
	RetailCosts Costs          `json:"retail_costs"`
	Shipments   []Shipment     `json:"shipments"`
}

// Store is the store metadata returned by the connection test.
type Store struct {
	ID      FlexibleID `json:"id"`
	Name    string     `json:"name"`
	Type    string     `json:"type"`
	Website string     `json:"website,omitempty"`
	Created int64      `json:"created,omitempty"`
}

// FlexibleID decodes identifiers sent either as JSON numbers or numeric strings.
type FlexibleID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*id = 0
			return nil
		}
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("printful: invalid id %s: %w", raw, err)
	}
	*id = FlexibleID(value)
	return nil
}

// FlexibleString decodes values sent either as JSON strings or numbers.
type FlexibleString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexibleString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = FlexibleString(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("printful: expected string or number, got %s", string(data))
	}
	*s = FlexibleString(number.String())
	return nil
}

// String returns the trimmed value.
func (s FlexibleString) String() string {
	return strings.TrimSpace(string(s))
}
