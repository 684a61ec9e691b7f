package postgres

import (
	"encoding/json"
	"fmt"

	domain "github.com/podbridge/fulfillment/internal/domain"
)

// JSONB column shapes. Field names match the Firestore documents.

type addressJSON struct {
	Name       string `json:"name,omitempty"`
	Company    string `json:"company,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type customerJSON struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type variantJSON struct {
	VariantID    int64  `json:"variantId"`
	Rank         int    `json:"rank"`
	CatalogPrice int64  `json:"catalogPrice,omitempty"`
	Label        string `json:"label,omitempty"`
}

type costsJSON struct {
	Currency string `json:"currency,omitempty"`
	Subtotal string `json:"subtotal,omitempty"`
	Discount string `json:"discount,omitempty"`
	Shipping string `json:"shipping,omitempty"`
	Tax      string `json:"tax,omitempty"`
	Total    string `json:"total,omitempty"`
}

type submittedItemJSON struct {
	LineItemID  string `json:"lineItemId"`
	ProductID   string `json:"productId"`
	VariantID   int64  `json:"variantId"`
	Quantity    int    `json:"quantity"`
	RetailPrice string `json:"retailPrice,omitempty"`
}

type trackingJSON struct {
	Carrier string `json:"carrier,omitempty"`
	Service string `json:"service,omitempty"`
	Number  string `json:"number,omitempty"`
	URL     string `json:"url,omitempty"`
}

func encodeJSON(field string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode %s: %w", field, err)
	}
	return data, nil
}

func decodeJSON(field string, data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("postgres: decode %s: %w", field, err)
	}
	return nil
}

func encodeVariants(variants []domain.VariantOption) ([]byte, error) {
	rows := make([]variantJSON, 0, len(variants))
	for _, v := range variants {
		rows = append(rows, variantJSON(v))
	}
	return encodeJSON("variants", rows)
}

func decodeVariants(data []byte) ([]domain.VariantOption, error) {
	var rows []variantJSON
	if err := decodeJSON("variants", data, &rows); err != nil {
		return nil, err
	}
	variants := make([]domain.VariantOption, 0, len(rows))
	for _, row := range rows {
		variants = append(variants, domain.VariantOption(row))
	}
	return variants, nil
}

func encodeItems(items []domain.SubmittedItem) ([]byte, error) {
	rows := make([]submittedItemJSON, 0, len(items))
	for _, item := range items {
		rows = append(rows, submittedItemJSON(item))
	}
	return encodeJSON("items", rows)
}

func decodeItems(data []byte) ([]domain.SubmittedItem, error) {
	var rows []submittedItemJSON
	if err := decodeJSON("items", data, &rows); err != nil {
		return nil, err
	}
	items := make([]domain.SubmittedItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.SubmittedItem(row))
	}
	return items, nil
}
