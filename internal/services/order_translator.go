package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"github.com/podbridge/fulfillment/internal/printful"
)

const defaultMinorUnitScale = 2

// SkippedItem records a line item left out of the provider payload.
type SkippedItem struct {
	LineItemID string
	ProductID  string
	Reason     string
}

// Translation is the provider payload built from a local order.
type Translation struct {
	Request printful.OrderRequest
	Skipped []SkippedItem
}

// TranslateOrder builds the provider order request for order. Items whose product
// has no variant mapping are skipped; if none remain the order is rejected before
// any provider call is made.
func TranslateOrder(order LocalOrder, metadata map[string]ProviderMetadata, overrides FulfillmentOverrides) (Translation, error) {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return Translation{}, newFulfillmentError(KindInvalidInput, "order id is required", nil)
	}
	currencyCode := strings.ToUpper(strings.TrimSpace(order.Currency))

	var (
		items   []printful.Item
		skipped []SkippedItem
	)
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			skipped = append(skipped, SkippedItem{LineItemID: item.ID, ProductID: item.ProductID, Reason: "quantity must be positive"})
			continue
		}
		resolution, err := ResolveVariant(item, metadata[strings.TrimSpace(item.ProductID)])
		if err != nil {
			if !errors.Is(err, ErrUnmappedVariant) {
				return Translation{}, err
			}
			reason := err.Error()
			if fe, ok := AsFulfillmentError(err); ok {
				reason = fe.Message
			}
			skipped = append(skipped, SkippedItem{LineItemID: item.ID, ProductID: item.ProductID, Reason: reason})
			continue
		}
		items = append(items, printful.Item{
			ExternalID:  strings.TrimSpace(item.ID),
			VariantID:   resolution.VariantID,
			Quantity:    item.Quantity,
			RetailPrice: formatAmount(resolution.RetailPrice, currencyCode),
			Name:        strings.TrimSpace(item.ProductName),
		})
	}

	if len(items) == 0 {
		return Translation{Skipped: skipped}, newFulfillmentError(KindNoFulfillableItems,
			fmt.Sprintf("order %q has no provider-fulfilled items", orderID), nil)
	}

	var shipping, tax int64
	if overrides.Shipping != nil {
		shipping = *overrides.Shipping
	}
	if overrides.Tax != nil {
		tax = *overrides.Tax
	}

	return Translation{
		Request: printful.OrderRequest{
			ExternalID: orderID,
			Shipping:   strings.TrimSpace(overrides.ShippingMethod),
			Recipient:  buildRecipient(order, overrides.Recipient),
			Items:      items,
			RetailCosts: printful.RetailCosts{
				Currency: currencyCode,
				Subtotal: formatAmount(order.Total, currencyCode),
				Discount: formatAmount(order.Discount, currencyCode),
				Shipping: formatAmount(shipping, currencyCode),
				Tax:      formatAmount(tax, currencyCode),
			},
		},
		Skipped: skipped,
	}, nil
}

func buildRecipient(order LocalOrder, override *RecipientOverride) printful.Recipient {
	var o RecipientOverride
	if override != nil {
		o = *override
	}
	addr := order.ShippingAddress
	customer := order.Customer

	return printful.Recipient{
		Name:        firstNonEmpty(o.Name, addr.Name, customer.Name),
		Company:     firstNonEmpty(o.Company, addr.Company),
		Address1:    firstNonEmpty(o.Address1, addr.Line1),
		Address2:    firstNonEmpty(o.Address2, addr.Line2),
		City:        firstNonEmpty(o.City, addr.City),
		StateCode:   firstNonEmpty(o.StateCode, addr.State),
		CountryCode: normalizeCountry(firstNonEmpty(o.CountryCode, addr.Country)),
		Zip:         firstNonEmpty(o.Zip, addr.PostalCode),
		Phone:       firstNonEmpty(o.Phone, addr.Phone, customer.Phone),
		Email:       firstNonEmpty(o.Email, customer.Email),
	}
}

// normalizeCountry canonicalises ISO 3166 alpha-2, alpha-3, and M.49 codes to alpha-2.
func normalizeCountry(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if region, err := language.ParseRegion(value); err == nil {
		region = region.Canonicalize()
		if region.IsCountry() {
			return region.String()
		}
	}
	return strings.ToUpper(value)
}

// formatAmount renders minor units as a decimal string using the currency's standard scale.
func formatAmount(amount int64, currencyCode string) string {
	scale := defaultMinorUnitScale
	if unit, err := currency.ParseISO(currencyCode); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	if scale <= 0 {
		return strconv.FormatInt(amount, 10)
	}

	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	divisor := int64(1)
	for i := 0; i < scale; i++ {
		divisor *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, amount/divisor, scale, amount%divisor)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
