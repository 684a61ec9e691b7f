package services

import (
	"fmt"
	"strings"
)

// VariantResolution is the provider variant chosen for a line item.
type VariantResolution struct {
	VariantID    int64
	RetailPrice  int64
	CatalogPrice int64
	Label        string
}

// ResolveVariant maps a line item to a provider variant using the product's ranked
// variant list. The lowest rank wins; equal ranks go to the earliest entry.
// The submitted retail price is always the line item's unit price.
func ResolveVariant(item LineItem, metadata ProviderMetadata) (VariantResolution, error) {
	productID := strings.TrimSpace(item.ProductID)
	if !metadata.Fulfilled {
		return VariantResolution{}, newFulfillmentError(KindUnmappedVariant,
			fmt.Sprintf("product %q is not provider-fulfilled", productID), nil)
	}

	best := -1
	for i, option := range metadata.Variants {
		if option.VariantID <= 0 {
			continue
		}
		if best < 0 || option.Rank < metadata.Variants[best].Rank {
			best = i
		}
	}
	if best < 0 {
		return VariantResolution{}, newFulfillmentError(KindUnmappedVariant,
			fmt.Sprintf("product %q has no provider variants configured", productID), nil)
	}

	chosen := metadata.Variants[best]
	return VariantResolution{
		VariantID:    chosen.VariantID,
		RetailPrice:  item.UnitPrice,
		CatalogPrice: chosen.CatalogPrice,
		Label:        strings.TrimSpace(chosen.Label),
	}, nil
}
