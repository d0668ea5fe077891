package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/order"
)

var (
	// ErrNotFound is returned by lookups when the purchasable does not exist in the store.
	ErrNotFound = errors.New("purchasable not found")
	// ErrPriceNotFound indicates no price is defined for the requested currency.
	ErrPriceNotFound = errors.New("price not found")
	// ErrUnknownRuleKind is returned for pricing rules with an unsupported kind.
	ErrUnknownRuleKind = errors.New("unknown pricing rule kind")
)

// PriceNotFoundError identifies the purchasable and currency that could not be priced.
type PriceNotFoundError struct {
	PurchasableID string
	Currency      string
}

func (e *PriceNotFoundError) Error() string {
	return fmt.Sprintf("price not found for purchasable %s in %s", e.PurchasableID, e.Currency)
}

// Is makes errors.Is(err, ErrPriceNotFound) hold.
func (e *PriceNotFoundError) Is(target error) bool {
	return target == ErrPriceNotFound
}

// Purchasable is a catalog entry as supplied by the catalog collaborator.
type Purchasable struct {
	ID                 string                     `json:"id"`
	SKU                string                     `json:"sku"`
	Description        string                     `json:"description,omitempty"`
	Prices             map[string]decimal.Decimal `json:"prices"`
	TaxCategoryID      string                     `json:"tax_category_id,omitempty"`
	ShippingCategoryID string                     `json:"shipping_category_id,omitempty"`
	CategoryIDs        []string                   `json:"category_ids,omitempty"`
	Weight             decimal.Decimal            `json:"weight"`
	Available          bool                       `json:"available"`
	Promotable         bool                       `json:"promotable"`
	FreeShipping       bool                       `json:"free_shipping"`
	Shippable          bool                       `json:"shippable"`
}

// Snapshot freezes the pricing-relevant attributes for a line item.
func (p Purchasable) Snapshot(currency string) order.PurchasableSnapshot {
	return order.PurchasableSnapshot{
		ID:                 p.ID,
		SKU:                p.SKU,
		Description:        p.Description,
		BasePrice:          p.Prices[currency],
		TaxCategoryID:      p.TaxCategoryID,
		ShippingCategoryID: p.ShippingCategoryID,
		CategoryIDs:        append([]string(nil), p.CategoryIDs...),
		Weight:             p.Weight,
		Available:          p.Available,
		Promotable:         p.Promotable,
		FreeShipping:       p.FreeShipping,
		Shippable:          p.Shippable,
	}
}

// Lookup reads purchasables for a store.
type Lookup interface {
	GetPurchasable(ctx context.Context, id, storeID string) (Purchasable, error)
}

// RuleLookup returns the pricing rules that may apply to a purchasable.
type RuleLookup interface {
	GetApplicablePricingRules(ctx context.Context, purchasableID string, groups []string, currency string, asOf time.Time) ([]PricingRule, error)
}
