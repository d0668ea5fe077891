// Package order holds the value objects exchanged with the pricing engine.
package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdjustmentType classifies an adjustment by the adjuster that produced it.
type AdjustmentType string

const (
	AdjustmentDiscount AdjustmentType = "discount"
	AdjustmentShipping AdjustmentType = "shipping"
	AdjustmentTax      AdjustmentType = "tax"
)

// PurchasableSnapshot is the frozen copy of catalog data taken when a line item is created.
type PurchasableSnapshot struct {
	ID                 string          `json:"id"`
	SKU                string          `json:"sku"`
	Description        string          `json:"description,omitempty"`
	BasePrice          decimal.Decimal `json:"base_price"`
	TaxCategoryID      string          `json:"tax_category_id,omitempty"`
	ShippingCategoryID string          `json:"shipping_category_id,omitempty"`
	CategoryIDs        []string        `json:"category_ids,omitempty"`
	Weight             decimal.Decimal `json:"weight"`
	Available          bool            `json:"available"`
	Promotable         bool            `json:"promotable"`
	FreeShipping       bool            `json:"free_shipping"`
	Shippable          bool            `json:"shippable"`
}

// InCategory reports whether the snapshot belongs to any of the categories.
func (s PurchasableSnapshot) InCategory(ids []string) bool {
	for _, want := range ids {
		for _, have := range s.CategoryIDs {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Allocation attributes part of an order-level amount to a line item.
type Allocation struct {
	LineItemID string          `json:"line_item_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// Adjustment is a typed monetary delta produced by one adjuster during one pass.
type Adjustment struct {
	Type        AdjustmentType  `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Included    bool            `json:"included"`
	LineItemID  string          `json:"line_item_id,omitempty"`
	Description string          `json:"description"`
	SourceRef   string          `json:"source_ref"`
	Allocations []Allocation    `json:"allocations,omitempty"`
}

// OrderLevel reports whether the adjustment targets the whole order.
func (a Adjustment) OrderLevel() bool {
	return a.LineItemID == ""
}

// LineItem is one purchasable and quantity entry on an order.
type LineItem struct {
	ID               string              `json:"id"`
	Snapshot         PurchasableSnapshot `json:"snapshot"`
	Options          map[string]string   `json:"options,omitempty"`
	OptionsSignature string              `json:"options_signature"`
	Qty              int                 `json:"qty"`
	UnitPrice        decimal.Decimal     `json:"unit_price"`
	PriceRuleID      string              `json:"price_rule_id,omitempty"`
	PriceResolvedAt  time.Time           `json:"price_resolved_at"`
	Adjustments      []Adjustment        `json:"adjustments,omitempty"`
}

// Subtotal is unit price times quantity, before adjustments.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Qty)))
}

// Address is the geographic part of a billing or shipping address.
type Address struct {
	CountryCode string `json:"country_code"`
	StateCode   string `json:"state_code,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
}

// IsZero reports whether no country was provided.
func (a Address) IsZero() bool {
	return a.CountryCode == ""
}

// Order is the cart snapshot handed to the engine.
type Order struct {
	ID               string       `json:"id"`
	StoreID          string       `json:"store_id"`
	Currency         string       `json:"currency"`
	CustomerID       string       `json:"customer_id,omitempty"`
	CustomerGroups   []string     `json:"customer_groups,omitempty"`
	CouponCode       string       `json:"coupon_code,omitempty"`
	ShippingMethodID string       `json:"shipping_method_id,omitempty"`
	BillingAddress   *Address     `json:"billing_address,omitempty"`
	ShippingAddress  *Address     `json:"shipping_address,omitempty"`
	LineItems        []LineItem   `json:"line_items"`
	Adjustments      []Adjustment `json:"adjustments,omitempty"`
	Completed        bool         `json:"completed"`
	AsOf             time.Time    `json:"as_of"`
}

// TaxableAddress returns the shipping address, falling back to billing.
func (o *Order) TaxableAddress() *Address {
	if o.ShippingAddress != nil && !o.ShippingAddress.IsZero() {
		return o.ShippingAddress
	}
	if o.BillingAddress != nil && !o.BillingAddress.IsZero() {
		return o.BillingAddress
	}
	return nil
}

// ItemSubtotal sums the line item subtotals.
func (o *Order) ItemSubtotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		total = total.Add(li.Subtotal())
	}
	return total
}

// LineItem returns the line with the given id.
func (o *Order) LineItem(id string) (*LineItem, bool) {
	for i := range o.LineItems {
		if o.LineItems[i].ID == id {
			return &o.LineItems[i], true
		}
	}
	return nil, false
}

// AllAdjustments returns order-level adjustments followed by each line's
// adjustments in line order.
func (o *Order) AllAdjustments() []Adjustment {
	out := make([]Adjustment, 0, len(o.Adjustments))
	out = append(out, o.Adjustments...)
	for _, li := range o.LineItems {
		out = append(out, li.Adjustments...)
	}
	return out
}

// ClearAdjustments drops every adjustment while leaving frozen prices intact.
func (o *Order) ClearAdjustments() {
	o.Adjustments = nil
	for i := range o.LineItems {
		o.LineItems[i].Adjustments = nil
	}
}

// Attach places each adjustment on the order or on its target line item.
// Adjustments that target an unknown line item are reported back.
func (o *Order) Attach(adjustments []Adjustment) []Adjustment {
	var orphans []Adjustment
	for _, adj := range adjustments {
		if adj.OrderLevel() {
			o.Adjustments = append(o.Adjustments, adj)
			continue
		}
		li, ok := o.LineItem(adj.LineItemID)
		if !ok {
			orphans = append(orphans, adj)
			continue
		}
		li.Adjustments = append(li.Adjustments, adj)
	}
	return orphans
}
