package order

import (
	"github.com/shopspring/decimal"
)

// Warning is a non-fatal condition surfaced alongside a successful pass.
type Warning struct {
	Code    string `json:"code"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// Totals are the derived order amounts.
type Totals struct {
	ItemSubtotal     decimal.Decimal `json:"item_subtotal"`
	DiscountTotal    decimal.Decimal `json:"discount_total"`
	ShippingTotal    decimal.Decimal `json:"shipping_total"`
	TaxTotal         decimal.Decimal `json:"tax_total"`
	TaxIncludedTotal decimal.Decimal `json:"tax_included_total"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
	Clamped          bool            `json:"clamped"`
}

// Clone returns a deep copy of the order.
func (o Order) Clone() Order {
	out := o
	out.CustomerGroups = append([]string(nil), o.CustomerGroups...)
	if o.BillingAddress != nil {
		addr := *o.BillingAddress
		out.BillingAddress = &addr
	}
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		out.ShippingAddress = &addr
	}
	out.Adjustments = cloneAdjustments(o.Adjustments)
	if o.LineItems != nil {
		out.LineItems = make([]LineItem, len(o.LineItems))
		for i, li := range o.LineItems {
			out.LineItems[i] = li.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the line item.
func (li LineItem) Clone() LineItem {
	out := li
	out.Snapshot.CategoryIDs = append([]string(nil), li.Snapshot.CategoryIDs...)
	if li.Options != nil {
		out.Options = make(map[string]string, len(li.Options))
		for k, v := range li.Options {
			out.Options[k] = v
		}
	}
	out.Adjustments = cloneAdjustments(li.Adjustments)
	return out
}

func cloneAdjustments(in []Adjustment) []Adjustment {
	if in == nil {
		return nil
	}
	out := make([]Adjustment, len(in))
	for i, adj := range in {
		out[i] = adj
		out[i].Allocations = append([]Allocation(nil), adj.Allocations...)
	}
	return out
}
