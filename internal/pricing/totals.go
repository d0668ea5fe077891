package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/order"
)

// Aggregate derives the order totals from line subtotals and attached
// adjustments. Included adjustments are reported but never change the grand
// total. A negative grand total is floored at zero and flagged.
func Aggregate(o order.Order) order.Totals {
	totals := order.Totals{
		ItemSubtotal:     money.Round(o.ItemSubtotal(), o.Currency),
		DiscountTotal:    decimal.Zero,
		ShippingTotal:    decimal.Zero,
		TaxTotal:         decimal.Zero,
		TaxIncludedTotal: decimal.Zero,
	}
	for _, adj := range o.AllAdjustments() {
		if adj.Included {
			if adj.Type == order.AdjustmentTax {
				totals.TaxIncludedTotal = totals.TaxIncludedTotal.Add(adj.Amount)
			}
			continue
		}
		switch adj.Type {
		case order.AdjustmentDiscount:
			totals.DiscountTotal = totals.DiscountTotal.Add(adj.Amount)
		case order.AdjustmentShipping:
			totals.ShippingTotal = totals.ShippingTotal.Add(adj.Amount)
		case order.AdjustmentTax:
			totals.TaxTotal = totals.TaxTotal.Add(adj.Amount)
		}
	}

	grand := money.Sum(totals.ItemSubtotal, totals.DiscountTotal, totals.ShippingTotal, totals.TaxTotal)
	if grand.IsNegative() {
		grand = decimal.Zero
		totals.Clamped = true
	}
	totals.GrandTotal = money.Round(grand, o.Currency)
	return totals
}
