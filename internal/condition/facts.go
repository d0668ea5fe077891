package condition

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/order"
)

// FactsFor derives the condition facts from an order. totalPrice is the order
// total as seen by the calling stage.
func FactsFor(o *order.Order, totalPrice decimal.Decimal) Facts {
	facts := Facts{
		ItemSubtotal: decimal.Zero,
		TotalPrice:   totalPrice,
		TotalWeight:  decimal.Zero,
	}
	for _, li := range o.LineItems {
		facts.ItemSubtotal = facts.ItemSubtotal.Add(li.Subtotal())
		facts.TotalQuantity += int64(li.Qty)
		facts.TotalWeight = facts.TotalWeight.Add(li.Snapshot.Weight.Mul(decimal.NewFromInt(int64(li.Qty))))
	}
	return facts
}
