package pricing_test

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/order"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/shipping"
	"github.com/noah-isme/toko-pricing/internal/tax"
)

var asOf = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type discountList []discount.Discount

func (l discountList) GetEnabledDiscounts(context.Context, string) ([]discount.Discount, error) {
	return l, nil
}

type methodRules map[string][]shipping.Rule

func (m methodRules) GetShippingRules(_ context.Context, id string) ([]shipping.Rule, error) {
	rules, ok := m[id]
	if !ok {
		return nil, shipping.ErrMethodNotFound
	}
	return rules, nil
}

type rateList []tax.Rate

func (l rateList) GetTaxRates(_ context.Context, categoryID string) ([]tax.Rate, error) {
	var out []tax.Rate
	for _, r := range l {
		if r.CategoryID == categoryID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (rateList) MatchZone(context.Context, order.Address) (string, error) { return "", nil }

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newEngine(discounts []discount.Discount, rules []shipping.Rule, rates []tax.Rate) *pricing.Engine {
	return &pricing.Engine{
		Discounts: &discount.Engine{Discounts: discountList(discounts)},
		Shipping:  &shipping.Calculator{Rules: methodRules{"std": rules}},
		Tax:       &tax.Calculator{Rates: rateList(rates)},
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return asOf },
	}
}

func line(id, price string, qty int) order.LineItem {
	return order.LineItem{
		ID: id,
		Snapshot: order.PurchasableSnapshot{
			ID:            "p-" + id,
			SKU:           "SKU-" + id,
			BasePrice:     d(price),
			TaxCategoryID: "general",
			Available:     true,
			Promotable:    true,
			Shippable:     true,
		},
		Qty:       qty,
		UnitPrice: d(price),
	}
}

func newOrder(lines ...order.LineItem) order.Order {
	return order.Order{
		ID:               "order-1",
		StoreID:          "store-1",
		Currency:         "usd",
		ShippingMethodID: "std",
		LineItems:        lines,
		AsOf:             asOf,
	}
}

func percentOff(id, rate string) discount.Discount {
	return discount.Discount{ID: id, Name: id, Enabled: true, Kind: discount.Percent, Rate: d(rate)}
}

func flatOff(id, amount string) discount.Discount {
	return discount.Discount{ID: id, Name: id, Enabled: true, Kind: discount.Flat, Amount: d(amount)}
}

func adjustmentsOf(p pricing.PricedOrder, typ order.AdjustmentType) []order.Adjustment {
	var out []order.Adjustment
	for _, adj := range p.Adjustments() {
		if adj.Type == typ {
			out = append(out, adj)
		}
	}
	return out
}
