// Package shipping computes the shipping adjustment of an order.
package shipping

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/condition"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/order"
)

// Warning codes emitted by the calculator.
const (
	WarnNoRule         = "no_shipping_rule"
	WarnMethodNotFound = "shipping_method_not_found"
)

// Result carries the optional shipping adjustment of a pass.
type Result struct {
	Adjustment *order.Adjustment
	RuleID     string
	Warnings   []order.Warning
}

// Calculator selects the first matching rule of the order's shipping method.
type Calculator struct {
	Rules Lookup
}

// Calculate prices shipping for the order. net holds each line's
// post-discount amount keyed by line id; missing lines use their subtotal.
func (c *Calculator) Calculate(ctx context.Context, o *order.Order, net map[string]decimal.Decimal) (Result, error) {
	if c == nil || c.Rules == nil {
		return Result{}, errors.New("shipping calculator not configured")
	}
	lines := shippableLines(o)
	if len(lines) == 0 || o.ShippingMethodID == "" {
		return Result{}, nil
	}
	rules, err := c.Rules.GetShippingRules(ctx, o.ShippingMethodID)
	if err != nil {
		if errors.Is(err, ErrMethodNotFound) {
			return Result{Warnings: []order.Warning{{
				Code:    WarnMethodNotFound,
				Message: fmt.Sprintf("shipping method %s not found", o.ShippingMethodID),
				Ref:     o.ShippingMethodID,
			}}}, nil
		}
		return Result{}, fmt.Errorf("shipping rules for %s: %w", o.ShippingMethodID, err)
	}
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	for _, rule := range ordered {
		if err := rule.Validate(); err != nil {
			return Result{}, err
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	totalPrice := decimal.Zero
	for _, li := range o.LineItems {
		totalPrice = totalPrice.Add(netOf(net, li))
	}
	facts := condition.FactsFor(o, totalPrice)

	for _, rule := range ordered {
		ok, err := rule.Matches(lines, facts)
		if err != nil {
			return Result{}, fmt.Errorf("%w %s: %w", ErrMalformedRule, rule.ID, err)
		}
		if !ok {
			continue
		}
		adj := price(o, rule, lines, net)
		return Result{Adjustment: &adj, RuleID: rule.ID}, nil
	}
	return Result{Warnings: []order.Warning{{
		Code:    WarnNoRule,
		Message: fmt.Sprintf("no shipping rule of method %s matches the order", o.ShippingMethodID),
		Ref:     o.ShippingMethodID,
	}}}, nil
}

func price(o *order.Order, rule Rule, lines []order.LineItem, net map[string]decimal.Decimal) order.Adjustment {
	places := money.Precision(o.Currency)
	itemSum := decimal.Zero
	var allocations []order.Allocation
	for _, li := range lines {
		cost := ItemCost(rule, li, netOf(net, li)).Round(places)
		if !cost.IsPositive() {
			continue
		}
		itemSum = itemSum.Add(cost)
		allocations = append(allocations, order.Allocation{LineItemID: li.ID, Amount: cost})
	}
	total := rule.Clamp(itemSum.Add(rule.BaseRate)).Round(places)
	base := total.Sub(itemSum)

	name := rule.Name
	if name == "" {
		name = "Shipping " + rule.ID
	}
	return order.Adjustment{
		Type:        order.AdjustmentShipping,
		Amount:      total,
		Description: fmt.Sprintf("%s (base %s)", name, base.StringFixed(places)),
		SourceRef:   rule.ID,
		Allocations: allocations,
	}
}

// ItemCost is the unrounded shipping cost of a line under rule. Free-shipping
// purchasables cost nothing.
func ItemCost(rule Rule, li order.LineItem, net decimal.Decimal) decimal.Decimal {
	if li.Snapshot.FreeShipping {
		return decimal.Zero
	}
	qty := decimal.NewFromInt(int64(li.Qty))
	return net.Mul(rule.PercentageRate).
		Add(rule.PerItemRate.Mul(qty)).
		Add(li.Snapshot.Weight.Mul(qty).Mul(rule.WeightRate))
}

func shippableLines(o *order.Order) []order.LineItem {
	var lines []order.LineItem
	for _, li := range o.LineItems {
		if li.Snapshot.Shippable && li.Qty > 0 {
			lines = append(lines, li)
		}
	}
	return lines
}

func netOf(net map[string]decimal.Decimal, li order.LineItem) decimal.Decimal {
	if v, ok := net[li.ID]; ok {
		return v
	}
	return li.Subtotal()
}
