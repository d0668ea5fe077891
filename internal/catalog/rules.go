package catalog

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RuleKind is the way a pricing rule derives a price from the base price.
type RuleKind string

const (
	// FixedPrice replaces the base price.
	FixedPrice RuleKind = "fixed_price"
	// PercentOff reduces the base price by a fraction (0.15 = 15%).
	PercentOff RuleKind = "percent_off"
	// AmountOff subtracts a flat amount from the base price.
	AmountOff RuleKind = "amount_off"
)

// PricingRule is a scoped catalog price override.
type PricingRule struct {
	ID             string          `json:"id"`
	Kind           RuleKind        `json:"kind"`
	Value          decimal.Decimal `json:"value"`
	Currency       string          `json:"currency,omitempty"`
	PurchasableIDs []string        `json:"purchasable_ids,omitempty"`
	CategoryIDs    []string        `json:"category_ids,omitempty"`
	CustomerGroups []string        `json:"customer_groups,omitempty"`
	StartsAt       *time.Time      `json:"starts_at,omitempty"`
	EndsAt         *time.Time      `json:"ends_at,omitempty"`
	MinQty         int             `json:"min_qty,omitempty"`
	Exclusive      bool            `json:"exclusive,omitempty"`
}

// Validate rejects rules the resolver cannot evaluate.
func (r PricingRule) Validate() error {
	switch r.Kind {
	case FixedPrice, PercentOff, AmountOff:
	default:
		return fmt.Errorf("pricing rule %s: %w: %q", r.ID, ErrUnknownRuleKind, r.Kind)
	}
	if r.Value.IsNegative() {
		return fmt.Errorf("pricing rule %s: negative value", r.ID)
	}
	return nil
}

// ActiveAt reports whether asOf falls inside the rule's window.
func (r PricingRule) ActiveAt(asOf time.Time) bool {
	if r.StartsAt != nil && asOf.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && asOf.After(*r.EndsAt) {
		return false
	}
	return true
}

// Matches reports whether the rule's scope covers the purchasable and request.
func (r PricingRule) Matches(p Purchasable, req Request) bool {
	if r.Currency != "" && r.Currency != req.Currency {
		return false
	}
	if !r.ActiveAt(req.AsOf) {
		return false
	}
	if r.MinQty > 0 && req.Qty < r.MinQty {
		return false
	}
	if len(r.CustomerGroups) > 0 && !intersects(r.CustomerGroups, req.Groups) {
		return false
	}
	scoped := len(r.PurchasableIDs) > 0 || len(r.CategoryIDs) > 0
	if !scoped {
		return true
	}
	return contains(r.PurchasableIDs, p.ID) || intersects(r.CategoryIDs, p.CategoryIDs)
}

// Apply derives the price this rule produces from base. The result never drops below zero.
func (r PricingRule) Apply(base decimal.Decimal) (decimal.Decimal, error) {
	var price decimal.Decimal
	switch r.Kind {
	case FixedPrice:
		price = r.Value
	case PercentOff:
		price = base.Sub(base.Mul(r.Value))
	case AmountOff:
		price = base.Sub(r.Value)
	default:
		return decimal.Zero, fmt.Errorf("pricing rule %s: %w: %q", r.ID, ErrUnknownRuleKind, r.Kind)
	}
	if price.IsNegative() {
		return decimal.Zero, nil
	}
	return price, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}
