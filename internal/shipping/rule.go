package shipping

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/condition"
	"github.com/noah-isme/toko-pricing/internal/order"
)

var (
	// ErrMethodNotFound is returned by lookups for unknown shipping methods.
	ErrMethodNotFound = errors.New("shipping method not found")
	// ErrMalformedRule is returned when a shipping rule cannot be evaluated.
	ErrMalformedRule = errors.New("malformed shipping rule")
)

// Rule prices shipping for orders matching its conditions.
type Rule struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Priority           int             `json:"priority"`
	Conditions         condition.Set   `json:"conditions,omitempty"`
	PerItemRate        decimal.Decimal `json:"per_item_rate"`
	PercentageRate     decimal.Decimal `json:"percentage_rate"`
	WeightRate         decimal.Decimal `json:"weight_rate"`
	BaseRate           decimal.Decimal `json:"base_rate"`
	MinRate            decimal.Decimal `json:"min_rate"`
	MaxRate            decimal.Decimal `json:"max_rate"`
	ExcludedCategories []string        `json:"excluded_categories,omitempty"`
	RequiredCategories []string        `json:"required_categories,omitempty"`
}

// Validate reports rules the calculator cannot evaluate.
func (r Rule) Validate() error {
	if err := r.Conditions.Validate(); err != nil {
		return fmt.Errorf("%w %s: %w", ErrMalformedRule, r.ID, err)
	}
	for name, v := range map[string]decimal.Decimal{
		"per_item_rate":   r.PerItemRate,
		"percentage_rate": r.PercentageRate,
		"weight_rate":     r.WeightRate,
		"base_rate":       r.BaseRate,
		"min_rate":        r.MinRate,
		"max_rate":        r.MaxRate,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w %s: negative %s", ErrMalformedRule, r.ID, name)
		}
	}
	if r.MaxRate.IsPositive() && r.MinRate.GreaterThan(r.MaxRate) {
		return fmt.Errorf("%w %s: min_rate above max_rate", ErrMalformedRule, r.ID)
	}
	return nil
}

// Matches reports whether the rule applies to the order's shippable lines.
func (r Rule) Matches(lines []order.LineItem, facts condition.Facts) (bool, error) {
	for _, li := range lines {
		if contains(r.ExcludedCategories, li.Snapshot.ShippingCategoryID) {
			return false, nil
		}
	}
	if len(r.RequiredCategories) > 0 {
		found := false
		for _, li := range lines {
			if contains(r.RequiredCategories, li.Snapshot.ShippingCategoryID) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return condition.Match(r.Conditions, facts)
}

// Clamp bounds total into [MinRate, MaxRate]. A zero MaxRate means no cap.
func (r Rule) Clamp(total decimal.Decimal) decimal.Decimal {
	if total.LessThan(r.MinRate) {
		total = r.MinRate
	}
	if r.MaxRate.IsPositive() && total.GreaterThan(r.MaxRate) {
		total = r.MaxRate
	}
	return total
}

// Lookup returns a shipping method's rules in priority order.
type Lookup interface {
	GetShippingRules(ctx context.Context, methodID string) ([]Rule, error)
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
