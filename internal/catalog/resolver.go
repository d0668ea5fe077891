package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/money"
)

// Request describes the context a price is resolved for.
type Request struct {
	PurchasableID string
	Qty           int
	Groups        []string
	StoreID       string
	Currency      string
	AsOf          time.Time
}

// Resolution is the outcome of a price resolution.
type Resolution struct {
	Purchasable Purchasable
	BasePrice   decimal.Decimal
	UnitPrice   decimal.Decimal
	RuleID      string
}

// Resolver computes effective unit prices from base prices and pricing rules.
type Resolver struct {
	Catalog Lookup
	Rules   RuleLookup
}

// Resolve loads the purchasable and resolves its unit price.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	if r == nil || r.Catalog == nil {
		return Resolution{}, errors.New("catalog resolver not configured")
	}
	p, err := r.Catalog.GetPurchasable(ctx, req.PurchasableID, req.StoreID)
	if err != nil {
		return Resolution{}, fmt.Errorf("get purchasable %s: %w", req.PurchasableID, err)
	}
	return r.Price(ctx, p, req)
}

// Price resolves the unit price for an already loaded purchasable. When several
// rules match the lowest resulting price wins; exclusive rules, if any match,
// shadow every non-exclusive rule.
func (r *Resolver) Price(ctx context.Context, p Purchasable, req Request) (Resolution, error) {
	if r == nil {
		return Resolution{}, errors.New("catalog resolver not configured")
	}
	base, ok := p.Prices[req.Currency]
	if !ok {
		return Resolution{}, &PriceNotFoundError{PurchasableID: p.ID, Currency: req.Currency}
	}
	res := Resolution{Purchasable: p, BasePrice: base, UnitPrice: base}

	var rules []PricingRule
	if r.Rules != nil {
		fetched, err := r.Rules.GetApplicablePricingRules(ctx, p.ID, req.Groups, req.Currency, req.AsOf)
		if err != nil {
			return Resolution{}, fmt.Errorf("pricing rules for %s: %w", p.ID, err)
		}
		rules = fetched
	}

	candidates := make([]PricingRule, 0, len(rules))
	exclusive := false
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return Resolution{}, err
		}
		if !rule.Matches(p, req) {
			continue
		}
		if rule.Exclusive && !exclusive {
			exclusive = true
			candidates = candidates[:0]
		}
		if exclusive && !rule.Exclusive {
			continue
		}
		candidates = append(candidates, rule)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	for i, rule := range candidates {
		price, err := rule.Apply(base)
		if err != nil {
			return Resolution{}, err
		}
		if i == 0 || price.LessThan(res.UnitPrice) {
			res.UnitPrice = price
			res.RuleID = rule.ID
		}
	}
	res.UnitPrice = money.Round(res.UnitPrice, req.Currency)
	return res, nil
}
