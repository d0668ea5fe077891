package rules

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/order"
	"github.com/noah-isme/toko-pricing/internal/shipping"
	"github.com/noah-isme/toko-pricing/internal/tax"
)

type stored struct {
	stores []string
	item   catalog.Purchasable
}

type scopedDiscount struct {
	stores   []string
	discount discount.Discount
}

// Store is an immutable in-memory rule set. It implements the catalog,
// pricing rule, discount, shipping and tax lookups and is safe for
// concurrent use.
type Store struct {
	purchasables map[string]stored
	pricingRules []catalog.PricingRule
	discounts    []scopedDiscount
	methods      map[string][]shipping.Rule
	zones        []tax.Zone
	rates        map[string][]tax.Rate
}

func newStore() *Store {
	return &Store{
		purchasables: map[string]stored{},
		methods:      map[string][]shipping.Rule{},
		rates:        map[string][]tax.Rate{},
	}
}

var (
	_ catalog.Lookup     = (*Store)(nil)
	_ catalog.RuleLookup = (*Store)(nil)
	_ discount.Lookup    = (*Store)(nil)
	_ shipping.Lookup    = (*Store)(nil)
	_ tax.Lookup         = (*Store)(nil)
)

// GetPurchasable implements catalog.Lookup.
func (s *Store) GetPurchasable(_ context.Context, id, storeID string) (catalog.Purchasable, error) {
	p, ok := s.purchasables[id]
	if !ok || !inStore(p.stores, storeID) {
		return catalog.Purchasable{}, catalog.ErrNotFound
	}
	return clonePurchasable(p.item), nil
}

// PurchasablesFor lists the purchasables visible in a store, ordered by id.
func (s *Store) PurchasablesFor(storeID string) []catalog.Purchasable {
	out := make([]catalog.Purchasable, 0, len(s.purchasables))
	for _, p := range s.purchasables {
		if inStore(p.stores, storeID) {
			out = append(out, clonePurchasable(p.item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetApplicablePricingRules implements catalog.RuleLookup. Rules are
// filtered by currency and window; scope matching is left to the resolver.
func (s *Store) GetApplicablePricingRules(_ context.Context, purchasableID string, groups []string, currency string, asOf time.Time) ([]catalog.PricingRule, error) {
	var out []catalog.PricingRule
	for _, r := range s.pricingRules {
		if r.Currency != "" && !strings.EqualFold(r.Currency, currency) {
			continue
		}
		if !r.ActiveAt(asOf) {
			continue
		}
		if len(r.PurchasableIDs) > 0 && len(r.CategoryIDs) == 0 && !contains(r.PurchasableIDs, purchasableID) {
			continue
		}
		if len(r.CustomerGroups) > 0 && !overlaps(r.CustomerGroups, groups) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetEnabledDiscounts implements discount.Lookup.
func (s *Store) GetEnabledDiscounts(_ context.Context, storeID string) ([]discount.Discount, error) {
	var out []discount.Discount
	for _, d := range s.discounts {
		if d.discount.Enabled && inStore(d.stores, storeID) {
			out = append(out, d.discount)
		}
	}
	return out, nil
}

// GetShippingRules implements shipping.Lookup, returning rules in priority order.
func (s *Store) GetShippingRules(_ context.Context, methodID string) ([]shipping.Rule, error) {
	rules, ok := s.methods[methodID]
	if !ok {
		return nil, shipping.ErrMethodNotFound
	}
	out := make([]shipping.Rule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// GetTaxRates implements tax.Lookup.
func (s *Store) GetTaxRates(_ context.Context, categoryID string) ([]tax.Rate, error) {
	rates := s.rates[categoryID]
	out := make([]tax.Rate, len(rates))
	copy(out, rates)
	return out, nil
}

// MatchZone implements tax.Lookup.
func (s *Store) MatchZone(_ context.Context, addr order.Address) (string, error) {
	return tax.MatchZone(s.zones, addr), nil
}

func (s *Store) hasZone(id string) bool {
	for _, z := range s.zones {
		if z.ID == id {
			return true
		}
	}
	return false
}

func clonePurchasable(p catalog.Purchasable) catalog.Purchasable {
	out := p
	out.Prices = make(map[string]decimal.Decimal, len(p.Prices))
	for k, v := range p.Prices {
		out.Prices[k] = v
	}
	out.CategoryIDs = append([]string(nil), p.CategoryIDs...)
	return out
}

func inStore(stores []string, storeID string) bool {
	return len(stores) == 0 || contains(stores, storeID)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func overlaps(a, b []string) bool {
	for _, v := range a {
		if contains(b, v) {
			return true
		}
	}
	return false
}
