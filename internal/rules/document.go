// Package rules loads rule-set documents and serves them as read-only lookups.
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/condition"
	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/shipping"
	"github.com/noah-isme/toko-pricing/internal/tax"
)

// ErrInvalidRuleSet is returned when a rule-set document fails validation.
var ErrInvalidRuleSet = errors.New("invalid rule set")

// Document is the YAML form of a rule set. Amounts are decimal strings.
type Document struct {
	Purchasables    []PurchasableDoc    `yaml:"purchasables" validate:"dive"`
	PricingRules    []PricingRuleDoc    `yaml:"pricing_rules" validate:"dive"`
	Discounts       []DiscountDoc       `yaml:"discounts" validate:"dive"`
	ShippingMethods []ShippingMethodDoc `yaml:"shipping_methods" validate:"dive"`
	TaxZones        []TaxZoneDoc        `yaml:"tax_zones" validate:"dive"`
	TaxRates        []TaxRateDoc        `yaml:"tax_rates" validate:"dive"`
}

type PurchasableDoc struct {
	ID               string            `yaml:"id" validate:"required"`
	SKU              string            `yaml:"sku" validate:"required"`
	Description      string            `yaml:"description"`
	Stores           []string          `yaml:"stores"`
	Prices           map[string]string `yaml:"prices" validate:"required,min=1,dive,keys,len=3,endkeys,numeric"`
	TaxCategory      string            `yaml:"tax_category"`
	ShippingCategory string            `yaml:"shipping_category"`
	Categories       []string          `yaml:"categories"`
	Weight           string            `yaml:"weight" validate:"omitempty,numeric"`
	Available        *bool             `yaml:"available"`
	Promotable       *bool             `yaml:"promotable"`
	FreeShipping     bool              `yaml:"free_shipping"`
	Shippable        *bool             `yaml:"shippable"`
}

type PricingRuleDoc struct {
	ID             string     `yaml:"id" validate:"required"`
	Kind           string     `yaml:"kind" validate:"required,oneof=fixed_price percent_off amount_off"`
	Value          string     `yaml:"value" validate:"required,numeric"`
	Currency       string     `yaml:"currency" validate:"omitempty,len=3"`
	Purchasables   []string   `yaml:"purchasables"`
	Categories     []string   `yaml:"categories"`
	CustomerGroups []string   `yaml:"customer_groups"`
	StartsAt       *time.Time `yaml:"starts_at"`
	EndsAt         *time.Time `yaml:"ends_at"`
	MinQty         int        `yaml:"min_qty" validate:"gte=0"`
	Exclusive      bool       `yaml:"exclusive"`
}

type ConditionDoc struct {
	Attribute string `yaml:"attribute" validate:"required"`
	Operator  string `yaml:"operator" validate:"required"`
	Value     string `yaml:"value" validate:"required,numeric"`
}

type GroupsDoc struct {
	Mode   string   `yaml:"mode" validate:"omitempty,oneof=any all"`
	Groups []string `yaml:"groups"`
}

type CouponDoc struct {
	Code             string     `yaml:"code" validate:"required"`
	MaxUses          int        `yaml:"max_uses" validate:"gte=0"`
	PerCustomerLimit int        `yaml:"per_customer_limit" validate:"gte=0"`
	ExpiresAt        *time.Time `yaml:"expires_at"`
}

type DiscountDoc struct {
	ID               string         `yaml:"id" validate:"required"`
	Name             string         `yaml:"name"`
	Stores           []string       `yaml:"stores"`
	Enabled          *bool          `yaml:"enabled"`
	Priority         int            `yaml:"priority"`
	Exclusive        bool           `yaml:"exclusive"`
	Conditions       []ConditionDoc `yaml:"conditions" validate:"dive"`
	Groups           GroupsDoc      `yaml:"groups"`
	Purchasables     []string       `yaml:"purchasables"`
	Categories       []string       `yaml:"categories"`
	Coupons          []CouponDoc    `yaml:"coupons" validate:"dive"`
	Kind             string         `yaml:"kind" validate:"required"`
	Rate             string         `yaml:"rate" validate:"omitempty,numeric"`
	Amount           string         `yaml:"amount" validate:"omitempty,numeric"`
	PerItem          bool           `yaml:"per_item"`
	FlatOncePerLine  bool           `yaml:"flat_once_per_line"`
	StartsAt         *time.Time     `yaml:"starts_at"`
	EndsAt           *time.Time     `yaml:"ends_at"`
	IgnorePromotable bool           `yaml:"ignore_promotable"`
}

type ShippingRuleDoc struct {
	ID                 string         `yaml:"id" validate:"required"`
	Name               string         `yaml:"name"`
	Priority           int            `yaml:"priority"`
	Conditions         []ConditionDoc `yaml:"conditions" validate:"dive"`
	PerItemRate        string         `yaml:"per_item_rate" validate:"omitempty,numeric"`
	PercentageRate     string         `yaml:"percentage_rate" validate:"omitempty,numeric"`
	WeightRate         string         `yaml:"weight_rate" validate:"omitempty,numeric"`
	BaseRate           string         `yaml:"base_rate" validate:"omitempty,numeric"`
	MinRate            string         `yaml:"min_rate" validate:"omitempty,numeric"`
	MaxRate            string         `yaml:"max_rate" validate:"omitempty,numeric"`
	ExcludedCategories []string       `yaml:"excluded_categories"`
	RequiredCategories []string       `yaml:"required_categories"`
}

type ShippingMethodDoc struct {
	ID    string            `yaml:"id" validate:"required"`
	Name  string            `yaml:"name"`
	Rules []ShippingRuleDoc `yaml:"rules" validate:"dive"`
}

type TaxZoneDoc struct {
	ID        string   `yaml:"id" validate:"required"`
	Name      string   `yaml:"name"`
	Countries []string `yaml:"countries" validate:"required,min=1,dive,len=2"`
	States    []string `yaml:"states"`
	Priority  int      `yaml:"priority"`
}

type TaxRateDoc struct {
	ID       string `yaml:"id" validate:"required"`
	Name     string `yaml:"name"`
	Category string `yaml:"category" validate:"required"`
	Zone     string `yaml:"zone"`
	Rate     string `yaml:"rate" validate:"required,numeric"`
	Included bool   `yaml:"included"`
	Compound bool   `yaml:"compound"`
	Priority int    `yaml:"priority"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFile reads and parses a rule-set document from disk.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set: %w", err)
	}
	return Parse(data)
}

// Parse decodes, validates and indexes a YAML rule-set document.
func Parse(data []byte) (*Store, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRuleSet, err)
	}
	return Build(doc)
}

// Build validates doc and returns a Store serving it.
func Build(doc Document) (*Store, error) {
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRuleSet, err)
	}
	s := newStore()
	for _, p := range doc.Purchasables {
		if err := s.addPurchasable(p); err != nil {
			return nil, err
		}
	}
	for _, r := range doc.PricingRules {
		rule := catalog.PricingRule{
			ID:             r.ID,
			Kind:           catalog.RuleKind(r.Kind),
			Value:          decimalOf(r.Value),
			Currency:       strings.ToUpper(r.Currency),
			PurchasableIDs: r.Purchasables,
			CategoryIDs:    r.Categories,
			CustomerGroups: r.CustomerGroups,
			StartsAt:       r.StartsAt,
			EndsAt:         r.EndsAt,
			MinQty:         r.MinQty,
			Exclusive:      r.Exclusive,
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRuleSet, err)
		}
		s.pricingRules = append(s.pricingRules, rule)
	}
	for _, d := range doc.Discounts {
		if err := s.addDiscount(d); err != nil {
			return nil, err
		}
	}
	for _, m := range doc.ShippingMethods {
		if err := s.addMethod(m); err != nil {
			return nil, err
		}
	}
	for _, z := range doc.TaxZones {
		s.zones = append(s.zones, tax.Zone{
			ID:        z.ID,
			Name:      z.Name,
			Countries: z.Countries,
			States:    z.States,
			Priority:  z.Priority,
		})
	}
	for _, r := range doc.TaxRates {
		rate := tax.Rate{
			ID:         r.ID,
			Name:       r.Name,
			CategoryID: r.Category,
			ZoneID:     r.Zone,
			Rate:       decimalOf(r.Rate),
			Included:   r.Included,
			Compound:   r.Compound,
			Priority:   r.Priority,
		}
		if err := rate.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRuleSet, err)
		}
		if rate.ZoneID != "" && !s.hasZone(rate.ZoneID) {
			return nil, fmt.Errorf("%w: tax rate %s references unknown zone %s", ErrInvalidRuleSet, rate.ID, rate.ZoneID)
		}
		s.rates[rate.CategoryID] = append(s.rates[rate.CategoryID], rate)
	}
	return s, nil
}

func (s *Store) addPurchasable(p PurchasableDoc) error {
	if _, dup := s.purchasables[p.ID]; dup {
		return fmt.Errorf("%w: duplicate purchasable %s", ErrInvalidRuleSet, p.ID)
	}
	prices := make(map[string]decimal.Decimal, len(p.Prices))
	for code, amount := range p.Prices {
		price, err := money.ParseCatalogPrice(amount)
		if err != nil {
			return fmt.Errorf("%w: purchasable %s price %s: %w", ErrInvalidRuleSet, p.ID, code, err)
		}
		prices[strings.ToUpper(code)] = price
	}
	s.purchasables[p.ID] = stored{
		stores: p.Stores,
		item: catalog.Purchasable{
			ID:                 p.ID,
			SKU:                p.SKU,
			Description:        p.Description,
			Prices:             prices,
			TaxCategoryID:      p.TaxCategory,
			ShippingCategoryID: p.ShippingCategory,
			CategoryIDs:        p.Categories,
			Weight:             decimalOf(p.Weight),
			Available:          boolOr(p.Available, true),
			Promotable:         boolOr(p.Promotable, true),
			FreeShipping:       p.FreeShipping,
			Shippable:          boolOr(p.Shippable, true),
		},
	}
	return nil
}

func (s *Store) addDiscount(d DiscountDoc) error {
	conds, err := conditionsOf(d.Conditions)
	if err != nil {
		return fmt.Errorf("%w: discount %s: %w", ErrInvalidRuleSet, d.ID, err)
	}
	coupons := make([]discount.Coupon, 0, len(d.Coupons))
	for _, c := range d.Coupons {
		coupons = append(coupons, discount.Coupon{
			Code:             discount.NormalizeCode(c.Code),
			MaxUses:          c.MaxUses,
			PerCustomerLimit: c.PerCustomerLimit,
			ExpiresAt:        c.ExpiresAt,
		})
	}
	disc := discount.Discount{
		ID:               d.ID,
		Name:             d.Name,
		Enabled:          boolOr(d.Enabled, true),
		Priority:         d.Priority,
		Exclusive:        d.Exclusive,
		Conditions:       conds,
		Groups:           condition.GroupCondition{Mode: condition.GroupMode(d.Groups.Mode), Groups: d.Groups.Groups},
		PurchasableIDs:   d.Purchasables,
		CategoryIDs:      d.Categories,
		Coupons:          coupons,
		Kind:             discount.Kind(d.Kind),
		Rate:             decimalOf(d.Rate),
		Amount:           decimalOf(d.Amount),
		PerItem:          d.PerItem,
		FlatOncePerLine:  d.FlatOncePerLine,
		StartsAt:         d.StartsAt,
		EndsAt:           d.EndsAt,
		IgnorePromotable: d.IgnorePromotable,
	}
	if err := disc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRuleSet, err)
	}
	s.discounts = append(s.discounts, scopedDiscount{stores: d.Stores, discount: disc})
	return nil
}

func (s *Store) addMethod(m ShippingMethodDoc) error {
	if _, dup := s.methods[m.ID]; dup {
		return fmt.Errorf("%w: duplicate shipping method %s", ErrInvalidRuleSet, m.ID)
	}
	rules := make([]shipping.Rule, 0, len(m.Rules))
	for _, r := range m.Rules {
		conds, err := conditionsOf(r.Conditions)
		if err != nil {
			return fmt.Errorf("%w: shipping rule %s: %w", ErrInvalidRuleSet, r.ID, err)
		}
		rule := shipping.Rule{
			ID:                 r.ID,
			Name:               r.Name,
			Priority:           r.Priority,
			Conditions:         conds,
			PerItemRate:        decimalOf(r.PerItemRate),
			PercentageRate:     decimalOf(r.PercentageRate),
			WeightRate:         decimalOf(r.WeightRate),
			BaseRate:           decimalOf(r.BaseRate),
			MinRate:            decimalOf(r.MinRate),
			MaxRate:            decimalOf(r.MaxRate),
			ExcludedCategories: r.ExcludedCategories,
			RequiredCategories: r.RequiredCategories,
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRuleSet, err)
		}
		rules = append(rules, rule)
	}
	s.methods[m.ID] = rules
	return nil
}

func conditionsOf(docs []ConditionDoc) (condition.Set, error) {
	set := make(condition.Set, 0, len(docs))
	for _, c := range docs {
		attr, err := condition.ParseAttribute(c.Attribute)
		if err != nil {
			return nil, err
		}
		op, err := condition.ParseOperator(c.Operator)
		if err != nil {
			return nil, err
		}
		set = append(set, condition.Expr{Attribute: attr, Operator: op, Value: decimalOf(c.Value)})
	}
	return set, nil
}

// decimalOf parses a value the validator already accepted as numeric.
func decimalOf(v string) decimal.Decimal {
	if strings.TrimSpace(v) == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
