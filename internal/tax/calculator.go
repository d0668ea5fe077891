// Package tax computes tax adjustments for line items and shipping.
package tax

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/order"
)

// WarnNoRate is emitted when a taxable amount has a category but no rate applies.
const WarnNoRate = "no_tax_rate"

// Subject is one taxable amount.
type Subject struct {
	// LineItemID is empty for the order-level shipping amount.
	LineItemID string
	CategoryID string
	Base       decimal.Decimal
}

// Result carries the tax adjustments of a pass.
type Result struct {
	Adjustments []order.Adjustment
	Warnings    []order.Warning
}

// Calculator applies zone and category matched rates.
type Calculator struct {
	Rates Lookup
	// ShippingCategoryID is the tax category applied to shipping amounts. Empty
	// means shipping is not taxed.
	ShippingCategoryID string
}

// Subjects lists the taxable amounts of an order: each line's post-discount
// amount and, when configured, the shipping total.
func (c *Calculator) Subjects(o *order.Order, net map[string]decimal.Decimal, shippingTotal decimal.Decimal) []Subject {
	var subjects []Subject
	for _, li := range o.LineItems {
		if li.Snapshot.TaxCategoryID == "" {
			continue
		}
		base, ok := net[li.ID]
		if !ok {
			base = li.Subtotal()
		}
		subjects = append(subjects, Subject{LineItemID: li.ID, CategoryID: li.Snapshot.TaxCategoryID, Base: base})
	}
	if c != nil && c.ShippingCategoryID != "" && shippingTotal.IsPositive() {
		subjects = append(subjects, Subject{CategoryID: c.ShippingCategoryID, Base: shippingTotal})
	}
	return subjects
}

// Calculate produces one adjustment per subject and applied rate.
func (c *Calculator) Calculate(ctx context.Context, o *order.Order, subjects []Subject) (Result, error) {
	if c == nil || c.Rates == nil {
		return Result{}, errors.New("tax calculator not configured")
	}
	zoneID := ""
	if addr := o.TaxableAddress(); addr != nil {
		z, err := c.Rates.MatchZone(ctx, *addr)
		if err != nil {
			return Result{}, fmt.Errorf("match tax zone: %w", err)
		}
		zoneID = z
	}

	byCategory := map[string][]Rate{}
	var res Result
	for _, subj := range subjects {
		rates, ok := byCategory[subj.CategoryID]
		if !ok {
			fetched, err := c.Rates.GetTaxRates(ctx, subj.CategoryID)
			if err != nil {
				return Result{}, fmt.Errorf("tax rates for %s: %w", subj.CategoryID, err)
			}
			for _, r := range fetched {
				if err := r.Validate(); err != nil {
					return Result{}, err
				}
			}
			rates = fetched
			byCategory[subj.CategoryID] = rates
		}
		if !subj.Base.IsPositive() {
			continue
		}
		applied := Applicable(rates, subj.CategoryID, zoneID)
		if len(applied) == 0 {
			res.Warnings = append(res.Warnings, order.Warning{
				Code:    WarnNoRate,
				Message: fmt.Sprintf("no tax rate for category %s in zone %q", subj.CategoryID, zoneID),
				Ref:     subj.CategoryID,
			})
			continue
		}
		res.Adjustments = append(res.Adjustments, apply(o.Currency, subj, applied)...)
	}
	return res, nil
}

// Applicable selects the rates for a category in a zone. Zone-specific rates
// win; otherwise at most one default-zone rate applies. Non-compound rates come
// before compound ones.
func Applicable(rates []Rate, categoryID, zoneID string) []Rate {
	var specific, defaults []Rate
	for _, r := range rates {
		if r.CategoryID != categoryID {
			continue
		}
		switch {
		case r.ZoneID == "":
			defaults = append(defaults, r)
		case zoneID != "" && r.ZoneID == zoneID:
			specific = append(specific, r)
		}
	}
	sortRates(specific)
	sortRates(defaults)
	if len(specific) > 0 {
		return specific
	}
	if len(defaults) > 0 {
		return defaults[:1]
	}
	return nil
}

func sortRates(rates []Rate) {
	sort.SliceStable(rates, func(i, j int) bool {
		if rates[i].Compound != rates[j].Compound {
			return !rates[i].Compound
		}
		if rates[i].Priority != rates[j].Priority {
			return rates[i].Priority < rates[j].Priority
		}
		return rates[i].ID < rates[j].ID
	})
}

func apply(currency string, subj Subject, rates []Rate) []order.Adjustment {
	var (
		adjs  []order.Adjustment
		added = decimal.Zero
	)
	for _, r := range rates {
		base := subj.Base
		if r.Compound {
			base = base.Add(added)
		}
		var amount decimal.Decimal
		if r.Included {
			amount = base.Sub(base.Div(decimal.NewFromInt(1).Add(r.Rate)))
		} else {
			amount = base.Mul(r.Rate)
		}
		amount = money.Round(amount, currency)
		if !amount.IsPositive() {
			continue
		}
		if !r.Included {
			added = added.Add(amount)
		}
		name := r.Name
		if name == "" {
			name = "Tax " + r.ID
		}
		adjs = append(adjs, order.Adjustment{
			Type:        order.AdjustmentTax,
			Amount:      amount,
			Included:    r.Included,
			LineItemID:  subj.LineItemID,
			Description: name,
			SourceRef:   r.ID,
		})
	}
	return adjs
}
