package discount

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

// Warning codes emitted by the engine.
const (
	WarnInvalidCoupon       = "invalid_coupon"
	WarnCouponNotApplicable = "coupon_not_applicable"
	WarnDiscountClamped     = "discount_clamped"
)

// Result is the outcome of one discount pass.
type Result struct {
	Adjustments []order.Adjustment
	Warnings    []order.Warning
	// CouponErr is set when the order's coupon code was rejected.
	CouponErr *InvalidCouponError
}

// Engine computes discount adjustments.
type Engine struct {
	Discounts Lookup
	Usage     UsageReader
}

// Apply evaluates every enabled discount against the order. Amounts are
// computed against the original subtotal so stacking never compounds, and no
// line is discounted below zero.
func (e *Engine) Apply(ctx context.Context, o *order.Order) (Result, error) {
	if e == nil || e.Discounts == nil {
		return Result{}, errors.New("discount engine not configured")
	}
	discounts, err := e.Discounts.GetEnabledDiscounts(ctx, o.StoreID)
	if err != nil {
		return Result{}, fmt.Errorf("load discounts: %w", err)
	}
	enabled := make([]Discount, 0, len(discounts))
	for _, d := range discounts {
		if err := d.Validate(); err != nil {
			return Result{}, err
		}
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Priority != enabled[j].Priority {
			return enabled[i].Priority < enabled[j].Priority
		}
		return enabled[i].ID < enabled[j].ID
	})

	var res Result
	unlocked, couponErr, err := e.unlock(ctx, o, enabled)
	if err != nil {
		return Result{}, err
	}
	if couponErr != nil {
		res.CouponErr = couponErr
		res.Warnings = append(res.Warnings, order.Warning{
			Code:    WarnInvalidCoupon,
			Message: couponErr.Error(),
			Ref:     couponErr.Code,
		})
	}

	matched, err := e.match(o, enabled, unlocked)
	if err != nil {
		return Result{}, err
	}
	if len(unlocked) > 0 && !anyUnlocked(matched, unlocked) {
		res.Warnings = append(res.Warnings, order.Warning{
			Code:    WarnCouponNotApplicable,
			Message: fmt.Sprintf("coupon %q does not apply to this order", NormalizeCode(o.CouponCode)),
			Ref:     NormalizeCode(o.CouponCode),
		})
	}
	matched = exclusiveFilter(matched)

	remaining := make(map[string]decimal.Decimal, len(o.LineItems))
	for _, li := range o.LineItems {
		remaining[li.ID] = li.Subtotal()
	}
	for _, d := range matched {
		adjs, warns := e.compute(o, d, remaining)
		res.Adjustments = append(res.Adjustments, adjs...)
		res.Warnings = append(res.Warnings, warns...)
	}
	return res, nil
}

// unlock validates the order's coupon code and returns the ids of the
// discounts it unlocks.
func (e *Engine) unlock(ctx context.Context, o *order.Order, discounts []Discount) (map[string]bool, *InvalidCouponError, error) {
	code := NormalizeCode(o.CouponCode)
	if code == "" {
		return nil, nil, nil
	}
	var usage Usage
	if e.Usage != nil {
		u, err := e.Usage.GetCouponUsage(ctx, code, o.CustomerID)
		if err != nil {
			return nil, nil, fmt.Errorf("coupon usage %s: %w", code, err)
		}
		usage = u
	}

	unlocked := map[string]bool{}
	var firstErr error
	for _, d := range discounts {
		c, ok := d.Coupon(code)
		if !ok {
			continue
		}
		if err := ValidateCoupon(c, d, usage, o.CustomerID, o.AsOf); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		unlocked[d.ID] = true
	}
	if len(unlocked) > 0 {
		return unlocked, nil, nil
	}
	if firstErr == nil {
		firstErr = ErrCouponNotFound
	}
	return nil, &InvalidCouponError{Code: code, Err: firstErr}, nil
}

func (e *Engine) match(o *order.Order, discounts []Discount, unlocked map[string]bool) ([]Discount, error) {
	facts := condition.FactsFor(o, o.ItemSubtotal())
	var matched []Discount
	for _, d := range discounts {
		if d.RequiresCoupon() && !unlocked[d.ID] {
			continue
		}
		if !d.ActiveAt(o.AsOf) {
			continue
		}
		ok, err := condition.Match(d.Conditions, facts)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrMalformedDiscount, d.ID, err)
		}
		if !ok {
			continue
		}
		ok, err = condition.MatchGroups(d.Groups, o.CustomerGroups)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrMalformedDiscount, d.ID, err)
		}
		if !ok || len(scopedLines(o, d)) == 0 {
			continue
		}
		matched = append(matched, d)
	}
	return matched, nil
}

// exclusiveFilter keeps only the first exclusive discount when one matched.
func exclusiveFilter(matched []Discount) []Discount {
	for _, d := range matched {
		if d.Exclusive {
			return []Discount{d}
		}
	}
	return matched
}

func anyUnlocked(matched []Discount, unlocked map[string]bool) bool {
	for _, d := range matched {
		if unlocked[d.ID] {
			return true
		}
	}
	return false
}

func scopedLines(o *order.Order, d Discount) []order.LineItem {
	var lines []order.LineItem
	for _, li := range o.LineItems {
		if d.InScope(li) && li.Subtotal().IsPositive() {
			lines = append(lines, li)
		}
	}
	return lines
}

func (e *Engine) compute(o *order.Order, d Discount, remaining map[string]decimal.Decimal) ([]order.Adjustment, []order.Warning) {
	lines := scopedLines(o, d)
	if d.PerItem {
		return perItem(o, d, lines, remaining)
	}
	return orderLevel(o, d, lines, remaining)
}

func perItem(o *order.Order, d Discount, lines []order.LineItem, remaining map[string]decimal.Decimal) ([]order.Adjustment, []order.Warning) {
	var (
		adjs  []order.Adjustment
		warns []order.Warning
	)
	for _, li := range lines {
		var raw decimal.Decimal
		switch d.Kind {
		case Percent:
			raw = li.Subtotal().Mul(d.Rate)
		case Flat:
			raw = d.Amount
			if !d.FlatOncePerLine {
				raw = raw.Mul(decimal.NewFromInt(int64(li.Qty)))
			}
		}
		amount := money.Round(raw, o.Currency)
		applied, clamped := clamp(amount, remaining, li.ID)
		if clamped {
			warns = append(warns, clampWarning(d, li.ID, amount, applied))
		}
		if !applied.IsPositive() {
			continue
		}
		adjs = append(adjs, order.Adjustment{
			Type:        order.AdjustmentDiscount,
			Amount:      applied.Neg(),
			LineItemID:  li.ID,
			Description: d.description(),
			SourceRef:   d.ID,
		})
	}
	return adjs, warns
}

func orderLevel(o *order.Order, d Discount, lines []order.LineItem, remaining map[string]decimal.Decimal) ([]order.Adjustment, []order.Warning) {
	scope := decimal.Zero
	weights := make([]decimal.Decimal, len(lines))
	for i, li := range lines {
		weights[i] = li.Subtotal()
		scope = scope.Add(weights[i])
	}
	var raw decimal.Decimal
	switch d.Kind {
	case Percent:
		raw = scope.Mul(d.Rate)
	case Flat:
		raw = d.Amount
	}
	amount := money.Round(raw, o.Currency)
	if !amount.IsPositive() {
		return nil, nil
	}

	var (
		warns       []order.Warning
		allocations []order.Allocation
		total       = decimal.Zero
	)
	for i, share := range money.Allocate(amount, weights, o.Currency) {
		applied, clamped := clamp(share, remaining, lines[i].ID)
		if clamped {
			warns = append(warns, clampWarning(d, lines[i].ID, share, applied))
		}
		if !applied.IsPositive() {
			continue
		}
		total = total.Add(applied)
		allocations = append(allocations, order.Allocation{LineItemID: lines[i].ID, Amount: applied.Neg()})
	}
	if !total.IsPositive() {
		return nil, warns
	}
	return []order.Adjustment{{
		Type:        order.AdjustmentDiscount,
		Amount:      total.Neg(),
		Description: d.description(),
		SourceRef:   d.ID,
		Allocations: allocations,
	}}, warns
}

// clamp caps amount at the line's remaining price and reports whether it had to.
func clamp(amount decimal.Decimal, remaining map[string]decimal.Decimal, lineID string) (decimal.Decimal, bool) {
	left := remaining[lineID]
	if amount.GreaterThan(left) {
		remaining[lineID] = decimal.Zero
		return left, true
	}
	remaining[lineID] = left.Sub(amount)
	return amount, false
}

func clampWarning(d Discount, lineID string, wanted, applied decimal.Decimal) order.Warning {
	return order.Warning{
		Code:    WarnDiscountClamped,
		Message: fmt.Sprintf("discount %s clamped on line %s from %s to %s", d.ID, lineID, wanted.String(), applied.String()),
		Ref:     d.ID,
	}
}
