// Package pricing runs the recalculation pipeline that turns an order into a
// priced order.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/order"
	"github.com/noah-isme/toko-pricing/internal/shipping"
	"github.com/noah-isme/toko-pricing/internal/tax"
	"github.com/noah-isme/toko-pricing/internal/tenant"
)

// WarnTotalClamped is emitted when the grand total had to be floored at zero.
const WarnTotalClamped = "total_clamped"

// LineRefresher re-resolves line item snapshots and prices.
type LineRefresher interface {
	Refresh(ctx context.Context, o order.Order) ([]order.LineItem, error)
}

// Discounter produces discount adjustments.
type Discounter interface {
	Apply(ctx context.Context, o *order.Order) (discount.Result, error)
}

// ShippingCalculator produces the shipping adjustment.
type ShippingCalculator interface {
	Calculate(ctx context.Context, o *order.Order, net map[string]decimal.Decimal) (shipping.Result, error)
}

// TaxCalculator produces tax adjustments.
type TaxCalculator interface {
	Subjects(o *order.Order, net map[string]decimal.Decimal, shippingTotal decimal.Decimal) []tax.Subject
	Calculate(ctx context.Context, o *order.Order, subjects []tax.Subject) (tax.Result, error)
}

// PricedOrder is the immutable outcome of a pass.
type PricedOrder struct {
	Order          order.Order     `json:"order"`
	Totals         order.Totals    `json:"totals"`
	Warnings       []order.Warning `json:"warnings,omitempty"`
	State          State           `json:"state"`
	Fingerprint    string          `json:"fingerprint,omitempty"`
	ShippingRuleID string          `json:"shipping_rule_id,omitempty"`

	// Transitions lists the states the pass moved through, Idle to Done.
	Transitions []State `json:"transitions,omitempty"`

	// CouponErr is set when the order's coupon was rejected.
	CouponErr *discount.InvalidCouponError `json:"coupon_error,omitempty"`
}

// Adjustments returns every adjustment of the priced order.
func (p PricedOrder) Adjustments() []order.Adjustment {
	return p.Order.AllAdjustments()
}

// Engine coordinates the Resolving, Discounting, Shipping, Taxing and
// Aggregating stages.
type Engine struct {
	Lines     LineRefresher
	Discounts Discounter
	Shipping  ShippingCalculator
	Tax       TaxCalculator
	Logger    zerolog.Logger
	Tracer    trace.Tracer
	// RefreshPrices re-resolves unit prices during Resolving. Off by default
	// so frozen line prices only change when a caller asks for it.
	RefreshPrices bool
	Now           func() time.Time
}

type stage struct {
	state State
	run   func(context.Context) error
}

type pass struct {
	engine      *Engine
	logger      zerolog.Logger
	order       order.Order
	net         map[string]decimal.Decimal
	shipping    decimal.Decimal
	adjustments []order.Adjustment
	warnings    []order.Warning
	couponErr   *discount.InvalidCouponError
	ruleID      string
	totals      order.Totals
	fingerprint string
}

// Recalculate prices a snapshot of the order. The input is never modified.
// On failure the returned value only carries State Failed and the error is a
// *StageError naming the stage.
func (e *Engine) Recalculate(ctx context.Context, o order.Order) (PricedOrder, error) {
	if e == nil || e.Discounts == nil || e.Shipping == nil || e.Tax == nil {
		return PricedOrder{State: Failed}, errors.New("pricing engine not configured")
	}
	if o.Completed {
		recordResult("skipped")
		return PricedOrder{State: Idle}, ErrOrderCompleted
	}

	ctx = tenant.With(ctx, o.StoreID)
	ctx, span := e.tracer().Start(ctx, "pricing.recalculate", trace.WithAttributes(
		attribute.String("order.id", o.ID),
		attribute.Int("order.line_items", len(o.LineItems)),
	))
	defer span.End()

	p := &pass{
		engine: e,
		logger: obs.WithContext(ctx, e.Logger).With().Str("order_id", o.ID).Logger(),
		order:  o.Clone(),
	}
	p.order.ClearAdjustments()
	if p.order.AsOf.IsZero() {
		p.order.AsOf = e.now()
	}

	stages := []stage{
		{Resolving, p.resolve},
		{Discounting, p.discount},
		{Shipping, p.ship},
		{Taxing, p.tax},
		{Aggregating, p.aggregate},
	}
	transitions := []State{Idle}
	for _, st := range stages {
		transitions = append(transitions, st.state)
		span.AddEvent("pricing.state", trace.WithAttributes(attribute.String("state", st.state.String())))
		if err := e.runStage(ctx, st); err != nil {
			span.AddEvent("pricing.state", trace.WithAttributes(attribute.String("state", Failed.String())))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Error().Err(err).Str("stage", st.state.String()).Msg("pricing pass failed")
			recordResult("failed")
			return PricedOrder{State: Failed}, &StageError{Stage: st.state, Err: err}
		}
	}

	transitions = append(transitions, Done)
	span.AddEvent("pricing.state", trace.WithAttributes(attribute.String("state", Done.String())))
	span.SetAttributes(attribute.String("order.grand_total", p.totals.GrandTotal.String()))
	recordResult("done")
	return PricedOrder{
		Order:          p.order,
		Totals:         p.totals,
		Warnings:       p.warnings,
		State:          Done,
		Fingerprint:    p.fingerprint,
		ShippingRuleID: p.ruleID,
		Transitions:    transitions,
		CouponErr:      p.couponErr,
	}, nil
}

func (e *Engine) runStage(ctx context.Context, st stage) error {
	ctx, span := e.tracer().Start(ctx, "pricing."+st.state.String())
	defer span.End()
	start := time.Now()
	err := st.run(ctx)
	if obs.PricingStageDuration != nil {
		obs.PricingStageDuration.WithLabelValues(st.state.String()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *Engine) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return otel.Tracer(obs.TracerName)
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (p *pass) resolve(ctx context.Context) error {
	currency, err := money.ParseCurrency(p.order.Currency)
	if err != nil {
		return err
	}
	p.order.Currency = currency
	if p.engine.RefreshPrices && p.engine.Lines != nil {
		lines, err := p.engine.Lines.Refresh(ctx, p.order)
		if err != nil {
			return fmt.Errorf("refresh prices: %w", err)
		}
		p.order.LineItems = lines
	}
	seen := make(map[string]bool, len(p.order.LineItems))
	for i := range p.order.LineItems {
		li := &p.order.LineItems[i]
		switch {
		case li.ID == "":
			return fmt.Errorf("%w: missing id", ErrInvalidLineItem)
		case seen[li.ID]:
			return fmt.Errorf("%w %s: duplicate id", ErrInvalidLineItem, li.ID)
		case li.Qty <= 0:
			return fmt.Errorf("%w %s: quantity %d", ErrInvalidLineItem, li.ID, li.Qty)
		case li.UnitPrice.IsNegative():
			return fmt.Errorf("%w %s: negative unit price", ErrInvalidLineItem, li.ID)
		}
		li.UnitPrice = money.Round(li.UnitPrice, currency)
		seen[li.ID] = true
	}
	return nil
}

func (p *pass) discount(ctx context.Context) error {
	res, err := p.engine.Discounts.Apply(ctx, &p.order)
	if err != nil {
		return err
	}
	p.adjustments = append(p.adjustments, res.Adjustments...)
	p.warn(Discounting, res.Warnings)
	p.couponErr = res.CouponErr
	p.net = NetAmounts(p.order, res.Adjustments)
	return nil
}

func (p *pass) ship(ctx context.Context) error {
	res, err := p.engine.Shipping.Calculate(ctx, &p.order, p.net)
	if err != nil {
		return err
	}
	p.warn(Shipping, res.Warnings)
	p.shipping = decimal.Zero
	if res.Adjustment != nil {
		p.adjustments = append(p.adjustments, *res.Adjustment)
		p.shipping = res.Adjustment.Amount
		p.ruleID = res.RuleID
	}
	return nil
}

func (p *pass) tax(ctx context.Context) error {
	subjects := p.engine.Tax.Subjects(&p.order, p.net, p.shipping)
	res, err := p.engine.Tax.Calculate(ctx, &p.order, subjects)
	if err != nil {
		return err
	}
	p.adjustments = append(p.adjustments, res.Adjustments...)
	p.warn(Taxing, res.Warnings)
	return nil
}

func (p *pass) aggregate(context.Context) error {
	if orphans := p.order.Attach(p.adjustments); len(orphans) > 0 {
		return fmt.Errorf("adjustment %s targets unknown line item %s", orphans[0].SourceRef, orphans[0].LineItemID)
	}
	p.totals = Aggregate(p.order)
	if p.totals.Clamped {
		p.warn(Aggregating, []order.Warning{{
			Code:    WarnTotalClamped,
			Message: "grand total floored at zero",
		}})
	}
	fp, err := Fingerprint(p.order, p.totals)
	if err != nil {
		return err
	}
	p.fingerprint = fp
	return nil
}

func (p *pass) warn(st State, warnings []order.Warning) {
	for _, w := range warnings {
		w.Stage = st.String()
		p.warnings = append(p.warnings, w)
		p.logger.Warn().Str("stage", w.Stage).Str("code", w.Code).Str("ref", w.Ref).Msg(w.Message)
		if obs.PricingWarningsTotal != nil {
			obs.PricingWarningsTotal.WithLabelValues(w.Code).Inc()
		}
	}
}

// NetAmounts returns each line's amount after discount adjustments, including
// order-level discount allocations. Amounts never go below zero.
func NetAmounts(o order.Order, adjustments []order.Adjustment) map[string]decimal.Decimal {
	net := make(map[string]decimal.Decimal, len(o.LineItems))
	for _, li := range o.LineItems {
		net[li.ID] = li.Subtotal()
	}
	for _, adj := range adjustments {
		if adj.Type != order.AdjustmentDiscount {
			continue
		}
		if adj.LineItemID != "" {
			if v, ok := net[adj.LineItemID]; ok {
				net[adj.LineItemID] = v.Add(adj.Amount)
			}
			continue
		}
		for _, alloc := range adj.Allocations {
			if v, ok := net[alloc.LineItemID]; ok {
				net[alloc.LineItemID] = v.Add(alloc.Amount)
			}
		}
	}
	for id, v := range net {
		net[id] = money.NonNegative(v)
	}
	return net
}

func recordResult(result string) {
	if obs.PricingRecalculationsTotal != nil {
		obs.PricingRecalculationsTotal.WithLabelValues(result).Inc()
	}
}
