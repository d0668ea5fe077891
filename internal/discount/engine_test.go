package discount_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/condition"
	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/order"
)

type discountList []discount.Discount

func (l discountList) GetEnabledDiscounts(context.Context, string) ([]discount.Discount, error) {
	return l, nil
}

type usageMap map[string]discount.Usage

func (m usageMap) GetCouponUsage(_ context.Context, code, _ string) (discount.Usage, error) {
	return m[code], nil
}

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func line(id string, price string, qty int, categories ...string) order.LineItem {
	return order.LineItem{
		ID:        id,
		Snapshot:  order.PurchasableSnapshot{ID: "p-" + id, CategoryIDs: categories, Promotable: true, Shippable: true},
		Qty:       qty,
		UnitPrice: d(price),
	}
}

func newOrder(lines ...order.LineItem) *order.Order {
	return &order.Order{ID: "o1", StoreID: "s1", Currency: "USD", CustomerID: "c1", LineItems: lines, AsOf: now}
}

func apply(t *testing.T, o *order.Order, usage usageMap, discounts ...discount.Discount) discount.Result {
	t.Helper()
	eng := &discount.Engine{Discounts: discountList(discounts), Usage: usage}
	res, err := eng.Apply(context.Background(), o)
	require.NoError(t, err)
	return res
}

func amounts(adjs []order.Adjustment) []string {
	out := make([]string, len(adjs))
	for i, a := range adjs {
		out[i] = a.Amount.StringFixed(2)
	}
	return out
}

func TestStackingComputesAgainstOriginalSubtotal(t *testing.T) {
	o := newOrder(line("a", "100.00", 1))
	res := apply(t, o, nil,
		discount.Discount{ID: "flat5", Enabled: true, Priority: 2, Kind: discount.Flat, Amount: d("5")},
		discount.Discount{ID: "pct10", Enabled: true, Priority: 1, Kind: discount.Percent, Rate: d("0.10")},
	)
	require.Equal(t, []string{"-10.00", "-5.00"}, amounts(res.Adjustments))
	require.Equal(t, "pct10", res.Adjustments[0].SourceRef)
	require.Equal(t, "flat5", res.Adjustments[1].SourceRef)
	for _, adj := range res.Adjustments {
		require.True(t, adj.OrderLevel())
		require.Equal(t, order.AdjustmentDiscount, adj.Type)
	}
	require.Empty(t, res.Warnings)
}

func TestExclusiveDiscountIsTheOnlyOneApplied(t *testing.T) {
	o := newOrder(line("a", "50.00", 2))
	res := apply(t, o, nil,
		discount.Discount{ID: "pct10", Enabled: true, Priority: 1, Kind: discount.Percent, Rate: d("0.10")},
		discount.Discount{ID: "excl", Enabled: true, Priority: 5, Exclusive: true, Kind: discount.Flat, Amount: d("7")},
		discount.Discount{ID: "excl-late", Enabled: true, Priority: 9, Exclusive: true, Kind: discount.Flat, Amount: d("30")},
	)
	require.Len(t, res.Adjustments, 1)
	require.Equal(t, "excl", res.Adjustments[0].SourceRef)
	require.Equal(t, "-7.00", res.Adjustments[0].Amount.StringFixed(2))
}

func TestExpiredCouponIsNonFatal(t *testing.T) {
	yesterday := now.Add(-24 * time.Hour)
	o := newOrder(line("a", "20.00", 1))
	o.CouponCode = "spring"
	res := apply(t, o, nil, discount.Discount{
		ID: "spring", Enabled: true, Kind: discount.Percent, Rate: d("0.5"),
		Coupons: []discount.Coupon{{Code: "SPRING", ExpiresAt: &yesterday}},
	})
	require.Empty(t, res.Adjustments)
	require.NotNil(t, res.CouponErr)
	require.True(t, errors.Is(res.CouponErr, discount.ErrInvalidCoupon))
	require.True(t, errors.Is(res.CouponErr, discount.ErrCouponExpired))
	require.Len(t, res.Warnings, 1)
	require.Equal(t, discount.WarnInvalidCoupon, res.Warnings[0].Code)
	require.Equal(t, "SPRING", res.Warnings[0].Ref)
}

func TestCouponValidation(t *testing.T) {
	promo := discount.Discount{
		ID: "promo", Enabled: true, Kind: discount.Flat, Amount: d("2"),
		Coupons: []discount.Coupon{{Code: "Save2", MaxUses: 10, PerCustomerLimit: 1}},
	}
	cases := []struct {
		name     string
		code     string
		customer string
		usage    usageMap
		wantErr  error
	}{
		{name: "valid any case", code: " save2 ", customer: "c1", usage: usageMap{"SAVE2": {Total: 3}}},
		{name: "unknown", code: "NOPE", customer: "c1", wantErr: discount.ErrCouponNotFound},
		{name: "global cap", code: "SAVE2", customer: "c1", usage: usageMap{"SAVE2": {Total: 10}}, wantErr: discount.ErrUsageLimitReached},
		{name: "per customer", code: "SAVE2", customer: "c1", usage: usageMap{"SAVE2": {Total: 4, Customer: 1}}, wantErr: discount.ErrPerCustomerLimitReached},
		{name: "guest", code: "SAVE2", customer: "", wantErr: discount.ErrCustomerRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newOrder(line("a", "20.00", 1))
			o.CouponCode = tc.code
			o.CustomerID = tc.customer
			res := apply(t, o, tc.usage, promo)
			if tc.wantErr == nil {
				require.Nil(t, res.CouponErr)
				require.Equal(t, []string{"-2.00"}, amounts(res.Adjustments))
				return
			}
			require.Empty(t, res.Adjustments)
			require.True(t, errors.Is(res.CouponErr, tc.wantErr), "got %v", res.CouponErr)
		})
	}
}

func TestCouponDiscountNeedsCode(t *testing.T) {
	o := newOrder(line("a", "20.00", 1))
	res := apply(t, o, nil, discount.Discount{
		ID: "promo", Enabled: true, Kind: discount.Flat, Amount: d("2"),
		Coupons: []discount.Coupon{{Code: "SAVE2"}},
	})
	require.Empty(t, res.Adjustments)
	require.Empty(t, res.Warnings)
}

func TestValidCouponThatDoesNotMatchWarns(t *testing.T) {
	o := newOrder(line("a", "20.00", 1))
	o.CouponCode = "BIG"
	res := apply(t, o, nil, discount.Discount{
		ID: "big", Enabled: true, Kind: discount.Flat, Amount: d("20"),
		Coupons:    []discount.Coupon{{Code: "BIG"}},
		Conditions: condition.Set{{Attribute: condition.ItemSubtotal, Operator: condition.Ge, Value: d("100")}},
	})
	require.Empty(t, res.Adjustments)
	require.Nil(t, res.CouponErr)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, discount.WarnCouponNotApplicable, res.Warnings[0].Code)
}

func TestConditionsAndGroups(t *testing.T) {
	bulk := discount.Discount{
		ID: "bulk", Enabled: true, Kind: discount.Percent, Rate: d("0.05"),
		Conditions: condition.Set{
			{Attribute: condition.TotalQuantity, Operator: condition.Ge, Value: d("3")},
			{Attribute: condition.ItemSubtotal, Operator: condition.Lt, Value: d("1000")},
		},
		Groups: condition.GroupCondition{Mode: condition.AllGroup, Groups: []string{"vip", "wholesale"}},
	}
	o := newOrder(line("a", "10.00", 3))
	o.CustomerGroups = []string{"vip"}
	require.Empty(t, apply(t, o, nil, bulk).Adjustments)

	o.CustomerGroups = []string{"wholesale", "vip"}
	require.Equal(t, []string{"-1.50"}, amounts(apply(t, o, nil, bulk).Adjustments))

	o.LineItems[0].Qty = 2
	require.Empty(t, apply(t, o, nil, bulk).Adjustments)
}

func TestConditionSymbolOperators(t *testing.T) {
	big := discount.Discount{
		ID: "big", Enabled: true, Kind: discount.Flat, Amount: d("2.00"),
		Conditions: condition.Set{{Attribute: condition.ItemSubtotal, Operator: ">", Value: d("5")}},
	}
	require.NoError(t, big.Validate())
	require.Equal(t, []string{"-2.00"}, amounts(apply(t, newOrder(line("a", "10.00", 1)), nil, big).Adjustments))
	require.Empty(t, apply(t, newOrder(line("a", "4.00", 1)), nil, big).Adjustments)
}

func TestPerItemFlatMultipliesByQuantity(t *testing.T) {
	o := newOrder(line("a", "10.00", 3), line("b", "4.00", 1))
	res := apply(t, o, nil, discount.Discount{ID: "each", Enabled: true, Kind: discount.Flat, Amount: d("1.00"), PerItem: true})
	require.Equal(t, []string{"-3.00", "-1.00"}, amounts(res.Adjustments))
	require.Equal(t, "a", res.Adjustments[0].LineItemID)
	require.Equal(t, "b", res.Adjustments[1].LineItemID)

	res = apply(t, o, nil, discount.Discount{ID: "once", Enabled: true, Kind: discount.Flat, Amount: d("1.00"), PerItem: true, FlatOncePerLine: true})
	require.Equal(t, []string{"-1.00", "-1.00"}, amounts(res.Adjustments))
}

func TestPercentOnScopedSubtotal(t *testing.T) {
	o := newOrder(line("a", "30.00", 1, "shoes"), line("b", "70.00", 1, "hats"), line("c", "15.00", 2, "shoes"))
	res := apply(t, o, nil, discount.Discount{ID: "shoes", Enabled: true, Kind: discount.Percent, Rate: d("0.20"), CategoryIDs: []string{"shoes"}})
	require.Len(t, res.Adjustments, 1)
	adj := res.Adjustments[0]
	require.Equal(t, "-12.00", adj.Amount.StringFixed(2))
	require.Len(t, adj.Allocations, 2)
	require.Equal(t, "a", adj.Allocations[0].LineItemID)
	require.Equal(t, "-6.00", adj.Allocations[0].Amount.StringFixed(2))
	require.Equal(t, "c", adj.Allocations[1].LineItemID)
	require.Equal(t, "-6.00", adj.Allocations[1].Amount.StringFixed(2))
}

func TestNonPromotableLinesAreSkipped(t *testing.T) {
	gift := line("gift", "50.00", 1)
	gift.Snapshot.Promotable = false
	o := newOrder(line("a", "50.00", 1), gift)
	res := apply(t, o, nil, discount.Discount{ID: "pct", Enabled: true, Kind: discount.Percent, Rate: d("0.10")})
	require.Equal(t, []string{"-5.00"}, amounts(res.Adjustments))

	res = apply(t, o, nil, discount.Discount{ID: "pct", Enabled: true, Kind: discount.Percent, Rate: d("0.10"), IgnorePromotable: true})
	require.Equal(t, []string{"-10.00"}, amounts(res.Adjustments))
}

func TestClampNeverDiscountsBelowZero(t *testing.T) {
	o := newOrder(line("a", "8.00", 1), line("b", "2.00", 1))
	res := apply(t, o, nil,
		discount.Discount{ID: "big-flat", Enabled: true, Priority: 1, Kind: discount.Flat, Amount: d("9")},
		discount.Discount{ID: "per-line", Enabled: true, Priority: 2, Kind: discount.Flat, Amount: d("3"), PerItem: true},
	)
	perLine := map[string]decimal.Decimal{"a": decimal.Zero, "b": decimal.Zero}
	for _, adj := range res.Adjustments {
		if adj.OrderLevel() {
			for _, alloc := range adj.Allocations {
				perLine[alloc.LineItemID] = perLine[alloc.LineItemID].Add(alloc.Amount)
			}
			continue
		}
		perLine[adj.LineItemID] = perLine[adj.LineItemID].Add(adj.Amount)
	}
	require.Equal(t, "-8.00", perLine["a"].StringFixed(2))
	require.Equal(t, "-2.00", perLine["b"].StringFixed(2))
	require.NotEmpty(t, res.Warnings)
	for _, w := range res.Warnings {
		require.Equal(t, discount.WarnDiscountClamped, w.Code)
	}
}

func TestMalformedDiscountIsFatal(t *testing.T) {
	o := newOrder(line("a", "10.00", 1))
	eng := &discount.Engine{Discounts: discountList{{
		ID: "bad", Enabled: true, Kind: discount.Flat, Amount: d("1"),
		Conditions: condition.Set{{Attribute: condition.ItemSubtotal, Operator: "approx", Value: d("1")}},
	}}}
	_, err := eng.Apply(context.Background(), o)
	require.True(t, errors.Is(err, discount.ErrMalformedDiscount))
	require.True(t, errors.Is(err, condition.ErrUnknownOperator))
}

func TestDisabledAndOutOfWindowDiscountsIgnored(t *testing.T) {
	tomorrow := now.Add(24 * time.Hour)
	o := newOrder(line("a", "10.00", 1))
	res := apply(t, o, nil,
		discount.Discount{ID: "off", Enabled: false, Kind: discount.Flat, Amount: d("1")},
		discount.Discount{ID: "later", Enabled: true, Kind: discount.Flat, Amount: d("1"), StartsAt: &tomorrow},
	)
	require.Empty(t, res.Adjustments)
}

func TestApplyDoesNotNeedUsageReaderWithoutCoupon(t *testing.T) {
	o := newOrder(line("a", "10.00", 1))
	eng := &discount.Engine{Discounts: discountList{{ID: "pct", Enabled: true, Kind: discount.Percent, Rate: d("0.5")}}}
	res, err := eng.Apply(context.Background(), o)
	require.NoError(t, err)
	require.Equal(t, []string{"-5.00"}, amounts(res.Adjustments))
}
