package tax_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/order"
	"github.com/noah-isme/toko-pricing/internal/tax"
)

type fakeRates struct {
	rates []tax.Rate
	zones []tax.Zone
	err   error
}

func (f fakeRates) GetTaxRates(_ context.Context, categoryID string) ([]tax.Rate, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []tax.Rate
	for _, r := range f.rates {
		if r.CategoryID == categoryID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeRates) MatchZone(_ context.Context, addr order.Address) (string, error) {
	return tax.MatchZone(f.zones, addr), nil
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func taxOrder(addr *order.Address) *order.Order {
	return &order.Order{
		ID:              "o1",
		Currency:        "USD",
		ShippingAddress: addr,
		LineItems: []order.LineItem{{
			ID:        "l1",
			Snapshot:  order.PurchasableSnapshot{ID: "p1", TaxCategoryID: "general"},
			Qty:       2,
			UnitPrice: d("10.00"),
		}},
	}
}

func TestDefaultRateOnDiscountedBase(t *testing.T) {
	c := &tax.Calculator{Rates: fakeRates{rates: []tax.Rate{
		{ID: "vat", Name: "VAT", CategoryID: "general", Rate: d("0.10")},
	}}}
	o := taxOrder(nil)
	res, err := c.Calculate(context.Background(), o, c.Subjects(o, map[string]decimal.Decimal{"l1": d("18.00")}, decimal.Zero))
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 1)
	adj := res.Adjustments[0]
	require.Equal(t, "1.80", adj.Amount.StringFixed(2))
	require.Equal(t, "l1", adj.LineItemID)
	require.Equal(t, order.AdjustmentTax, adj.Type)
	require.Equal(t, "vat", adj.SourceRef)
}

func TestZoneSpecificRatesReplaceDefault(t *testing.T) {
	c := &tax.Calculator{Rates: fakeRates{
		zones: []tax.Zone{{ID: "ca", Countries: []string{"US"}, States: []string{"CA"}}},
		rates: []tax.Rate{
			{ID: "default", CategoryID: "general", Rate: d("0.05")},
			{ID: "state", CategoryID: "general", ZoneID: "ca", Rate: d("0.06")},
			{ID: "district", CategoryID: "general", ZoneID: "ca", Rate: d("0.01"), Priority: 1},
		},
	}}
	o := taxOrder(&order.Address{CountryCode: "us", StateCode: "CA"})
	res, err := c.Calculate(context.Background(), o, c.Subjects(o, nil, decimal.Zero))
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 2)
	require.Equal(t, "state", res.Adjustments[0].SourceRef)
	require.Equal(t, "1.20", res.Adjustments[0].Amount.StringFixed(2))
	require.Equal(t, "district", res.Adjustments[1].SourceRef)
	require.Equal(t, "0.20", res.Adjustments[1].Amount.StringFixed(2))
}

func TestOnlyOneDefaultRateApplies(t *testing.T) {
	rates := []tax.Rate{
		{ID: "b", CategoryID: "general", Rate: d("0.20")},
		{ID: "a", CategoryID: "general", Rate: d("0.10")},
	}
	got := tax.Applicable(rates, "general", "")
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].ID)
}

func TestCompoundRateIncludesPriorTax(t *testing.T) {
	c := &tax.Calculator{Rates: fakeRates{
		zones: []tax.Zone{{ID: "qc", Countries: []string{"CA"}}},
		rates: []tax.Rate{
			{ID: "pst", CategoryID: "general", ZoneID: "qc", Rate: d("0.10"), Compound: true},
			{ID: "gst", CategoryID: "general", ZoneID: "qc", Rate: d("0.05")},
		},
	}}
	o := taxOrder(&order.Address{CountryCode: "CA"})
	res, err := c.Calculate(context.Background(), o, c.Subjects(o, nil, decimal.Zero))
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 2)
	require.Equal(t, "gst", res.Adjustments[0].SourceRef)
	require.Equal(t, "1.00", res.Adjustments[0].Amount.StringFixed(2))
	require.Equal(t, "pst", res.Adjustments[1].SourceRef)
	require.Equal(t, "2.10", res.Adjustments[1].Amount.StringFixed(2))
}

func TestIncludedTaxIsExtracted(t *testing.T) {
	c := &tax.Calculator{Rates: fakeRates{rates: []tax.Rate{
		{ID: "vat", CategoryID: "general", Rate: d("0.20"), Included: true},
	}}}
	o := taxOrder(nil)
	o.LineItems[0].Qty = 1
	o.LineItems[0].UnitPrice = d("12.00")
	res, err := c.Calculate(context.Background(), o, c.Subjects(o, nil, decimal.Zero))
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 1)
	require.True(t, res.Adjustments[0].Included)
	require.Equal(t, "2.00", res.Adjustments[0].Amount.StringFixed(2))
}

func TestShippingTaxedWhenCategoryConfigured(t *testing.T) {
	c := &tax.Calculator{
		ShippingCategoryID: "shipping",
		Rates: fakeRates{rates: []tax.Rate{
			{ID: "ship-vat", CategoryID: "shipping", Rate: d("0.10")},
			{ID: "vat", CategoryID: "general", Rate: d("0.10")},
		}},
	}
	o := taxOrder(nil)
	res, err := c.Calculate(context.Background(), o, c.Subjects(o, nil, d("5.00")))
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 2)
	ship := res.Adjustments[1]
	require.True(t, ship.OrderLevel())
	require.Equal(t, "0.50", ship.Amount.StringFixed(2))
}

func TestMissingRateWarns(t *testing.T) {
	c := &tax.Calculator{Rates: fakeRates{}}
	o := taxOrder(nil)
	res, err := c.Calculate(context.Background(), o, c.Subjects(o, nil, decimal.Zero))
	require.NoError(t, err)
	require.Empty(t, res.Adjustments)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, tax.WarnNoRate, res.Warnings[0].Code)
}

func TestUncategorisedLinesAreNotTaxed(t *testing.T) {
	c := &tax.Calculator{Rates: fakeRates{}}
	o := taxOrder(nil)
	o.LineItems[0].Snapshot.TaxCategoryID = ""
	res, err := c.Calculate(context.Background(), o, c.Subjects(o, nil, decimal.Zero))
	require.NoError(t, err)
	require.Empty(t, res.Adjustments)
	require.Empty(t, res.Warnings)
}

func TestMalformedRateFails(t *testing.T) {
	c := &tax.Calculator{Rates: fakeRates{rates: []tax.Rate{
		{ID: "bad", CategoryID: "general", Rate: d("0.1"), Included: true, Compound: true},
	}}}
	o := taxOrder(nil)
	_, err := c.Calculate(context.Background(), o, c.Subjects(o, nil, decimal.Zero))
	require.ErrorIs(t, err, tax.ErrMalformedRate)
}

func TestLookupErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	c := &tax.Calculator{Rates: fakeRates{err: boom}}
	o := taxOrder(nil)
	_, err := c.Calculate(context.Background(), o, c.Subjects(o, nil, decimal.Zero))
	require.ErrorIs(t, err, boom)
}

func TestMatchZoneOrdersByPriority(t *testing.T) {
	zones := []tax.Zone{
		{ID: "country", Countries: []string{"US"}, Priority: 2},
		{ID: "state", Countries: []string{"US"}, States: []string{"NY"}, Priority: 1},
	}
	require.Equal(t, "state", tax.MatchZone(zones, order.Address{CountryCode: "US", StateCode: "NY"}))
	require.Equal(t, "country", tax.MatchZone(zones, order.Address{CountryCode: "US", StateCode: "TX"}))
	require.Equal(t, "", tax.MatchZone(zones, order.Address{CountryCode: "DE"}))
}
