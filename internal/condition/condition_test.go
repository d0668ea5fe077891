package condition_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/condition"
)

func TestParseOperatorAcceptsSymbols(t *testing.T) {
	cases := map[string]condition.Operator{
		"=": condition.Eq, "!=": condition.Ne, "<": condition.Lt,
		"<=": condition.Le, ">": condition.Gt, ">=": condition.Ge, "GE": condition.Ge,
	}
	for raw, want := range cases {
		got, err := condition.ParseOperator(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	_, err := condition.ParseOperator("~=")
	require.True(t, errors.Is(err, condition.ErrUnknownOperator))
}

func TestMatchEvaluatesEveryOperator(t *testing.T) {
	facts := condition.Facts{
		ItemSubtotal:  decimal.RequireFromString("150.00"),
		TotalQuantity: 3,
		TotalPrice:    decimal.RequireFromString("140.00"),
		TotalWeight:   decimal.RequireFromString("2.5"),
	}
	cases := []struct {
		expr condition.Expr
		want bool
	}{
		{condition.Expr{Attribute: condition.ItemSubtotal, Operator: condition.Gt, Value: decimal.NewFromInt(100)}, true},
		{condition.Expr{Attribute: condition.ItemSubtotal, Operator: condition.Lt, Value: decimal.NewFromInt(100)}, false},
		{condition.Expr{Attribute: condition.TotalQuantity, Operator: condition.Eq, Value: decimal.NewFromInt(3)}, true},
		{condition.Expr{Attribute: condition.TotalQuantity, Operator: condition.Ne, Value: decimal.NewFromInt(3)}, false},
		{condition.Expr{Attribute: condition.TotalPrice, Operator: condition.Le, Value: decimal.RequireFromString("140.00")}, true},
		{condition.Expr{Attribute: condition.TotalWeight, Operator: condition.Ge, Value: decimal.NewFromInt(3)}, false},
	}
	for _, tc := range cases {
		got, err := condition.Match(condition.Set{tc.expr}, facts)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "%s %s %s", tc.expr.Attribute, tc.expr.Operator, tc.expr.Value)
	}
}

func TestMatchAcceptsSymbolOperators(t *testing.T) {
	facts := condition.Facts{ItemSubtotal: decimal.RequireFromString("10.00")}
	cases := map[condition.Operator]bool{
		"=": false, "!=": true, "<": false, "<=": false, ">": true, ">=": true,
	}
	for op, want := range cases {
		set := condition.Set{{Attribute: condition.ItemSubtotal, Operator: op, Value: decimal.NewFromInt(5)}}
		require.NoError(t, set.Validate(), op)
		got, err := condition.Match(set, facts)
		require.NoError(t, err, op)
		require.Equal(t, want, got, op)
	}

	set := condition.Set{{Attribute: "ITEM_SUBTOTAL", Operator: "==", Value: decimal.NewFromInt(10)}}
	require.NoError(t, set.Validate())
	got, err := condition.Match(set, facts)
	require.NoError(t, err)
	require.True(t, got)
}

func TestMatchEmptySetAlwaysMatches(t *testing.T) {
	ok, err := condition.Match(nil, condition.Facts{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatchReportsMalformedExpression(t *testing.T) {
	set := condition.Set{
		{Attribute: condition.ItemSubtotal, Operator: condition.Lt, Value: decimal.Zero},
		{Attribute: condition.ItemSubtotal, Operator: "between", Value: decimal.Zero},
	}
	_, err := condition.Match(set, condition.Facts{})
	require.True(t, errors.Is(err, condition.ErrUnknownOperator))
	require.Error(t, set.Validate())

	_, err = condition.Match(condition.Set{{Attribute: "colour", Operator: condition.Eq}}, condition.Facts{})
	require.True(t, errors.Is(err, condition.ErrUnknownAttribute))
}

func TestMatchGroups(t *testing.T) {
	anyOf := condition.GroupCondition{Mode: condition.AnyGroup, Groups: []string{"vip", "staff"}}
	allOf := condition.GroupCondition{Mode: condition.AllGroup, Groups: []string{"vip", "staff"}}

	ok, err := condition.MatchGroups(anyOf, []string{"staff"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = condition.MatchGroups(allOf, []string{"staff"})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = condition.MatchGroups(allOf, []string{"vip", "staff", "wholesale"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = condition.MatchGroups(condition.GroupCondition{}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = condition.MatchGroups(condition.GroupCondition{Mode: "most", Groups: []string{"vip"}}, nil)
	require.True(t, errors.Is(err, condition.ErrUnknownGroupMode))
}
