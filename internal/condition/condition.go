// Package condition implements the closed rule-matching expressions shared by
// discounts and shipping rules.
package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownOperator is returned when a rule references an operator outside the closed set.
	ErrUnknownOperator = errors.New("unknown condition operator")
	// ErrUnknownAttribute is returned when a rule references an unsupported order attribute.
	ErrUnknownAttribute = errors.New("unknown condition attribute")
	// ErrUnknownGroupMode is returned for customer group conditions that are neither any nor all.
	ErrUnknownGroupMode = errors.New("unknown customer group mode")
)

// Attribute identifies an order-level fact a condition compares against.
type Attribute string

const (
	ItemSubtotal  Attribute = "item_subtotal"
	TotalQuantity Attribute = "total_quantity"
	TotalPrice    Attribute = "total_price"
	TotalWeight   Attribute = "total_weight"
)

// Operator is a numeric comparison.
type Operator string

const (
	Eq Operator = "eq"
	Ne Operator = "ne"
	Lt Operator = "lt"
	Le Operator = "le"
	Gt Operator = "gt"
	Ge Operator = "ge"
)

// ParseOperator accepts either the short name or the comparison symbol.
func ParseOperator(raw string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "eq", "=", "==":
		return Eq, nil
	case "ne", "!=", "<>":
		return Ne, nil
	case "lt", "<":
		return Lt, nil
	case "le", "<=":
		return Le, nil
	case "gt", ">":
		return Gt, nil
	case "ge", ">=":
		return Ge, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperator, raw)
	}
}

// ParseAttribute validates an attribute name.
func ParseAttribute(raw string) (Attribute, error) {
	attr := Attribute(strings.ToLower(strings.TrimSpace(raw)))
	switch attr {
	case ItemSubtotal, TotalQuantity, TotalPrice, TotalWeight:
		return attr, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, raw)
	}
}

// Expr compares one order attribute against a constant.
type Expr struct {
	Attribute Attribute       `json:"attribute"`
	Operator  Operator        `json:"operator"`
	Value     decimal.Decimal `json:"value"`
}

// Set is a conjunction of expressions. An empty set always matches.
type Set []Expr

// Facts are the order attributes a condition can observe.
type Facts struct {
	ItemSubtotal  decimal.Decimal
	TotalQuantity int64
	TotalPrice    decimal.Decimal
	TotalWeight   decimal.Decimal
}

func (f Facts) value(attr Attribute) (decimal.Decimal, error) {
	switch attr {
	case ItemSubtotal:
		return f.ItemSubtotal, nil
	case TotalQuantity:
		return decimal.NewFromInt(f.TotalQuantity), nil
	case TotalPrice:
		return f.TotalPrice, nil
	case TotalWeight:
		return f.TotalWeight, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
}

// Eval evaluates a single expression. Operators may be given by short name or
// by symbol.
func Eval(e Expr, facts Facts) (bool, error) {
	attr, err := ParseAttribute(string(e.Attribute))
	if err != nil {
		return false, err
	}
	left, err := facts.value(attr)
	if err != nil {
		return false, err
	}
	op, err := ParseOperator(string(e.Operator))
	if err != nil {
		return false, err
	}
	cmp := left.Cmp(e.Value)
	switch op {
	case Eq:
		return cmp == 0, nil
	case Ne:
		return cmp != 0, nil
	case Lt:
		return cmp < 0, nil
	case Le:
		return cmp <= 0, nil
	case Gt:
		return cmp > 0, nil
	case Ge:
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, e.Operator)
	}
}

// Match reports whether every expression in the set holds. Malformed
// expressions are reported even when an earlier expression already failed.
func Match(set Set, facts Facts) (bool, error) {
	matched := true
	for _, e := range set {
		ok, err := Eval(e, facts)
		if err != nil {
			return false, err
		}
		if !ok {
			matched = false
		}
	}
	return matched, nil
}

// Validate checks that every expression uses a known attribute and operator.
func (s Set) Validate() error {
	for i, e := range s {
		if _, err := ParseAttribute(string(e.Attribute)); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
		if _, err := ParseOperator(string(e.Operator)); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}
