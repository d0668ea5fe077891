// Package money provides fixed-point monetary helpers bound to ISO 4217 minor units.
package money

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Amount is a fixed-point monetary value.
type Amount = decimal.Decimal

const (
	// CatalogScale is the number of fractional digits stored for catalog prices.
	CatalogScale int32 = 4
	// DefaultPrecision applies when a currency code is not recognised.
	DefaultPrecision int32 = 2
)

var (
	// ErrInvalidCurrency is returned when a currency code is not a known ISO 4217 code.
	ErrInvalidCurrency = errors.New("invalid currency")
	// ErrInvalidPrice is returned for catalog prices that are negative or finer than CatalogScale.
	ErrInvalidPrice = errors.New("invalid catalog price")
)

// ParseCurrency normalises and validates an ISO 4217 code.
func ParseCurrency(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty code", ErrInvalidCurrency)
	}
	if _, err := currency.ParseISO(normalized); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return normalized, nil
}

// Precision reports the minor-unit digits of the currency.
func Precision(code string) int32 {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return DefaultPrecision
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Round rounds half away from zero at the currency's minor-unit precision.
func Round(amount Amount, code string) Amount {
	return amount.Round(Precision(code))
}

// MustParse parses a decimal literal and panics on malformed input.
func MustParse(value string) Amount {
	return decimal.RequireFromString(value)
}

// ParseCatalogPrice parses a catalog base price. Trailing zeros beyond
// CatalogScale are accepted; any other extra precision is rejected.
func ParseCatalogPrice(value string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w %q: %w", ErrInvalidPrice, value, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w %q: negative", ErrInvalidPrice, value)
	}
	if !d.Equal(d.Truncate(CatalogScale)) {
		return decimal.Zero, fmt.Errorf("%w %q: more than %d fractional digits", ErrInvalidPrice, value, CatalogScale)
	}
	return d, nil
}

// NonNegative floors the amount at zero.
func NonNegative(amount Amount) Amount {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Sum adds the provided amounts.
func Sum(amounts ...Amount) Amount {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Allocate splits amount across weights in whole minor units using the largest
// remainder method. The shares always add up to the rounded amount.
func Allocate(amount Amount, weights []Amount, code string) []Amount {
	out := make([]Amount, len(weights))
	for i := range out {
		out[i] = decimal.Zero
	}
	if len(weights) == 0 || amount.IsZero() {
		return out
	}
	places := Precision(code)
	negative := amount.IsNegative()
	units := amount.Abs().Shift(places).Round(0).IntPart()

	ws := make([]int64, len(weights))
	var total int64
	for i, w := range weights {
		if w.IsPositive() {
			ws[i] = w.Shift(places).Round(0).IntPart()
			total += ws[i]
		}
	}
	for i, share := range allocateUnits(units, ws, total) {
		v := decimal.New(share, -places)
		if negative {
			v = v.Neg()
		}
		out[i] = v
	}
	return out
}

func allocateUnits(amount int64, weights []int64, total int64) []int64 {
	shares := make([]int64, len(weights))
	if total == 0 {
		base := amount / int64(len(weights))
		remainder := amount % int64(len(weights))
		for i := range shares {
			shares[i] = base
			if remainder > 0 {
				shares[i]++
				remainder--
			}
		}
		return shares
	}

	type pair struct {
		idx int
		rem decimal.Decimal
	}
	pairs := make([]pair, len(weights))
	totalD := decimal.NewFromInt(total)
	distributed := int64(0)
	for i, w := range weights {
		q, r := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(w)).QuoRem(totalD, 0)
		shares[i] = q.IntPart()
		distributed += shares[i]
		pairs[i] = pair{idx: i, rem: r}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].rem.GreaterThan(pairs[b].rem)
	})
	left := amount - distributed
	for _, p := range pairs {
		if left == 0 {
			break
		}
		if weights[p.idx] <= 0 {
			continue
		}
		shares[p.idx]++
		left--
	}
	return shares
}
