// Package discount matches configured discounts against an order and computes
// the discount adjustments for one pricing pass.
package discount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/condition"
	"github.com/noah-isme/toko-pricing/internal/order"
)

var (
	// ErrMalformedDiscount is returned when a discount cannot be evaluated.
	ErrMalformedDiscount = errors.New("malformed discount")
	// ErrInvalidCoupon matches every InvalidCouponError.
	ErrInvalidCoupon = errors.New("invalid coupon")
	// ErrCouponNotFound indicates no enabled discount carries the code.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponExpired is returned when the coupon is past its expiry.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponInactive is returned when the discount behind the coupon is outside its active window.
	ErrCouponInactive = errors.New("coupon not active")
	// ErrUsageLimitReached indicates the coupon has exhausted the global usage quota.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrPerCustomerLimitReached indicates the customer has exceeded the per-customer allowance.
	ErrPerCustomerLimitReached = errors.New("coupon per-customer usage limit reached")
	// ErrCustomerRequired is returned for per-customer limited coupons on guest orders.
	ErrCustomerRequired = errors.New("coupon requires an identified customer")
)

// InvalidCouponError describes why a coupon code was rejected.
type InvalidCouponError struct {
	Code string
	Err  error
}

func (e *InvalidCouponError) Error() string {
	return fmt.Sprintf("coupon %q: %v", e.Code, e.Err)
}

// Is makes errors.Is(err, ErrInvalidCoupon) hold.
func (e *InvalidCouponError) Is(target error) bool { return target == ErrInvalidCoupon }

// Unwrap exposes the specific rejection reason.
func (e *InvalidCouponError) Unwrap() error { return e.Err }

var couponReasons = []error{
	ErrCouponNotFound,
	ErrCouponExpired,
	ErrCouponInactive,
	ErrUsageLimitReached,
	ErrPerCustomerLimitReached,
	ErrCustomerRequired,
}

type invalidCouponJSON struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// MarshalJSON encodes the code and the rejection reason text.
func (e *InvalidCouponError) MarshalJSON() ([]byte, error) {
	out := invalidCouponJSON{Code: e.Code}
	if e.Err != nil {
		out.Reason = e.Err.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the error, mapping known reasons back to their
// sentinel so errors.Is keeps working after a round trip.
func (e *InvalidCouponError) UnmarshalJSON(data []byte) error {
	var in invalidCouponJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	e.Code = in.Code
	e.Err = nil
	if in.Reason == "" {
		return nil
	}
	for _, reason := range couponReasons {
		if reason.Error() == in.Reason {
			e.Err = reason
			return nil
		}
	}
	e.Err = errors.New(in.Reason)
	return nil
}

// Kind is the way a discount computes its amount.
type Kind string

const (
	// Percent multiplies the scoped subtotal by Rate.
	Percent Kind = "percent"
	// Flat takes a fixed Amount off.
	Flat Kind = "flat"
)

// Coupon is a code that unlocks the discount it belongs to.
type Coupon struct {
	Code             string     `json:"code"`
	MaxUses          int        `json:"max_uses,omitempty"`
	PerCustomerLimit int        `json:"per_customer_limit,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// Usage holds coupon redemption counters.
type Usage struct {
	Total    int `json:"total"`
	Customer int `json:"customer"`
}

// Discount is a configured promotion.
type Discount struct {
	ID               string                   `json:"id"`
	Name             string                   `json:"name"`
	Enabled          bool                     `json:"enabled"`
	Priority         int                      `json:"priority"`
	Exclusive        bool                     `json:"exclusive"`
	Conditions       condition.Set            `json:"conditions,omitempty"`
	Groups           condition.GroupCondition `json:"groups"`
	PurchasableIDs   []string                 `json:"purchasable_ids,omitempty"`
	CategoryIDs      []string                 `json:"category_ids,omitempty"`
	Coupons          []Coupon                 `json:"coupons,omitempty"`
	Kind             Kind                     `json:"kind"`
	Rate             decimal.Decimal          `json:"rate"`
	Amount           decimal.Decimal          `json:"amount"`
	PerItem          bool                     `json:"per_item"`
	FlatOncePerLine  bool                     `json:"flat_once_per_line"`
	StartsAt         *time.Time               `json:"starts_at,omitempty"`
	EndsAt           *time.Time               `json:"ends_at,omitempty"`
	IgnorePromotable bool                     `json:"ignore_promotable"`
}

// Validate reports configuration the engine cannot evaluate.
func (d Discount) Validate() error {
	if err := d.Conditions.Validate(); err != nil {
		return fmt.Errorf("%w %s: %w", ErrMalformedDiscount, d.ID, err)
	}
	switch d.Groups.Mode {
	case "", condition.AnyGroup, condition.AllGroup:
	default:
		return fmt.Errorf("%w %s: %w: %q", ErrMalformedDiscount, d.ID, condition.ErrUnknownGroupMode, d.Groups.Mode)
	}
	switch d.Kind {
	case Percent:
		if d.Rate.IsNegative() || d.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w %s: rate must be within [0, 1]", ErrMalformedDiscount, d.ID)
		}
	case Flat:
		if d.Amount.IsNegative() {
			return fmt.Errorf("%w %s: negative amount", ErrMalformedDiscount, d.ID)
		}
	default:
		return fmt.Errorf("%w %s: unknown kind %q", ErrMalformedDiscount, d.ID, d.Kind)
	}
	return nil
}

// ActiveAt reports whether the discount's window covers now.
func (d Discount) ActiveAt(now time.Time) bool {
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return false
	}
	return true
}

// RequiresCoupon reports whether the discount only applies with a code.
func (d Discount) RequiresCoupon() bool {
	return len(d.Coupons) > 0
}

// Coupon returns the coupon matching code, compared case-insensitively.
func (d Discount) Coupon(code string) (Coupon, bool) {
	for _, c := range d.Coupons {
		if NormalizeCode(c.Code) == code {
			return c, true
		}
	}
	return Coupon{}, false
}

// InScope reports whether a line item is covered by the discount's scope.
func (d Discount) InScope(li order.LineItem) bool {
	if !li.Snapshot.Promotable && !d.IgnorePromotable {
		return false
	}
	if len(d.PurchasableIDs) == 0 && len(d.CategoryIDs) == 0 {
		return true
	}
	for _, id := range d.PurchasableIDs {
		if id == li.Snapshot.ID {
			return true
		}
	}
	return li.Snapshot.InCategory(d.CategoryIDs)
}

func (d Discount) description() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	return "Discount " + d.ID
}

// NormalizeCode canonicalises a coupon code for comparison and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup returns the enabled discounts of a store.
type Lookup interface {
	GetEnabledDiscounts(ctx context.Context, storeID string) ([]Discount, error)
}

// UsageReader reads coupon usage counters. Implementations must not mutate state.
type UsageReader interface {
	GetCouponUsage(ctx context.Context, code, customerID string) (Usage, error)
}

// ValidateCoupon checks a coupon against its counters at the given instant.
func ValidateCoupon(c Coupon, d Discount, usage Usage, customerID string, now time.Time) error {
	if !d.ActiveAt(now) {
		return ErrCouponInactive
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return ErrCouponExpired
	}
	if c.MaxUses > 0 && usage.Total >= c.MaxUses {
		return ErrUsageLimitReached
	}
	if c.PerCustomerLimit > 0 {
		if strings.TrimSpace(customerID) == "" {
			return ErrCustomerRequired
		}
		if usage.Customer >= c.PerCustomerLimit {
			return ErrPerCustomerLimitReached
		}
	}
	return nil
}
