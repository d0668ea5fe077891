package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/money"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/order"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/shipping"
	"github.com/noah-isme/toko-pricing/internal/tax"
	"github.com/noah-isme/toko-pricing/internal/tenant"
)

// Recalculator prices an order snapshot.
type Recalculator interface {
	Recalculate(ctx context.Context, o order.Order) (pricing.PricedOrder, error)
}

// Redeemer records coupon usage.
type Redeemer interface {
	Redeem(ctx context.Context, req discount.RedeemRequest) error
}

// Handlers process pricing tasks.
type Handlers struct {
	Engine  Recalculator
	Usage   Redeemer
	Locker  lock.Locker
	LockTTL time.Duration
	Priced  PricedStore
	Logger  zerolog.Logger
}

// Register mounts the handlers on mux.
func (h Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRecalculate, h.Recalculate)
	mux.HandleFunc(TypeRedeem, h.Redeem)
}

// Recalculate prices the order while holding its cart lock and stores the
// result.
func (h Handlers) Recalculate(ctx context.Context, t *asynq.Task) error {
	if h.Engine == nil {
		return errors.New("recalculate handler: engine not configured")
	}
	var payload RecalculatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s: %v: %w", TypeRecalculate, err, asynq.SkipRetry)
	}
	o := payload.Order
	ctx = tenant.With(ctx, o.StoreID)
	logger := obs.WithContext(ctx, h.Logger).With().Str("order_id", o.ID).Logger()

	return h.Locker.WithCartLock(ctx, o.StoreID, o.ID, h.lockTTL(), func(ctx context.Context) error {
		priced, err := h.Engine.Recalculate(ctx, o)
		if err != nil {
			if errors.Is(err, pricing.ErrOrderCompleted) {
				logger.Info().Msg("skip recalculation of completed order")
				return nil
			}
			if permanent(err) {
				logger.Error().Err(err).Msg("order cannot be priced")
				return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
			}
			return err
		}
		if err := h.Priced.Save(ctx, priced); err != nil {
			return fmt.Errorf("store priced order: %w", err)
		}
		logger.Debug().
			Str("grand_total", priced.Totals.GrandTotal.String()).
			Str("fingerprint", priced.Fingerprint).
			Int("warnings", len(priced.Warnings)).
			Msg("order priced")
		return nil
	})
}

// Redeem records a coupon use for a completed order. Replays are no-ops.
func (h Handlers) Redeem(ctx context.Context, t *asynq.Task) error {
	if h.Usage == nil {
		return errors.New("redeem handler: usage store not configured")
	}
	var req discount.RedeemRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("decode %s: %v: %w", TypeRedeem, err, asynq.SkipRetry)
	}
	ctx = tenant.With(ctx, req.StoreID)
	logger := obs.WithContext(ctx, h.Logger).With().Str("order_id", req.OrderID).Str("coupon", req.Code).Logger()

	err := h.Usage.Redeem(ctx, req)
	switch {
	case err == nil:
		countRedemption("redeemed")
		return nil
	case errors.Is(err, discount.ErrAlreadyRedeemed):
		countRedemption("duplicate")
		logger.Info().Msg("coupon already redeemed")
		return nil
	case errors.Is(err, discount.ErrInvalidCoupon):
		countRedemption("rejected")
		logger.Warn().Err(err).Msg("coupon redemption rejected")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		countRedemption("error")
		return err
	}
}

func (h Handlers) lockTTL() time.Duration {
	if h.LockTTL > 0 {
		return h.LockTTL
	}
	return 30 * time.Second
}

// permanent reports errors that retrying the same payload cannot fix.
func permanent(err error) bool {
	for _, target := range []error{
		pricing.ErrInvalidLineItem,
		money.ErrInvalidCurrency,
		catalog.ErrNotFound,
		catalog.ErrPriceNotFound,
		catalog.ErrUnknownRuleKind,
		discount.ErrMalformedDiscount,
		shipping.ErrMalformedRule,
		tax.ErrMalformedRate,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func countRedemption(result string) {
	if obs.CouponRedemptionsTotal != nil {
		obs.CouponRedemptionsTotal.WithLabelValues(result).Inc()
	}
}
