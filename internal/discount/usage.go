package discount

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pricing/internal/tenant"
)

// ErrAlreadyRedeemed is returned when an order has already recorded its coupon usage.
var ErrAlreadyRedeemed = errors.New("coupon already redeemed for order")

// RedeemRequest identifies one coupon redemption at order completion.
type RedeemRequest struct {
	StoreID          string `json:"store_id"`
	OrderID          string `json:"order_id"`
	Code             string `json:"code"`
	CustomerID       string `json:"customer_id,omitempty"`
	MaxUses          int    `json:"max_uses,omitempty"`
	PerCustomerLimit int    `json:"per_customer_limit,omitempty"`
}

// RedisUsageStore keeps coupon counters in a Redis hash per code. Keys are
// scoped by the store found on the context, falling back to StoreID.
type RedisUsageStore struct {
	R       *redis.Client
	StoreID string
}

func (s RedisUsageStore) store(ctx context.Context) string {
	if id, ok := tenant.From(ctx); ok {
		return id
	}
	return s.StoreID
}

const redeemScript = `if redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 1 then
  return 0
end
local total = tonumber(redis.call("HGET", KEYS[1], "total") or "0")
if tonumber(ARGV[3]) > 0 and total >= tonumber(ARGV[3]) then
  return -1
end
if ARGV[2] ~= "" and tonumber(ARGV[4]) > 0 then
  local used = tonumber(redis.call("HGET", KEYS[1], "customer:" .. ARGV[2]) or "0")
  if used >= tonumber(ARGV[4]) then
    return -2
  end
end
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("HINCRBY", KEYS[1], "total", 1)
if ARGV[2] ~= "" then
  redis.call("HINCRBY", KEYS[1], "customer:" .. ARGV[2], 1)
end
return 1`

func (s RedisUsageStore) usageKey(storeID, code string) string {
	return tenant.Key(storeID, "coupon", "usage", NormalizeCode(code))
}

func (s RedisUsageStore) redeemedKey(storeID, code string) string {
	return tenant.Key(storeID, "coupon", "redeemed", NormalizeCode(code))
}

// GetCouponUsage implements UsageReader. It only reads.
func (s RedisUsageStore) GetCouponUsage(ctx context.Context, code, customerID string) (Usage, error) {
	if s.R == nil {
		return Usage{}, errors.New("coupon usage store not configured")
	}
	fields := []string{"total"}
	if customerID != "" {
		fields = append(fields, "customer:"+customerID)
	}
	vals, err := s.R.HMGet(ctx, s.usageKey(s.store(ctx), code), fields...).Result()
	if err != nil {
		return Usage{}, err
	}
	var usage Usage
	if usage.Total, err = counter(vals, 0); err != nil {
		return Usage{}, err
	}
	if usage.Customer, err = counter(vals, 1); err != nil {
		return Usage{}, err
	}
	return usage, nil
}

// Redeem records one use of the coupon for the order. Counters are checked and
// incremented in a single script, and replays for the same order are no-ops
// reported as ErrAlreadyRedeemed.
func (s RedisUsageStore) Redeem(ctx context.Context, req RedeemRequest) error {
	if s.R == nil {
		return errors.New("coupon usage store not configured")
	}
	if req.OrderID == "" || NormalizeCode(req.Code) == "" {
		return errors.New("coupon redemption requires order id and code")
	}
	storeID := req.StoreID
	if storeID == "" {
		storeID = s.store(ctx)
	}
	keys := []string{s.usageKey(storeID, req.Code), s.redeemedKey(storeID, req.Code)}
	res, err := s.R.Eval(ctx, redeemScript, keys, req.OrderID, req.CustomerID, req.MaxUses, req.PerCustomerLimit).Int()
	if err != nil {
		return fmt.Errorf("redeem coupon %s: %w", NormalizeCode(req.Code), err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrAlreadyRedeemed
	case -1:
		return &InvalidCouponError{Code: NormalizeCode(req.Code), Err: ErrUsageLimitReached}
	default:
		return &InvalidCouponError{Code: NormalizeCode(req.Code), Err: ErrPerCustomerLimitReached}
	}
}

func counter(vals []any, idx int) (int, error) {
	if idx >= len(vals) || vals[idx] == nil {
		return 0, nil
	}
	raw, ok := vals[idx].(string)
	if !ok {
		return 0, fmt.Errorf("unexpected counter type %T", vals[idx])
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse counter: %w", err)
	}
	return n, nil
}
