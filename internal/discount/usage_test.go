package discount_test

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/tenant"
)

func newUsageStore(t *testing.T) discount.RedisUsageStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return discount.RedisUsageStore{R: client, StoreID: "s1"}
}

func TestRedeemIsIdempotentPerOrder(t *testing.T) {
	store := newUsageStore(t)
	ctx := context.Background()

	usage, err := store.GetCouponUsage(ctx, "save2", "c1")
	require.NoError(t, err)
	require.Equal(t, discount.Usage{}, usage)

	req := discount.RedeemRequest{OrderID: "o1", Code: "save2", CustomerID: "c1"}
	require.NoError(t, store.Redeem(ctx, req))
	require.True(t, errors.Is(store.Redeem(ctx, req), discount.ErrAlreadyRedeemed))

	usage, err = store.GetCouponUsage(ctx, "SAVE2", "c1")
	require.NoError(t, err)
	require.Equal(t, discount.Usage{Total: 1, Customer: 1}, usage)

	require.NoError(t, store.Redeem(ctx, discount.RedeemRequest{OrderID: "o2", Code: "SAVE2"}))
	usage, err = store.GetCouponUsage(ctx, "SAVE2", "c1")
	require.NoError(t, err)
	require.Equal(t, discount.Usage{Total: 2, Customer: 1}, usage)
}

func TestRedeemEnforcesLimits(t *testing.T) {
	store := newUsageStore(t)
	ctx := context.Background()

	require.NoError(t, store.Redeem(ctx, discount.RedeemRequest{OrderID: "o1", Code: "ONCE", CustomerID: "c1", PerCustomerLimit: 1}))
	err := store.Redeem(ctx, discount.RedeemRequest{OrderID: "o2", Code: "ONCE", CustomerID: "c1", PerCustomerLimit: 1})
	require.True(t, errors.Is(err, discount.ErrPerCustomerLimitReached))

	require.NoError(t, store.Redeem(ctx, discount.RedeemRequest{OrderID: "o3", Code: "CAP", MaxUses: 1}))
	err = store.Redeem(ctx, discount.RedeemRequest{OrderID: "o4", Code: "CAP", MaxUses: 1})
	require.True(t, errors.Is(err, discount.ErrUsageLimitReached))
	require.True(t, errors.Is(err, discount.ErrInvalidCoupon))
}

func TestUsageIsScopedPerStore(t *testing.T) {
	store := newUsageStore(t)
	ctx := context.Background()
	require.NoError(t, store.Redeem(ctx, discount.RedeemRequest{StoreID: "s2", OrderID: "o1", Code: "X"}))

	usage, err := store.GetCouponUsage(ctx, "X", "")
	require.NoError(t, err)
	require.Zero(t, usage.Total)

	usage, err = store.GetCouponUsage(tenant.With(ctx, "s2"), "X", "")
	require.NoError(t, err)
	require.Equal(t, 1, usage.Total)
}

func TestRedeemValidatesRequest(t *testing.T) {
	store := newUsageStore(t)
	require.Error(t, store.Redeem(context.Background(), discount.RedeemRequest{Code: "X"}))
	require.Error(t, discount.RedisUsageStore{}.Redeem(context.Background(), discount.RedeemRequest{OrderID: "o", Code: "X"}))
}
