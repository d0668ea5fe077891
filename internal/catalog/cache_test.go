package catalog_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/catalog"
)

func TestCachedLookupServesFromRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backing := &fakeCatalog{items: map[string]catalog.Purchasable{"mug": mug()}}
	lookup := catalog.CachedLookup{Next: backing, Cache: catalog.NewCache(client, time.Minute)}
	ctx := context.Background()

	first, err := lookup.GetPurchasable(ctx, "mug", "store-1")
	require.NoError(t, err)
	second, err := lookup.GetPurchasable(ctx, "mug", "store-1")
	require.NoError(t, err)

	require.Equal(t, 1, backing.calls)
	require.Equal(t, first.SKU, second.SKU)
	require.True(t, first.Prices["USD"].Equal(second.Prices["USD"]))
	require.True(t, mr.Exists(catalog.PurchasableKey("store-1", "mug")))

	mr.FastForward(2 * time.Minute)
	_, err = lookup.GetPurchasable(ctx, "mug", "store-1")
	require.NoError(t, err)
	require.Equal(t, 2, backing.calls)
}

func TestCachedLookupDoesNotCacheMisses(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lookup := catalog.CachedLookup{Next: &fakeCatalog{}, Cache: catalog.NewCache(client, time.Minute)}
	_, err = lookup.GetPurchasable(context.Background(), "ghost", "store-1")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.False(t, mr.Exists(catalog.PurchasableKey("store-1", "ghost")))
}

func TestCachedLookupWithoutRedisFallsThrough(t *testing.T) {
	backing := &fakeCatalog{items: map[string]catalog.Purchasable{"mug": mug()}}
	lookup := catalog.CachedLookup{Next: backing}
	_, err := lookup.GetPurchasable(context.Background(), "mug", "")
	require.NoError(t, err)
	_, err = lookup.GetPurchasable(context.Background(), "mug", "")
	require.NoError(t, err)
	require.Equal(t, 2, backing.calls)
}
