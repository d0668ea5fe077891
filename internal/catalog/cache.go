package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/tenant"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// CachedLookup serves purchasables from Redis before falling back to Next.
// Cache failures degrade to a direct lookup.
type CachedLookup struct {
	Next  Lookup
	Cache *Cache
}

// GetPurchasable implements Lookup.
func (l CachedLookup) GetPurchasable(ctx context.Context, id, storeID string) (Purchasable, error) {
	if l.Next == nil {
		return Purchasable{}, errors.New("catalog lookup not configured")
	}
	key := PurchasableKey(storeID, id)
	var cached Purchasable
	if hit, err := l.Cache.GetJSON(ctx, key, &cached); err == nil && hit {
		countCache("hit")
		return cached, nil
	}
	countCache("miss")
	p, err := l.Next.GetPurchasable(ctx, id, storeID)
	if err != nil {
		return Purchasable{}, err
	}
	_ = l.Cache.SetJSON(ctx, key, p)
	return p, nil
}

func countCache(result string) {
	if obs.CatalogCacheTotal != nil {
		obs.CatalogCacheTotal.WithLabelValues(result).Inc()
	}
}

// PurchasableKey is the cache key of a purchasable within a store.
func PurchasableKey(storeID, id string) string {
	return tenant.Key(storeID, "purchasable", id)
}
