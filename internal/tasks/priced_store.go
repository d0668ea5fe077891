package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/tenant"
)

// PricedStore keeps the latest priced order of each cart in Redis.
type PricedStore struct {
	R   redis.Cmdable
	TTL time.Duration
}

// PricedKey is the Redis key of an order's priced result.
func PricedKey(storeID, orderID string) string {
	return tenant.Key(storeID, "priced", orderID)
}

// Save stores the priced order as JSON.
func (s PricedStore) Save(ctx context.Context, p pricing.PricedOrder) error {
	if s.R == nil {
		return errors.New("priced store not configured")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.R.Set(ctx, PricedKey(p.Order.StoreID, p.Order.ID), data, s.TTL).Err()
}

// Load returns the stored priced order and whether it existed.
func (s PricedStore) Load(ctx context.Context, storeID, orderID string) (pricing.PricedOrder, bool, error) {
	if s.R == nil {
		return pricing.PricedOrder{}, false, errors.New("priced store not configured")
	}
	data, err := s.R.Get(ctx, PricedKey(storeID, orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return pricing.PricedOrder{}, false, nil
		}
		return pricing.PricedOrder{}, false, err
	}
	var p pricing.PricedOrder
	if err := json.Unmarshal(data, &p); err != nil {
		return pricing.PricedOrder{}, false, err
	}
	return p, true, nil
}
