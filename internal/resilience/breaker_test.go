package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/resilience"
)

var errDown = errors.New("connection refused")

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func fail(context.Context) error { return errDown }
func succeed(context.Context) error { return nil }

func TestBreakerTransitions(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	breaker := resilience.NewBreaker("catalog", 2, 0.5, time.Minute).WithClock(clk.Now)
	ctx := context.Background()

	require.ErrorIs(t, breaker.Do(ctx, fail, nil), errDown)
	require.ErrorIs(t, breaker.Do(ctx, fail, nil), errDown)
	require.Equal(t, resilience.Open, breaker.State())

	err := breaker.Do(ctx, succeed, nil)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit, "breaker should reject while open")

	clk.now = clk.now.Add(2 * time.Minute)
	require.NoError(t, breaker.Do(ctx, succeed, nil), "probe after cool off")
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	breaker := resilience.NewBreaker("catalog", 1, 0.5, time.Minute).WithClock(clk.Now)
	ctx := context.Background()

	require.Error(t, breaker.Do(ctx, fail, nil))
	require.Equal(t, resilience.Open, breaker.State())

	clk.now = clk.now.Add(time.Minute)
	require.ErrorIs(t, breaker.Do(ctx, fail, nil), errDown)
	require.Equal(t, resilience.Open, breaker.State())
	require.ErrorIs(t, breaker.Do(ctx, succeed, nil), resilience.ErrOpenCircuit)
}

func TestBreakerIgnoresHealthyErrors(t *testing.T) {
	breaker := resilience.NewBreaker("catalog", 1, 0.5, time.Minute)
	notFound := func(context.Context) error { return catalog.ErrNotFound }
	healthy := func(err error) bool { return !errors.Is(err, catalog.ErrNotFound) }

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, breaker.Do(context.Background(), notFound, healthy), catalog.ErrNotFound)
	}
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestNilBreakerPassesThrough(t *testing.T) {
	var breaker *resilience.Breaker
	require.ErrorIs(t, breaker.Do(context.Background(), fail, nil), errDown)
}

type flakyCatalog struct {
	err   error
	calls int
}

func (f *flakyCatalog) GetPurchasable(context.Context, string, string) (catalog.Purchasable, error) {
	f.calls++
	if f.err != nil {
		return catalog.Purchasable{}, f.err
	}
	return catalog.Purchasable{ID: "mug"}, nil
}

func (f *flakyCatalog) GetApplicablePricingRules(context.Context, string, []string, string, time.Time) ([]catalog.PricingRule, error) {
	f.calls++
	return nil, f.err
}

func TestGuardedCatalogShortCircuits(t *testing.T) {
	backing := &flakyCatalog{err: errDown}
	guarded := resilience.Catalog{
		Lookup:  backing,
		Rules:   backing,
		Breaker: resilience.NewBreaker("catalog", 2, 0.5, time.Minute),
	}
	ctx := context.Background()

	_, err := guarded.GetPurchasable(ctx, "mug", "store-1")
	require.ErrorIs(t, err, errDown)
	_, err = guarded.GetApplicablePricingRules(ctx, "mug", nil, "USD", time.Now())
	require.ErrorIs(t, err, errDown)

	_, err = guarded.GetPurchasable(ctx, "mug", "store-1")
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, 2, backing.calls)
}

func TestGuardedCatalogTreatsNotFoundAsHealthy(t *testing.T) {
	backing := &flakyCatalog{err: catalog.ErrNotFound}
	guarded := resilience.Catalog{Lookup: backing, Rules: backing, Breaker: resilience.NewBreaker("catalog", 1, 0.5, time.Minute)}

	for i := 0; i < 3; i++ {
		_, err := guarded.GetPurchasable(context.Background(), "ghost", "store-1")
		require.ErrorIs(t, err, catalog.ErrNotFound)
	}
	require.Equal(t, 3, backing.calls)

	backing.err = nil
	p, err := guarded.GetPurchasable(context.Background(), "mug", "store-1")
	require.NoError(t, err)
	require.Equal(t, "mug", p.ID)
}
