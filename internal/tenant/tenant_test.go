package tenant_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/tenant"
)

func TestContextRoundTrip(t *testing.T) {
	_, ok := tenant.From(context.Background())
	require.False(t, ok)

	ctx := tenant.With(context.Background(), " store-9 ")
	id, ok := tenant.From(ctx)
	require.True(t, ok)
	require.Equal(t, "store-9", id)

	require.Equal(t, context.Background(), tenant.With(context.Background(), ""))
}

func TestKeys(t *testing.T) {
	require.Equal(t, "purchasable:p1", tenant.PrefixKey("", "purchasable:p1"))
	require.Equal(t, "s1:purchasable:p1", tenant.PrefixKey("s1", "purchasable:p1"))
	require.Equal(t, "s1:lock:cart:c1", tenant.Key("s1", "lock", "cart", "c1"))
}
