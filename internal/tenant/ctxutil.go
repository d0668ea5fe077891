// Package tenant scopes work to a single storefront.
package tenant

import (
	"context"
	"strings"
)

type contextKey string

const storeContextKey contextKey = "tenant.store"

// With stores the store identifier on the context.
func With(ctx context.Context, storeID string) context.Context {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return ctx
	}
	return context.WithValue(ctx, storeContextKey, storeID)
}

// From returns the store identifier carried by the context.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(storeContextKey).(string)
	return id, ok && id != ""
}
