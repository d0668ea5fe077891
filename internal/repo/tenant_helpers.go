package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/toko-pricing/internal/tenant"
)

var (
	// ErrTenantMissing indicates the store identifier was not supplied.
	ErrTenantMissing = errors.New("tenant missing")
	// ErrTenantInvalid indicates the store identifier could not be parsed.
	ErrTenantInvalid = errors.New("tenant invalid")
)

func tenantUUIDFromContext(ctx context.Context) (pgtype.UUID, error) {
	storeID, ok := tenant.From(ctx)
	if !ok {
		return pgtype.UUID{}, ErrTenantMissing
	}
	return storeUUID(storeID)
}

func storeUUID(storeID string) (pgtype.UUID, error) {
	if storeID == "" {
		return pgtype.UUID{}, ErrTenantMissing
	}
	parsed, err := uuid.Parse(storeID)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("%w: %v", ErrTenantInvalid, err)
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}
