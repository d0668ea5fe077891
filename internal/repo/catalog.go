// Package repo reads catalog data from Postgres.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/money"
)

// DBTX is the subset of pgx used by the repositories. *pgxpool.Pool, *pgx.Conn
// and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const getPurchasable = `
SELECT id, sku, description, tax_category_id, shipping_category_id, category_ids,
       weight::text, available, promotable, free_shipping, shippable
FROM purchasables
WHERE tenant_id = $1 AND id = $2`

const listPurchasablePrices = `
SELECT currency, amount::text
FROM purchasable_prices
WHERE tenant_id = $1 AND purchasable_id = $2
ORDER BY currency`

const listPricingRules = `
SELECT id, kind, value::text, COALESCE(currency, ''), purchasable_ids, category_ids,
       customer_groups, starts_at, ends_at, min_qty, exclusive
FROM pricing_rules
WHERE tenant_id = $1
  AND (currency IS NULL OR currency = $2)
  AND (starts_at IS NULL OR starts_at <= $3)
  AND (ends_at IS NULL OR ends_at >= $3)
  AND (cardinality(customer_groups) = 0 OR customer_groups && $4::text[])
  AND (cardinality(purchasable_ids) = 0 OR $5 = ANY(purchasable_ids) OR cardinality(category_ids) > 0)
ORDER BY id`

// CatalogRepo serves purchasables and pricing rules of a store.
type CatalogRepo struct {
	DB DBTX
}

var (
	_ catalog.Lookup     = CatalogRepo{}
	_ catalog.RuleLookup = CatalogRepo{}
)

// GetPurchasable implements catalog.Lookup.
func (r CatalogRepo) GetPurchasable(ctx context.Context, id, storeID string) (catalog.Purchasable, error) {
	if r.DB == nil {
		return catalog.Purchasable{}, errors.New("catalog repo not configured")
	}
	tid, err := storeUUID(storeID)
	if err != nil {
		return catalog.Purchasable{}, err
	}

	var (
		p      catalog.Purchasable
		weight string
	)
	err = r.DB.QueryRow(ctx, getPurchasable, tid, id).Scan(
		&p.ID, &p.SKU, &p.Description, &p.TaxCategoryID, &p.ShippingCategoryID, &p.CategoryIDs,
		&weight, &p.Available, &p.Promotable, &p.FreeShipping, &p.Shippable,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Purchasable{}, catalog.ErrNotFound
		}
		return catalog.Purchasable{}, fmt.Errorf("get purchasable %s: %w", id, err)
	}
	if p.Weight, err = decimal.NewFromString(weight); err != nil {
		return catalog.Purchasable{}, fmt.Errorf("purchasable %s weight: %w", id, err)
	}

	rows, err := r.DB.Query(ctx, listPurchasablePrices, tid, id)
	if err != nil {
		return catalog.Purchasable{}, fmt.Errorf("list prices %s: %w", id, err)
	}
	defer rows.Close()
	p.Prices = map[string]decimal.Decimal{}
	for rows.Next() {
		var code, amount string
		if err := rows.Scan(&code, &amount); err != nil {
			return catalog.Purchasable{}, err
		}
		v, err := money.ParseCatalogPrice(amount)
		if err != nil {
			return catalog.Purchasable{}, fmt.Errorf("purchasable %s price %s: %w", id, code, err)
		}
		p.Prices[strings.ToUpper(strings.TrimSpace(code))] = v
	}
	if err := rows.Err(); err != nil {
		return catalog.Purchasable{}, err
	}
	return p, nil
}

// GetApplicablePricingRules implements catalog.RuleLookup for the store
// carried by ctx.
func (r CatalogRepo) GetApplicablePricingRules(ctx context.Context, purchasableID string, groups []string, currency string, asOf time.Time) ([]catalog.PricingRule, error) {
	if r.DB == nil {
		return nil, errors.New("catalog repo not configured")
	}
	tid, err := tenantUUIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []string{}
	}
	rows, err := r.DB.Query(ctx, listPricingRules, tid, currency, asOf, groups, purchasableID)
	if err != nil {
		return nil, fmt.Errorf("list pricing rules: %w", err)
	}
	defer rows.Close()

	var out []catalog.PricingRule
	for rows.Next() {
		var (
			rule  catalog.PricingRule
			kind  string
			value string
		)
		if err := rows.Scan(&rule.ID, &kind, &value, &rule.Currency, &rule.PurchasableIDs, &rule.CategoryIDs,
			&rule.CustomerGroups, &rule.StartsAt, &rule.EndsAt, &rule.MinQty, &rule.Exclusive); err != nil {
			return nil, err
		}
		rule.Kind = catalog.RuleKind(kind)
		if rule.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("pricing rule %s value: %w", rule.ID, err)
		}
		rule.Currency = strings.TrimSpace(rule.Currency)
		out = append(out, rule)
	}
	return out, rows.Err()
}

const upsertPurchasable = `
INSERT INTO purchasables (tenant_id, id, sku, description, tax_category_id, shipping_category_id,
                          category_ids, weight, available, promotable, free_shipping, shippable)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12)
ON CONFLICT (tenant_id, id) DO UPDATE SET
    sku = EXCLUDED.sku,
    description = EXCLUDED.description,
    tax_category_id = EXCLUDED.tax_category_id,
    shipping_category_id = EXCLUDED.shipping_category_id,
    category_ids = EXCLUDED.category_ids,
    weight = EXCLUDED.weight,
    available = EXCLUDED.available,
    promotable = EXCLUDED.promotable,
    free_shipping = EXCLUDED.free_shipping,
    shippable = EXCLUDED.shippable`

const deletePurchasablePrices = `DELETE FROM purchasable_prices WHERE tenant_id = $1 AND purchasable_id = $2`

const insertPurchasablePrice = `
INSERT INTO purchasable_prices (tenant_id, purchasable_id, currency, amount)
VALUES ($1, $2, $3, $4::numeric)`

// UpsertPurchasable writes a purchasable and replaces its prices. Callers
// wanting atomicity pass a pgx.Tx as DB.
func (r CatalogRepo) UpsertPurchasable(ctx context.Context, storeID string, p catalog.Purchasable) error {
	if r.DB == nil {
		return errors.New("catalog repo not configured")
	}
	tid, err := storeUUID(storeID)
	if err != nil {
		return err
	}
	categories := p.CategoryIDs
	if categories == nil {
		categories = []string{}
	}
	if _, err := r.DB.Exec(ctx, upsertPurchasable, tid, p.ID, p.SKU, p.Description, p.TaxCategoryID,
		p.ShippingCategoryID, categories, p.Weight.String(), p.Available, p.Promotable, p.FreeShipping, p.Shippable); err != nil {
		return fmt.Errorf("upsert purchasable %s: %w", p.ID, err)
	}
	if _, err := r.DB.Exec(ctx, deletePurchasablePrices, tid, p.ID); err != nil {
		return fmt.Errorf("clear prices %s: %w", p.ID, err)
	}
	for code, amount := range p.Prices {
		if _, err := r.DB.Exec(ctx, insertPurchasablePrice, tid, p.ID, strings.ToUpper(code), amount.String()); err != nil {
			return fmt.Errorf("insert price %s/%s: %w", p.ID, code, err)
		}
	}
	return nil
}
