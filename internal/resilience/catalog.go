package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/toko-pricing/internal/catalog"
)

// Catalog routes catalog and pricing-rule lookups through a breaker so an
// unhealthy database fails recalculations fast instead of stalling workers.
// Not-found answers are healthy responses.
type Catalog struct {
	Lookup  catalog.Lookup
	Rules   catalog.RuleLookup
	Breaker *Breaker
}

var (
	_ catalog.Lookup     = Catalog{}
	_ catalog.RuleLookup = Catalog{}
)

// GetPurchasable implements catalog.Lookup.
func (c Catalog) GetPurchasable(ctx context.Context, id, storeID string) (catalog.Purchasable, error) {
	if c.Lookup == nil {
		return catalog.Purchasable{}, errors.New("guarded catalog not configured")
	}
	var p catalog.Purchasable
	err := c.Breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = c.Lookup.GetPurchasable(ctx, id, storeID)
		return err
	}, dependencyFailure)
	return p, err
}

// GetApplicablePricingRules implements catalog.RuleLookup.
func (c Catalog) GetApplicablePricingRules(ctx context.Context, purchasableID string, groups []string, currency string, asOf time.Time) ([]catalog.PricingRule, error) {
	if c.Rules == nil {
		return nil, errors.New("guarded catalog not configured")
	}
	var rules []catalog.PricingRule
	err := c.Breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		rules, err = c.Rules.GetApplicablePricingRules(ctx, purchasableID, groups, currency, asOf)
		return err
	}, dependencyFailure)
	return rules, err
}

func dependencyFailure(err error) bool {
	return !errors.Is(err, catalog.ErrNotFound) && !errors.Is(err, context.Canceled)
}
