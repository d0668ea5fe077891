package tax

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/order"
)

// ErrMalformedRate is returned for tax rates the calculator cannot apply.
var ErrMalformedRate = errors.New("malformed tax rate")

// Rate is a percentage applied to amounts of one tax category inside one zone.
// An empty ZoneID marks a default-zone rate with no geographic restriction.
type Rate struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	CategoryID string          `json:"category_id"`
	ZoneID     string          `json:"zone_id,omitempty"`
	Rate       decimal.Decimal `json:"rate"`
	Included   bool            `json:"included"`
	Compound   bool            `json:"compound"`
	Priority   int             `json:"priority"`
}

// Validate rejects negative rates and included compound rates.
func (r Rate) Validate() error {
	if r.Rate.IsNegative() {
		return fmt.Errorf("%w %s: negative rate", ErrMalformedRate, r.ID)
	}
	if r.Included && r.Compound {
		return fmt.Errorf("%w %s: included rates cannot compound", ErrMalformedRate, r.ID)
	}
	return nil
}

// Zone is a geographic scope. Empty States covers the whole country list.
type Zone struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Countries []string `json:"countries"`
	States    []string `json:"states,omitempty"`
	Priority  int      `json:"priority"`
}

// Matches reports whether the address falls inside the zone.
func (z Zone) Matches(addr order.Address) bool {
	if !containsFold(z.Countries, addr.CountryCode) {
		return false
	}
	return len(z.States) == 0 || containsFold(z.States, addr.StateCode)
}

// MatchZone returns the id of the first zone, by priority, containing the
// address, or "" for the default zone.
func MatchZone(zones []Zone, addr order.Address) string {
	ordered := make([]Zone, len(zones))
	copy(ordered, zones)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, z := range ordered {
		if z.Matches(addr) {
			return z.ID
		}
	}
	return ""
}

// Lookup supplies tax rates and zone matching.
type Lookup interface {
	GetTaxRates(ctx context.Context, categoryID string) ([]Rate, error)
	MatchZone(ctx context.Context, addr order.Address) (string, error)
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
