// Package cart turns add-to-cart requests into priced line items.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/order"
)

// ErrUnavailable matches every PurchasableUnavailableError.
var ErrUnavailable = errors.New("purchasable unavailable")

// PurchasableUnavailableError reports a purchasable that cannot be bought in the store.
type PurchasableUnavailableError struct {
	PurchasableID string
	StoreID       string
	Err           error
}

func (e *PurchasableUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("purchasable %s unavailable in store %s: %v", e.PurchasableID, e.StoreID, e.Err)
	}
	return fmt.Sprintf("purchasable %s unavailable in store %s", e.PurchasableID, e.StoreID)
}

// Is makes errors.Is(err, ErrUnavailable) hold.
func (e *PurchasableUnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Unwrap exposes the lookup failure, if any.
func (e *PurchasableUnavailableError) Unwrap() error { return e.Err }

// Mode controls how a request's quantity combines with an existing line.
type Mode string

const (
	// ModeAdd increments the existing quantity.
	ModeAdd Mode = "add"
	// ModeSet replaces the existing quantity.
	ModeSet Mode = "set"
)

// Request asks for a purchasable with options in some quantity.
type Request struct {
	PurchasableID string            `json:"purchasable_id"`
	Qty           int               `json:"qty"`
	Options       map[string]string `json:"options,omitempty"`
	Mode          Mode              `json:"mode,omitempty"`
}

// Materializer builds line items from requests, snapshotting catalog data and prices.
type Materializer struct {
	Catalog  catalog.Lookup
	Resolver *catalog.Resolver
	NewID    func() string
	Now      func() time.Time
}

func (m *Materializer) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func (m *Materializer) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return uuid.NewString()
}

func (m *Materializer) asOf(o order.Order) time.Time {
	if !o.AsOf.IsZero() {
		return o.AsOf
	}
	return m.now()
}

// Materialize applies the requests to the order's line items and returns the
// new list. The order itself is left untouched.
func (m *Materializer) Materialize(ctx context.Context, o order.Order, reqs []Request) ([]order.LineItem, error) {
	if m == nil || m.Catalog == nil || m.Resolver == nil {
		return nil, errors.New("cart materializer not configured")
	}
	items := o.Clone().LineItems
	for _, req := range reqs {
		sig, err := OptionsSignature(req.Options)
		if err != nil {
			return nil, err
		}
		idx := indexOf(items, req.PurchasableID, sig)
		qty := req.Qty
		if idx >= 0 && req.Mode != ModeSet {
			qty += items[idx].Qty
		}
		if qty <= 0 {
			if idx >= 0 {
				items = append(items[:idx], items[idx+1:]...)
			}
			continue
		}

		p, err := m.available(ctx, req.PurchasableID, o.StoreID)
		if err != nil {
			return nil, err
		}
		if idx >= 0 {
			items[idx].Qty = qty
			continue
		}

		when := m.asOf(o)
		res, err := m.Resolver.Price(ctx, p, catalog.Request{
			PurchasableID: p.ID,
			Qty:           qty,
			Groups:        o.CustomerGroups,
			StoreID:       o.StoreID,
			Currency:      o.Currency,
			AsOf:          when,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, order.LineItem{
			ID:               m.newID(),
			Snapshot:         p.Snapshot(o.Currency),
			Options:          copyOptions(req.Options),
			OptionsSignature: sig,
			Qty:              qty,
			UnitPrice:        res.UnitPrice,
			PriceRuleID:      res.RuleID,
			PriceResolvedAt:  when,
		})
	}
	return items, nil
}

// Refresh re-resolves the snapshot and unit price of every line. It is the
// only path through which a line's frozen price changes.
func (m *Materializer) Refresh(ctx context.Context, o order.Order) ([]order.LineItem, error) {
	if m == nil || m.Catalog == nil || m.Resolver == nil {
		return nil, errors.New("cart materializer not configured")
	}
	items := o.Clone().LineItems
	when := m.asOf(o)
	for i := range items {
		p, err := m.available(ctx, items[i].Snapshot.ID, o.StoreID)
		if err != nil {
			return nil, err
		}
		res, err := m.Resolver.Price(ctx, p, catalog.Request{
			PurchasableID: p.ID,
			Qty:           items[i].Qty,
			Groups:        o.CustomerGroups,
			StoreID:       o.StoreID,
			Currency:      o.Currency,
			AsOf:          when,
		})
		if err != nil {
			return nil, err
		}
		items[i].Snapshot = p.Snapshot(o.Currency)
		items[i].UnitPrice = res.UnitPrice
		items[i].PriceRuleID = res.RuleID
		items[i].PriceResolvedAt = when
	}
	return items, nil
}

func (m *Materializer) available(ctx context.Context, id, storeID string) (catalog.Purchasable, error) {
	p, err := m.Catalog.GetPurchasable(ctx, id, storeID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.Purchasable{}, &PurchasableUnavailableError{PurchasableID: id, StoreID: storeID, Err: err}
		}
		return catalog.Purchasable{}, fmt.Errorf("get purchasable %s: %w", id, err)
	}
	if !p.Available {
		return catalog.Purchasable{}, &PurchasableUnavailableError{PurchasableID: id, StoreID: storeID}
	}
	return p, nil
}

// OptionsSignature returns the canonical JSON form of the options so that
// equal option sets always merge into the same line.
func OptionsSignature(options map[string]string) (string, error) {
	if len(options) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize options: %w", err)
	}
	return string(canonical), nil
}

func indexOf(items []order.LineItem, purchasableID, sig string) int {
	for i, li := range items {
		if li.Snapshot.ID == purchasableID && li.OptionsSignature == sig {
			return i
		}
	}
	return -1
}

func copyOptions(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
