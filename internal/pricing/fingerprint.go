package pricing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/noah-isme/toko-pricing/internal/order"
)

type fingerprintDoc struct {
	Adjustments []order.Adjustment `json:"adjustments"`
	Totals      order.Totals       `json:"totals"`
}

// Fingerprint hashes the canonical JSON of an order's adjustments and totals.
// Passes over unchanged input produce equal fingerprints.
func Fingerprint(o order.Order, totals order.Totals) (string, error) {
	raw, err := json.Marshal(fingerprintDoc{Adjustments: o.AllAdjustments(), Totals: totals})
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalise fingerprint: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
