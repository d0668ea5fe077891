package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingRecalculationsTotal counts recalculation passes by outcome.
	PricingRecalculationsTotal *prometheus.CounterVec
	// PricingStageDuration records stage latency in seconds.
	PricingStageDuration *prometheus.HistogramVec
	// PricingWarningsTotal counts non-fatal warnings by code.
	PricingWarningsTotal *prometheus.CounterVec
	// CouponRedemptionsTotal counts coupon redemption outcomes.
	CouponRedemptionsTotal *prometheus.CounterVec
	// CatalogCacheTotal counts purchasable cache lookups by result.
	CatalogCacheTotal *prometheus.CounterVec
	// BreakerState reports the catalog breaker state: 0=closed, 1=open, 2=half-open.
	BreakerState *prometheus.GaugeVec
	// BreakerTransitionsTotal counts breaker state transitions.
	BreakerTransitionsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingRecalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_recalculations_total",
			Help:      "Count of pricing recalculation passes by outcome.",
		}, []string{"result"})
		PricingStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_stage_duration_seconds",
			Help:      "Latency of pricing pipeline stages in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"stage"})
		PricingWarningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_warnings_total",
			Help:      "Count of non-fatal pricing warnings by code.",
		}, []string{"code"})
		CouponRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_redemptions_total",
			Help:      "Count of coupon redemption outcomes.",
		}, []string{"result"})
		CatalogCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_total",
			Help:      "Count of purchasable cache lookups by result.",
		}, []string{"result"})
		BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open.",
		}, []string{"target"})
		BreakerTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Count of breaker state transitions.",
		}, []string{"target", "from", "to"})

		mustRegisterCollector(reg, PricingRecalculationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricingRecalculationsTotal = v
			}
		})
		mustRegisterCollector(reg, PricingStageDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				PricingStageDuration = v
			}
		})
		mustRegisterCollector(reg, PricingWarningsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricingWarningsTotal = v
			}
		})
		mustRegisterCollector(reg, CouponRedemptionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CouponRedemptionsTotal = v
			}
		})
		mustRegisterCollector(reg, CatalogCacheTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CatalogCacheTotal = v
			}
		})
		mustRegisterCollector(reg, BreakerState, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.GaugeVec); ok {
				BreakerState = v
			}
		})
		mustRegisterCollector(reg, BreakerTransitionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BreakerTransitionsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
