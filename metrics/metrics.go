// Package metrics exposes Prometheus instrumentation for the crank cycle,
// liquidation/socialization events, and warmup conversions, the same
// once-registered-CounterVec/GaugeVec idiom the p2p and network packages use.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once
	shared   *Metrics
)

// Metrics groups the counters and gauges a keeper process scrapes.
type Metrics struct {
	crankSteps        *prometheus.CounterVec
	liquidations      *prometheus.CounterVec
	badDebt           prometheus.Counter
	socializedLoss    prometheus.Counter
	autoRecoveries    prometheus.Counter
	warmupConversions prometheus.Histogram
	insuranceBalance  prometheus.Gauge
	lossAccum         prometheus.Gauge
	openInterest      prometheus.Gauge
	riskReduction     prometheus.Gauge
}

// New returns the process-wide Metrics instance, registering its collectors
// with prometheus exactly once regardless of how many markets call in.
func New() *Metrics {
	initOnce.Do(func() {
		m := &Metrics{
			crankSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "perpcore_crank_steps_total",
				Help: "Keeper crank steps executed, by step index.",
			}, []string{"step"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "perpcore_liquidations_total",
				Help: "Liquidations executed, by outcome.",
			}, []string{"outcome"}),
			badDebt: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "perpcore_bad_debt_events_total",
				Help: "Liquidations that produced uncovered bad debt.",
			}),
			socializedLoss: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "perpcore_socialized_loss_total",
				Help: "Cumulative loss socialized into positive-PnL accounts.",
			}),
			autoRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "perpcore_auto_recoveries_total",
				Help: "Automatic exits from risk-reduction mode.",
			}),
			warmupConversions: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "perpcore_warmup_conversion_amount",
				Help:    "Distribution of per-touch warmup-to-reserved-pnl conversions.",
				Buckets: prometheus.ExponentialBuckets(1, 10, 10),
			}),
			insuranceBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "perpcore_insurance_balance",
				Help: "Current insurance fund balance.",
			}),
			lossAccum: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "perpcore_loss_accum",
				Help: "Current socialized-loss accumulator.",
			}),
			openInterest: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "perpcore_total_open_interest",
				Help: "Current total open interest.",
			}),
			riskReduction: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "perpcore_risk_reduction_active",
				Help: "1 while the market is in risk-reduction-only mode, else 0.",
			}),
		}
		prometheus.MustRegister(
			m.crankSteps, m.liquidations, m.badDebt, m.socializedLoss,
			m.autoRecoveries, m.warmupConversions, m.insuranceBalance,
			m.lossAccum, m.openInterest, m.riskReduction,
		)
		shared = m
	})
	return shared
}

// ObserveCrankStep records one executed crank step.
func (m *Metrics) ObserveCrankStep(step uint8) {
	if m == nil {
		return
	}
	m.crankSteps.WithLabelValues(stepLabel(step)).Inc()
}

// ObserveLiquidation records a liquidation outcome: "clean", "bad_debt", or
// "full_close".
func (m *Metrics) ObserveLiquidation(outcome string, badDebt bool) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(outcome).Inc()
	if badDebt {
		m.badDebt.Inc()
	}
}

// ObserveSocializedLoss records an amount of loss socialized this sweep.
func (m *Metrics) ObserveSocializedLoss(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.socializedLoss.Add(amount)
}

// ObserveAutoRecovery records an automatic exit from risk-reduction mode.
func (m *Metrics) ObserveAutoRecovery() {
	if m == nil {
		return
	}
	m.autoRecoveries.Inc()
}

// ObserveWarmupConversion records one account's per-touch warmup conversion.
func (m *Metrics) ObserveWarmupConversion(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.warmupConversions.Observe(amount)
}

// SetGauges refreshes the engine-wide gauges from current slab totals.
func (m *Metrics) SetGauges(insuranceBalance, lossAccum, openInterest float64, riskReductionActive bool) {
	if m == nil {
		return
	}
	m.insuranceBalance.Set(insuranceBalance)
	m.lossAccum.Set(lossAccum)
	m.openInterest.Set(openInterest)
	if riskReductionActive {
		m.riskReduction.Set(1)
	} else {
		m.riskReduction.Set(0)
	}
}

func stepLabel(step uint8) string {
	switch {
	case step == 0:
		return "sweep_start"
	case step == 1:
		return "funding_accrual"
	case step >= 2 && step <= 13:
		return "account_sweep"
	case step == 14:
		return "gc_sweep"
	case step == 15:
		return "sweep_complete"
	default:
		return "unknown"
	}
}
