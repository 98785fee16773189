package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics tracks the lending pool's funding lifecycle and share
// accounting. Monetary gauges are exported in whole asset units (6-decimal
// stablecoin base units) and are approximations for dashboards only; the
// ledger remains the source of truth.
type PoolMetrics struct {
	deposits        prometheus.Counter
	withdrawals     prometheus.Counter
	loansFunded     *prometheus.CounterVec
	loansRepaid     prometheus.Counter
	fundingRejected *prometheus.CounterVec
	totalAssets     prometheus.Gauge
	idleAssets      prometheus.Gauge
	activeLoans     prometheus.Gauge
	utilizationBps  prometheus.Gauge
}

var (
	poolOnce     sync.Once
	poolRegistry *PoolMetrics
)

func Pool() *PoolMetrics {
	poolOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_deposits_total",
				Help: "Count of completed liquidity deposits.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_withdrawals_total",
				Help: "Count of completed liquidity withdrawals.",
			}),
			loansFunded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_loans_funded_total",
				Help: "Count of loans funded by risk rating.",
			}, []string{"rating"}),
			loansRepaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_loans_repaid_total",
				Help: "Count of loans fully repaid.",
			}),
			fundingRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_funding_rejected_total",
				Help: "Count of rejected funding requests by reason.",
			}, []string{"reason"}),
			totalAssets: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_total_assets",
				Help: "Total assets attributable to liquidity providers.",
			}),
			idleAssets: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_idle_assets",
				Help: "Asset balance currently held by the pool.",
			}),
			activeLoans: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_active_loan_principal",
				Help: "Outstanding principal across active loans.",
			}),
			utilizationBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_utilization_bps",
				Help: "Active loan principal relative to total assets, in basis points.",
			}),
		}
		prometheus.MustRegister(
			poolRegistry.deposits,
			poolRegistry.withdrawals,
			poolRegistry.loansFunded,
			poolRegistry.loansRepaid,
			poolRegistry.fundingRejected,
			poolRegistry.totalAssets,
			poolRegistry.idleAssets,
			poolRegistry.activeLoans,
			poolRegistry.utilizationBps,
		)
	})
	return poolRegistry
}

func (m *PoolMetrics) ObserveDeposit() {
	if m == nil {
		return
	}
	m.deposits.Inc()
}

func (m *PoolMetrics) ObserveWithdrawal() {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
}

func (m *PoolMetrics) ObserveLoanFunded(rating string) {
	if m == nil {
		return
	}
	if rating == "" {
		rating = "unknown"
	}
	m.loansFunded.WithLabelValues(rating).Inc()
}

func (m *PoolMetrics) ObserveLoanRepaid() {
	if m == nil {
		return
	}
	m.loansRepaid.Inc()
}

func (m *PoolMetrics) IncFundingRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.fundingRejected.WithLabelValues(reason).Inc()
}

func (m *PoolMetrics) SetTotalAssets(amount float64) {
	if m == nil {
		return
	}
	m.totalAssets.Set(amount)
}

func (m *PoolMetrics) SetIdleAssets(amount float64) {
	if m == nil {
		return
	}
	m.idleAssets.Set(amount)
}

func (m *PoolMetrics) SetActiveLoanPrincipal(amount float64) {
	if m == nil {
		return
	}
	m.activeLoans.Set(amount)
}

func (m *PoolMetrics) SetUtilizationBps(bps float64) {
	if m == nil {
		return
	}
	m.utilizationBps.Set(bps)
}
