package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts vault operations by name and outcome
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Total number of vault operations",
		},
		[]string{"operation", "outcome"},
	)

	// OperationDuration tracks operation latency
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_operation_duration_seconds",
			Help:    "Vault operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// DepositedAmount tracks deposited value in ether
	DepositedAmount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vault_deposit_amount_ether",
			Help:    "Deposited amount in ether",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 100, 1000},
		},
	)

	// DispatchesTotal counts outbound gateway dispatches by status
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_gateway_dispatches_total",
			Help: "Total number of withdrawal dispatches to the gateway",
		},
		[]string{"status"},
	)

	// CallbacksTotal counts gateway callbacks by kind and outcome
	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_gateway_callbacks_total",
			Help: "Total number of gateway callbacks received",
		},
		[]string{"kind", "outcome"},
	)

	// PayoutsTotal counts home-chain payouts by reason
	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_payouts_total",
			Help: "Total number of payouts to account holders",
		},
		[]string{"reason"},
	)

	// BadgesTotal counts badge lifecycle events
	BadgesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_badges_total",
			Help: "Total number of badge claims and relocations",
		},
		[]string{"action"},
	)

	// InFlightWithdrawals is the number of withdrawals awaiting a callback
	InFlightWithdrawals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_inflight_withdrawals",
			Help: "Number of withdrawals dispatched and awaiting a gateway callback",
		},
	)

	// StaleWithdrawals is the number of in-flight withdrawals older than the stale threshold
	StaleWithdrawals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_stale_withdrawals",
			Help: "Number of in-flight withdrawals past the stale threshold",
		},
	)

	// UndispatchedWithdrawals is the number of committed withdrawals the gateway never accepted
	UndispatchedWithdrawals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_undispatched_withdrawals",
			Help: "Number of in-flight withdrawals without an accepted gateway dispatch",
		},
	)

	// InvariantViolations counts accounts failing the ledger audit
	InvariantViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_invariant_violations_total",
			Help: "Total number of accounts whose positions do not add up to their deposits",
		},
	)

	// ReconciliationRuns counts audit runs by outcome
	ReconciliationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_reconciliation_runs_total",
			Help: "Total number of ledger reconciliation runs",
		},
		[]string{"outcome"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_events_published_total",
			Help: "Total number of ledger events forwarded to the event stream",
		},
		[]string{"outcome"},
	)
)
