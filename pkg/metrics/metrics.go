package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrderTransitions counts order state transitions by resulting status
var OrderTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fno_order_transitions_total",
		Help: "Total number of order state transitions by resulting status",
	},
	[]string{"status"},
)

// FillsApplied counts fills by outcome (applied, duplicate, overfill)
var FillsApplied = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fno_fills_total",
		Help: "Total number of broker fills processed by outcome",
	},
	[]string{"outcome"},
)

// RiskEvents counts created risk events
var RiskEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fno_risk_events_total",
		Help: "Total number of risk events created",
	},
	[]string{"type", "severity"},
)

// HaltSignals counts halt signals emitted per sink
var HaltSignals = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fno_halt_signals_total",
		Help: "Total number of trading halt signals emitted",
	},
	[]string{"sink", "result"},
)

// Ledger transaction metrics
var (
	LedgerTxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fno_ledger_tx_duration_seconds",
			Help:    "Duration of ledger transactions including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	LedgerTxRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fno_ledger_tx_retries_total",
			Help: "Number of ledger transaction retries after transient storage failures",
		},
	)

	AuditRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fno_audit_records_total",
			Help: "Audit rows written by action",
		},
		[]string{"action"},
	)
)

// Scheduler metrics
var (
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fno_scheduler_cycle_seconds",
			Help:    "Duration of a snapshot and risk evaluation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	InboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fno_fill_inbox_depth",
			Help: "Fills waiting in the durable inbox",
		},
	)
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fno_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fno_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(OrderTransitions, FillsApplied, RiskEvents, HaltSignals)
	prometheus.MustRegister(LedgerTxDuration, LedgerTxRetries, AuditRecords)
	prometheus.MustRegister(CycleDuration, InboxDepth)
	prometheus.MustRegister(DBOpenConns, DBInUseConns)
}
