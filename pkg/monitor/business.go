package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	IdempotencyReplaysTotal   prometheus.Counter
	IdempotencyConflictsTotal *prometheus.CounterVec
	PaymentsTotal             *prometheus.CounterVec
	CapturesTotal             *prometheus.CounterVec
	BridgeTransfersTotal      *prometheus.CounterVec
	LocationWritesTotal       prometheus.Counter
	MergedTransactionsTotal   *prometheus.CounterVec
	SweepDuration             prometheus.Histogram
}

// Business 在包初始化时就创建好 (未注册)，单元测试里直接 Inc 不会 panic；
// Init() 时才注册到默认 Registry
var Business = newBusinessMetrics()

func newBusinessMetrics() *BusinessMetrics {
	return &BusinessMetrics{
		IdempotencyReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_idempotency_replays_total",
			Help: "Requests answered from the idempotency cache",
		}),
		IdempotencyConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_idempotency_conflicts_total",
			Help: "Requests rejected by the idempotency cache",
		}, []string{"reason"}),
		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_payments_total",
			Help: "Payments by resulting status",
		}, []string{"method", "status"}),
		CapturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_captures_total",
			Help: "Mandate captures by result",
		}, []string{"result"}),
		BridgeTransfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_bridge_transfers_total",
			Help: "Bridge transfers by status",
		}, []string{"status"}),
		LocationWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_location_writes_total",
			Help: "Locations persisted because on-chain assets changed",
		}),
		MergedTransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_merged_transactions_total",
			Help: "Transactions produced by the merger",
		}, []string{"outcome"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payment_reconcile_sweep_duration_seconds",
			Help:    "Duration of reconciliation sweeps",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *BusinessMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.IdempotencyReplaysTotal,
		m.IdempotencyConflictsTotal,
		m.PaymentsTotal,
		m.CapturesTotal,
		m.BridgeTransfersTotal,
		m.LocationWritesTotal,
		m.MergedTransactionsTotal,
		m.SweepDuration,
	}
}
