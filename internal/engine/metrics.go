package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка синхронизации
// ============================================================

// SyncTotal - циклы синхронизации по источнику и результату
var SyncTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "sync",
		Name:      "total",
		Help:      "Reconciliation cycles by source and outcome",
	},
	[]string{"source", "outcome"},
)

// SyncDuration - длительность цикла синхронизации
var SyncDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "accountsync",
		Subsystem: "sync",
		Name:      "duration_ms",
		Help:      "Reconciliation cycle duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 5000, 10000},
	},
	[]string{"source"},
)

// StalePositionUpdates - отброшенные устаревшие обновления позиций
var StalePositionUpdates = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "sync",
		Name:      "stale_position_updates_total",
		Help:      "Position updates ignored as older than current state or for closed tickets",
	},
)

// StateTransitions - переходы состояния подключения
var StateTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "supervisor",
		Name:      "transitions_total",
		Help:      "Connection state transitions",
	},
	[]string{"from", "to"},
)

// ActiveAccounts - счета в реестре
var ActiveAccounts = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "accountsync",
		Subsystem: "registry",
		Name:      "accounts",
		Help:      "Accounts held by the registry",
	},
)

// BufferOverflows - потерянные сообщения при переполнении буферов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "engine",
		Name:      "buffer_overflows_total",
		Help:      "Messages dropped because a buffer was full",
	},
	[]string{"buffer"},
)

// RecordBufferOverflow учитывает потерянное сообщение
func RecordBufferOverflow(buffer string) {
	BufferOverflows.WithLabelValues(buffer).Inc()
}

// RecordSync учитывает цикл синхронизации
func RecordSync(source, outcome string, durationMs int64) {
	SyncTotal.WithLabelValues(source, outcome).Inc()
	SyncDuration.WithLabelValues(source).Observe(float64(durationMs))
}
