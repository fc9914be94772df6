package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RequestDuration - время ответа моста по операциям
var RequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "accountsync",
		Subsystem: "bridge",
		Name:      "request_duration_ms",
		Help:      "Bridge request duration in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
	[]string{"op"},
)

// RequestErrors - ошибки моста по операциям и классам
var RequestErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "bridge",
		Name:      "request_errors_total",
		Help:      "Bridge request failures by operation and kind",
	},
	[]string{"op", "kind"},
)
