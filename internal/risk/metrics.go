package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AssessmentsTotal - оценки сделок по результату
var AssessmentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "risk",
		Name:      "assessments_total",
		Help:      "Trade assessments by outcome",
	},
	[]string{"outcome"},
)

// AlertsRaised - поднятые алерты по уровням
var AlertsRaised = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "risk",
		Name:      "alerts_raised_total",
		Help:      "Risk alerts raised by level",
	},
	[]string{"level"},
)
