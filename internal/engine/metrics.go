package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

var (
	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calcgateway_active_calculations",
		Help: "Number of calculations currently in flight.",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcgateway_calculations_total",
		Help: "Finished calculations by outcome.",
	}, []string{"outcome"})
)
