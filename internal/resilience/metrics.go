package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

var (
	breakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "calcgateway_breaker_state",
		Help: "Solver circuit breaker state (0=closed, 1=half-open, 2=open).",
	})

	fallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "calcgateway_breaker_fallbacks_total",
		Help: "Calculations terminated by the unavailability fallback.",
	})
)

func init() {
	prometheus.MustRegister(breakerState)
	prometheus.MustRegister(fallbacksTotal)
}

func setBreakerState(s gobreaker.State) {
	switch s {
	case gobreaker.StateClosed:
		breakerState.Set(0)
	case gobreaker.StateHalfOpen:
		breakerState.Set(1)
	case gobreaker.StateOpen:
		breakerState.Set(2)
	}
}
