package hub

import "github.com/prometheus/client_golang/prometheus"

var droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "calcgateway_hub_dropped_events_total",
	Help: "Progress events dropped because a subscriber's buffer was full.",
})

func init() {
	prometheus.MustRegister(droppedEvents)
}
