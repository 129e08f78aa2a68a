package events

import "github.com/prometheus/client_golang/prometheus"

var (
	busPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fno_events_published_total",
		Help: "Events published on the in-process bus",
	}, []string{"topic"})
	busDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fno_events_delivered_total",
		Help: "Events delivered to subscribers",
	}, []string{"topic"})
	busFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fno_events_failed_total",
		Help: "Event handlers that panicked",
	}, []string{"topic"})
	busForwardFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fno_events_forward_failed_total",
		Help: "Events that could not be forwarded to Kafka",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(busPublished, busDelivered, busFailed, busForwardFailed)
}
