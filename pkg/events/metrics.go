package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bus-level Prometheus metrics, exported on the worker's /metrics endpoint.
var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskhive_events_published_total",
		Help: "Domain events successfully handed to the broker, by topic.",
	}, []string{"topic"})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskhive_events_dropped_total",
		Help: "Domain events dropped by the fail-open publish path, by reason.",
	}, []string{"reason"})

	consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskhive_events_consumed_total",
		Help: "Messages delivered to subscription handlers, by subscription.",
	}, []string{"subscription"})

	deadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskhive_events_dead_lettered_total",
		Help: "Messages routed to the dead-letter topic, by original topic.",
	}, []string{"topic"})
)
