package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// activeSessions counts owner subscriptions, so a session following two owners counts twice.
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskboard_broadcast_subscriptions",
		Help: "Number of active owner subscriptions",
	})

	publishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskboard_broadcast_published_total",
		Help: "Change events published to the hub",
	}, []string{"kind"})

	deliveredEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskboard_broadcast_delivered_total",
		Help: "Change events handed to session buffers",
	})

	evictedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskboard_broadcast_evicted_total",
		Help: "Sessions evicted because their buffer was full",
	})

	relayFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskboard_relay_local_fallback_total",
		Help: "Events delivered locally because the Redis publish failed",
	})
)
