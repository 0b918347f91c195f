// Package metrics registers the service's Prometheus collectors on a private
// registry served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mill"

var Registry = prometheus.NewRegistry()

var (
	MovesAccepted = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moves_accepted_total",
		Help:      "Sub-moves accepted by game sessions.",
	})
	MovesRejected = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moves_rejected_total",
		Help:      "Rejected actions by reason code.",
	}, []string{"reason"})
	GamesFinished = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_finished_total",
		Help:      "Finished games by outcome and termination.",
	}, []string{"outcome", "termination"})
	LiveSessions = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_sessions",
		Help:      "Sessions currently registered in the hub.",
	})
	LiveArenas = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_arenas",
		Help:      "Arenas currently registered in the hub.",
	})
	Pairings = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arena_pairings_total",
		Help:      "Arena pairings that produced a session.",
	})
	TickDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Duration of scheduled tasks.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"task"})
	TaskPanics = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_panics_total",
		Help:      "Recovered panics by scheduled task.",
	}, []string{"task"})
	EventsDropped = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped because a subscriber buffer was full.",
	})
	WSConnections = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Open websocket connections.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
