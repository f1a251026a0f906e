package network

import "github.com/prometheus/client_golang/prometheus"

var (
	modelLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chesscoach",
			Subsystem: "network",
			Name:      "model_loads_total",
			Help:      "Total full-model materializations (fresh builds and checkpoint loads)",
		},
		[]string{"type", "context", "source"},
	)

	networkUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chesscoach",
			Subsystem: "network",
			Name:      "updates_total",
			Help:      "Total in-place hot reloads of newer checkpoint weights",
		},
		[]string{"type"},
	)

	predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chesscoach",
			Subsystem: "network",
			Name:      "predictions_total",
			Help:      "Total positions served through predict batches",
		},
		[]string{"type"},
	)

	cacheResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chesscoach",
			Subsystem: "network",
			Name:      "cache_resets_total",
			Help:      "Total wholesale cache invalidations from network name switches",
		},
	)
)

func init() {
	prometheus.MustRegister(modelLoads, networkUpdates, predictions, cacheResets)
}
