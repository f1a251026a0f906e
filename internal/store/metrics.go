package store

import "github.com/prometheus/client_golang/prometheus"

var (
	weightLoadRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chesscoach",
		Subsystem: "store",
		Name:      "weight_load_retries_total",
		Help:      "Total weight-load attempts that failed and were retried",
	})

	weightLoadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chesscoach",
		Subsystem: "store",
		Name:      "weight_load_failures_total",
		Help:      "Total weight loads that exhausted every retry",
	})
)

func init() {
	prometheus.MustRegister(weightLoadRetries, weightLoadFailures)
}
