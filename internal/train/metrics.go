package train

import "github.com/prometheus/client_golang/prometheus"

var (
	trainBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chesscoach",
			Subsystem: "train",
			Name:      "batches_total",
			Help:      "Total training batches fed to the trainable subset",
		},
		[]string{"type"},
	)

	trainCheckpoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chesscoach",
			Subsystem: "train",
			Name:      "checkpoints_total",
			Help:      "Total checkpoints written at the end of training calls",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(trainBatches, trainCheckpoints)
}
