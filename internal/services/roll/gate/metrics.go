package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rollcall_gate_evaluation_seconds",
		Help:    "Roll evaluation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"mode", "outcome"})

	workerKills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_gate_worker_kills_total",
		Help: "Evaluation worker processes killed after exceeding their budget",
	})

	interrupted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_gate_interrupted_total",
		Help: "Trusted evaluations interrupted after exceeding their budget",
	})
)
