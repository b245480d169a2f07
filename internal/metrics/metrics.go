// Package metrics holds the Prometheus collectors shared by the training and
// evaluation code. Collectors register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LayerForward counts mean-field layer forward calls by layer kind and
	// effective sampling mode.
	LayerForward = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bdl_layer_forward_total",
		Help: "Total number of mean-field layer forward calls",
	}, []string{"layer", "mode"})

	// EnsembleDuration observes the wall time of one ensemble evaluation.
	EnsembleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bdl_ensemble_duration_seconds",
		Help:    "Time spent in Monte-Carlo ensemble evaluation",
		Buckets: prometheus.DefBuckets,
	})

	// EnsembleBatches counts batches scored by the ensemble evaluator.
	EnsembleBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bdl_ensemble_batches_total",
		Help: "Total number of batches evaluated by the ensemble",
	})

	// OptimizerSteps counts parameter updates per optimizer.
	OptimizerSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bdl_optimizer_steps_total",
		Help: "Total number of optimizer steps",
	}, []string{"optimizer"})

	// TrainLoss is the loss of the most recent training step.
	TrainLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bdl_train_loss",
		Help: "Loss of the most recent training step",
	})
)
