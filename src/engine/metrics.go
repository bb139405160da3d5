package engine

import (
	"time"

	"syndrodm/src/odmerr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "syndrodm"

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "operations_total",
		Help:      "Engine operations by collection, operation and outcome.",
	}, []string{"collection", "op", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of engine operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	populateFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "populate_fetches_total",
		Help:      "Batched fetches issued while populating, by target collection.",
	}, []string{"target"})

	hookAborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "hook_aborts_total",
		Help:      "Operations aborted by a hook, by collection and event.",
	}, []string{"collection", "event"})
)

// observe records the outcome of one engine operation.
func observe(collection, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = odmerr.KindOf(err).String()
	}
	operationsTotal.WithLabelValues(collection, op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
