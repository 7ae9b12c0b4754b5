package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// StatusError labels ensembles that failed before producing results.
	StatusError = "error"
)

var (
	ensemblesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_pof",
			Name:      "ensembles_total",
			Help:      "Total number of ensemble runs, partitioned by kind and final status.",
		},
		[]string{"kind", "status"},
	)

	iterationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_pof",
			Name:      "iterations_total",
			Help:      "Completed Monte Carlo iterations across all runs.",
		},
	)

	ensembleDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_pof",
			Name:      "ensemble_seconds",
			Help:      "Wall time of ensemble and sensitivity runs in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"kind"},
	)

	runsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_pof",
			Name:      "runs_in_flight",
			Help:      "Runs currently executing.",
		},
	)
)

// Register attaches mirador-pof collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ensemblesTotal,
		iterationsTotal,
		ensembleDurationSeconds,
		runsInFlight,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// RunStarted marks a run in flight; call the returned func when it ends.
func RunStarted() func() {
	runsInFlight.Inc()
	return runsInFlight.Dec
}

// ObserveRun records a finished run of the given kind ("simulate" or
// "sensitivity") with its status and completed iteration count.
func ObserveRun(kind, status string, iterations int, duration time.Duration) {
	ensemblesTotal.WithLabelValues(kind, status).Inc()
	if iterations > 0 {
		iterationsTotal.Add(float64(iterations))
	}
	if duration < 0 {
		duration = 0
	}
	ensembleDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}
