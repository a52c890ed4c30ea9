package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	tasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ffqueue_tasks",
			Help: "Number of tasks in each status",
		},
		[]string{"status"},
	)

	conversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffqueue_conversions_total",
			Help: "Finished conversions by outcome",
		},
		[]string{"outcome"}, // completed, error, canceled
	)

	conversionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ffqueue_conversion_duration_seconds",
			Help:    "Wall time of engine conversions",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	engineLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ffqueue_engine_loads_total",
			Help: "Engine load attempts by source and result",
		},
		[]string{"source", "result"},
	)

	engineReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ffqueue_engine_ready",
			Help: "Engine session readiness (1=ready, 0=not ready)",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksByStatus)
	prometheus.MustRegister(conversionsTotal)
	prometheus.MustRegister(conversionDuration)
	prometheus.MustRegister(engineLoads)
	prometheus.MustRegister(engineReady)
}

// SetTaskCounts replaces the per-status task gauge with counts.
func SetTaskCounts(counts map[string]int) {
	tasksByStatus.Reset()
	for status, n := range counts {
		tasksByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func RecordConversion(outcome string) {
	conversionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveConversionDuration(seconds float64) {
	conversionDuration.Observe(seconds)
}

func RecordEngineLoad(source string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	engineLoads.WithLabelValues(source, result).Inc()
}

func SetEngineReady(ready bool) {
	if ready {
		engineReady.Set(1)
	} else {
		engineReady.Set(0)
	}
}
