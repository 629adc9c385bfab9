// Package metrics holds the worker's Prometheus collectors. They register on
// the default registry so /metrics exposes them next to the HTTP metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelcore",
			Subsystem: "worker",
			Name:      "generations_total",
			Help:      "Total generation requests",
		},
		[]string{"provider", "model"},
	)

	generationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelcore",
			Subsystem: "worker",
			Name:      "generation_errors_total",
			Help:      "Generations that failed before or after the first output",
		},
		[]string{"provider", "model", "stage"},
	)

	outputTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelcore",
			Subsystem: "worker",
			Name:      "output_tokens_total",
			Help:      "Completion tokens reported by engines",
		},
		[]string{"provider", "model"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelcore",
			Subsystem: "worker",
			Name:      "generation_duration_seconds",
			Help:      "Wall time from admission to the last output",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "model"},
	)

	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelcore",
			Subsystem: "worker",
			Name:      "model_loads_total",
			Help:      "Model loads by result",
		},
		[]string{"provider", "result"},
	)

	loadedModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelcore",
			Subsystem: "worker",
			Name:      "loaded_models",
			Help:      "Models currently loaded",
		},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal, generationErrorsTotal, outputTokensTotal,
		generationDuration, modelLoadsTotal, loadedModels)
}

// Error stages.
const (
	StageStart  = "start"
	StageStream = "stream"
)

// GenerationStarted counts an admitted generation.
func GenerationStarted(provider, model string) {
	generationsTotal.WithLabelValues(provider, model).Inc()
}

// GenerationFailed counts a failure at stage.
func GenerationFailed(provider, model, stage string) {
	generationErrorsTotal.WithLabelValues(provider, model, stage).Inc()
}

// GenerationDone records duration and, when known, completion tokens.
func GenerationDone(provider, model string, d time.Duration, completionTokens int) {
	generationDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	if completionTokens > 0 {
		outputTokensTotal.WithLabelValues(provider, model).Add(float64(completionTokens))
	}
}

// ModelLoaded records a load attempt; ok=false counts a failure.
func ModelLoaded(provider string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	modelLoadsTotal.WithLabelValues(provider, result).Inc()
}

// SetLoadedModels reports the current instance count.
func SetLoadedModels(n int) { loadedModels.Set(float64(n)) }
