// Package metrics exposes Prometheus metrics for the configuration registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wricardo/tilemap-generator/tilemap/registry"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilemap_registry_operations_total",
		Help: "Registry state changes by operation",
	}, []string{"op"}) // op=init|load|add|import|remove|update|save|select

	configsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilemap_registry_configs",
		Help: "Number of configurations held in memory",
	})

	dirtyGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilemap_registry_dirty",
		Help: "Whether the current configuration has unsaved changes (1) or not (0)",
	})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilemap_api_errors_total",
		Help: "API requests answered with an error by status code",
	}, []string{"status"})
)

// Observe records a registry event. Pass it to Registry.Subscribe.
func Observe(e registry.Event) {
	operationsTotal.WithLabelValues(string(e.Kind)).Inc()
	configsGauge.Set(float64(len(e.State.Configs)))
	if e.State.Dirty {
		dirtyGauge.Set(1)
	} else {
		dirtyGauge.Set(0)
	}
}

// RecordAPIError counts an API error response.
func RecordAPIError(status string) {
	apiErrorsTotal.WithLabelValues(status).Inc()
}
