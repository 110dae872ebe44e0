package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mark3labs/openapi2docx/internal/enrich"
	"github.com/mark3labs/openapi2docx/internal/pipeline"
)

// metrics owns a private registry so several servers can coexist in one
// process.
type metrics struct {
	registry    *prometheus.Registry
	generations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	fallbacks   *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openapi2docx",
			Name:      "generations_total",
			Help:      "Document generations by mode and outcome.",
		}, []string{"mode", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "openapi2docx",
			Name:      "generation_duration_seconds",
			Help:      "Time spent generating one document.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"mode"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openapi2docx",
			Name:      "enrichment_fallbacks_total",
			Help:      "Enrichment fragments that fell back to local text.",
		}, []string{"task"}),
	}
	m.registry.MustRegister(
		m.generations,
		m.duration,
		m.fallbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) observe(mode pipeline.Mode, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.generations.WithLabelValues(string(mode), outcome).Inc()
	m.duration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
}

func (m *metrics) fallback(task enrich.Task, _ error) {
	m.fallbacks.WithLabelValues(string(task)).Inc()
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
