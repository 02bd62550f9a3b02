package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	submitsTotal      *prometheus.CounterVec
	submitDuration    *prometheus.HistogramVec
	activeSubmits     prometheus.Gauge
	convertCallsTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		submitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sheetscan_worker_submits_total",
			Help: "Total session submits by final status.",
		}, []string{"status"}),
		submitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sheetscan_worker_submit_duration_seconds",
			Help:    "Total processing duration for each session submit.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeSubmits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sheetscan_worker_active_submits",
			Help: "Current number of active session submits in the worker.",
		}),
		convertCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sheetscan_worker_convert_calls_total",
			Help: "Total submits that reached the convert API.",
		}),
	}

	registry.MustRegister(
		m.submitsTotal,
		m.submitDuration,
		m.activeSubmits,
		m.convertCallsTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
