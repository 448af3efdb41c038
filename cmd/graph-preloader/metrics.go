// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes run progress as Prometheus counters/gauges when
// --metrics-addr is set. All counters are monotonic and safe for
// concurrent Add calls from worker goroutines.
type Metrics struct {
	TriplesProcessed prometheus.Counter
	PartsCompleted   prometheus.Counter
	SameThingErrors  prometheus.Counter
	PartsInFlight    prometheus.Gauge
}

// NewMetrics registers the counters on a dedicated registry (rather
// than the global default one) so tests can construct more than one
// Metrics instance without a "duplicate metrics collector" panic.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		TriplesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graph_preloader",
			Name:      "triples_processed_total",
			Help:      "Number of input triples parsed so far.",
		}),
		PartsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graph_preloader",
			Name:      "parts_completed_total",
			Help:      "Number of parts whose sidecar files have been flushed.",
		}),
		SameThingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graph_preloader",
			Name:      "samething_errors_total",
			Help:      "Number of failed identity-resolution HTTP requests.",
		}),
		PartsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graph_preloader",
			Name:      "parts_in_flight",
			Help:      "Number of parts currently being processed by a worker.",
		}),
	}
	reg.MustRegister(m.TriplesProcessed, m.PartsCompleted, m.SameThingErrors, m.PartsInFlight)
	return m, reg
}

// ServeMetrics starts a background HTTP server exposing reg on addr
// at /metrics. It returns immediately; if the server exits with an
// error, that error is logged through logger (when non-nil) and
// otherwise ignored.
func ServeMetrics(addr string, reg *prometheus.Registry, logger interface{ Printf(string, ...interface{}) }) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && logger != nil {
			logger.Printf("metrics server on %s exited: %v", addr, err)
		}
	}()
}
