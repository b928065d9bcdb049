// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for domain-router.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Directions used as the "direction" label of byte counters.
const (
	Upstream   = "upstream"
	Downstream = "downstream"
)

// Metrics holds all Prometheus metrics of the proxy. Each instance owns its
// registry, so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ActiveConnections   *prometheus.GaugeVec
	TotalConnections    *prometheus.CounterVec
	ConnectionDuration  *prometheus.HistogramVec
	RejectedConnections *prometheus.CounterVec
	BytesTransferred    *prometheus.CounterVec

	// Failure metrics
	DialErrors         *prometheus.CounterVec
	TLSHandshakeErrors *prometheus.CounterVec

	// Listener and route metrics
	ListenerUp   *prometheus.GaugeVec
	ActiveRoutes prometheus.Gauge
}

// New creates a new Metrics instance with all counters, gauges, and histograms.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "domain_router"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		ActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently forwarded connections",
			},
			[]string{"port"},
		),
		TotalConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of accepted connections",
			},
			[]string{"port", "status"},
		),
		ConnectionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Forwarded connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"port"},
		),
		RejectedConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_connections_total",
				Help:      "Connections refused by the admission gate",
			},
			[]string{"port", "reason"},
		),
		BytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_total",
				Help:      "Bytes forwarded between clients and backends",
			},
			[]string{"port", "direction"},
		),
		DialErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dial_errors_total",
				Help:      "Backend dial failures",
			},
			[]string{"port"},
		),
		TLSHandshakeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tls_handshake_errors_total",
				Help:      "Failed TLS handshakes on terminating listeners",
			},
			[]string{"port"},
		),
		ListenerUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "listener_up",
				Help:      "Whether a listener is bound and accepting (1) or not (0)",
			},
			[]string{"port"},
		),
		ActiveRoutes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "routes_active",
				Help:      "Number of routing keys in the live route table",
			},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveConnection tracks a forwarded connection lifecycle on port.
// f returns the bytes forwarded in each direction.
func (m *Metrics) ObserveConnection(port uint16, f func() (up, down int64, err error)) error {
	if m == nil {
		_, _, err := f()
		return err
	}

	label := Port(port)
	m.ActiveConnections.WithLabelValues(label).Inc()
	defer m.ActiveConnections.WithLabelValues(label).Dec()

	start := time.Now()
	up, down, err := f()
	m.ConnectionDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	m.BytesTransferred.WithLabelValues(label, Upstream).Add(float64(up))
	m.BytesTransferred.WithLabelValues(label, Downstream).Add(float64(down))

	status := "success"
	if err != nil {
		status = "error"
	}
	m.TotalConnections.WithLabelValues(label, status).Inc()

	return err
}

// Port formats a port number as a label value.
func Port(port uint16) string {
	return strconv.Itoa(int(port))
}
