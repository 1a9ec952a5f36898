// Package metric exposes ingest counters over Prometheus.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ingest pipeline counters. A nil *Metrics is valid
// and turns every recording call into a no-op, so the server does not
// need to guard call sites when metrics are disabled.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	RecordsStored       prometheus.Counter
	LinesMalformed      prometheus.Counter
	Keepalives          prometheus.Counter
	StoreErrors         prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestd",
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Total number of accepted client connections",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ingestd",
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of currently open client connections",
		}),
		RecordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestd",
			Subsystem: "records",
			Name:      "stored_total",
			Help:      "Total number of sensor readings written to the store",
		}),
		LinesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestd",
			Subsystem: "lines",
			Name:      "malformed_total",
			Help:      "Total number of lines discarded as malformed",
		}),
		Keepalives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestd",
			Subsystem: "lines",
			Name:      "keepalive_total",
			Help:      "Total number of keepalive control messages received",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestd",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Total number of failed store appends",
		}),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.ConnectionsAccepted,
		m.ConnectionsActive,
		m.RecordsStored,
		m.LinesMalformed,
		m.Keepalives,
		m.StoreErrors,
	)

	return m
}

func (m *Metrics) AddConnection() {
	if m == nil {
		return
	}
	m.ConnectionsAccepted.Inc()
	m.ConnectionsActive.Inc()
}

func (m *Metrics) RemoveConnection() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) AddRecord() {
	if m == nil {
		return
	}
	m.RecordsStored.Inc()
}

func (m *Metrics) AddMalformed() {
	if m == nil {
		return
	}
	m.LinesMalformed.Inc()
}

func (m *Metrics) AddKeepalive() {
	if m == nil {
		return
	}
	m.Keepalives.Inc()
}

func (m *Metrics) AddStoreError() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
