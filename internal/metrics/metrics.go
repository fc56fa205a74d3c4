// Package metrics holds the server's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of server collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	pulsesRelayed  prometheus.Counter
	pulsesDropped  *prometheus.CounterVec
	queueMutations *prometheus.CounterVec
	ghostSignals   *prometheus.CounterVec
	openChannels   prometheus.Gauge
	pulseFanout    prometheus.Histogram
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pulsesRelayed: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "tunr_pulses_relayed_total", Help: "Host pulses relayed to room members"},
		),
		pulsesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tunr_pulses_dropped_total", Help: "Pulses not relayed"},
			[]string{"reason"},
		),
		queueMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tunr_queue_mutations_total", Help: "Queue writes"},
			[]string{"op", "outcome"},
		),
		ghostSignals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tunr_zero_row_bulk_writes_total", Help: "Room-scoped writes that matched no owned rows"},
			[]string{"op"},
		),
		openChannels: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "tunr_sync_channels_open", Help: "Open realtime sync channels"},
		),
		pulseFanout: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tunr_pulse_fanout",
				Help:    "Members reached per relayed pulse",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),
	}
	m.registry.MustRegister(
		m.pulsesRelayed,
		m.pulsesDropped,
		m.queueMutations,
		m.ghostSignals,
		m.openChannels,
		m.pulseFanout,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PulseRelayed(fanout int) {
	if m == nil {
		return
	}
	m.pulsesRelayed.Inc()
	m.pulseFanout.Observe(float64(fanout))
}

func (m *Metrics) PulseDropped(reason string) {
	if m == nil {
		return
	}
	m.pulsesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) QueueMutation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.queueMutations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ZeroRowBulkWrite(op string) {
	if m == nil {
		return
	}
	m.ghostSignals.WithLabelValues(op).Inc()
}

func (m *Metrics) ChannelOpened() {
	if m == nil {
		return
	}
	m.openChannels.Inc()
}

func (m *Metrics) ChannelClosed() {
	if m == nil {
		return
	}
	m.openChannels.Dec()
}
