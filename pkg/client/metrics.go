package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of discovery sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	activeSessions  prometheus.Gauge
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec // by outcome
	authFailures    prometheus.Counter

	// Message metrics
	messagesReceived *prometheus.CounterVec // by method
	messagesSent     *prometheus.CounterVec // by method

	// Catalog metrics
	channels     prometheus.Gauge
	syncDuration prometheus.Histogram

	// Traffic metrics
	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
}

// NewMetrics registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tvhdiscover_active_sessions",
				Help: "Current number of running discovery sessions",
			},
		),
		sessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tvhdiscover_sessions_started_total",
				Help: "Total number of discovery sessions started",
			},
		),
		sessionsEnded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tvhdiscover_sessions_ended_total",
				Help: "Total number of discovery sessions ended by outcome",
			},
			[]string{"outcome"},
		),
		authFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tvhdiscover_auth_failures_total",
				Help: "Total number of rejected authenticate requests",
			},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tvhdiscover_messages_received_total",
				Help: "Total number of HTSP messages received by method",
			},
			[]string{"method"},
		),
		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tvhdiscover_messages_sent_total",
				Help: "Total number of HTSP requests sent by method",
			},
			[]string{"method"},
		),
		channels: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tvhdiscover_channels",
				Help: "Number of channels published by the last sync",
			},
		),
		syncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tvhdiscover_sync_duration_seconds",
				Help:    "Time from enableAsyncMetadata to the last published channel",
				Buckets: prometheus.DefBuckets,
			},
		),
		bytesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tvhdiscover_sent_bytes_total",
				Help: "Total bytes written to HTSP connections",
			},
		),
		bytesReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tvhdiscover_received_bytes_total",
				Help: "Total bytes read from HTSP connections",
			},
		),
	}
}

// RecordSessionStarted increments the session counters
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
}

// RecordSessionEnded records how a session ended
func (m *Metrics) RecordSessionEnded(outcome string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsEnded.WithLabelValues(outcome).Inc()
}

// RecordAuthFailure increments the rejected authentication counter
func (m *Metrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// RecordMessageReceived increments the counter for an incoming method
func (m *Metrics) RecordMessageReceived(method string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(methodLabel(method)).Inc()
}

// RecordMessageSent increments the counter for an outgoing method
func (m *Metrics) RecordMessageSent(method string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(methodLabel(method)).Inc()
}

// RecordChannels sets the published channel count
func (m *Metrics) RecordChannels(count int) {
	if m == nil {
		return
	}
	m.channels.Set(float64(count))
}

// ObserveSyncDuration records how long a channel sync took
func (m *Metrics) ObserveSyncDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(d.Seconds())
}

// RecordTraffic adds the byte totals of a finished connection
func (m *Metrics) RecordTraffic(sent, received uint64) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(sent))
	m.bytesReceived.Add(float64(received))
}

// knownMethods are the methods that get their own label. Anything else the
// server sends is counted as "other" to keep the series bounded.
var knownMethods = map[string]bool{
	"hello":                true,
	"authenticate":         true,
	"enableAsyncMetadata":  true,
	"channelAdd":           true,
	"initialSyncCompleted": true,
}

// methodLabel keeps replies without a method under one label
func methodLabel(method string) string {
	switch {
	case method == "":
		return "(reply)"
	case knownMethods[method]:
		return method
	default:
		return "other"
	}
}
