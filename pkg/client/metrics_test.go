package client

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSessionStarted()
	m.RecordMessageSent("hello")
	m.RecordMessageReceived("")
	m.RecordMessageReceived("channelAdd")
	m.RecordMessageReceived("channelAdd")
	m.RecordChannels(2)
	m.ObserveSyncDuration(150 * time.Millisecond)
	m.RecordTraffic(100, 2048)
	m.RecordAuthFailure()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesSent.WithLabelValues("hello")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesReceived.WithLabelValues("(reply)")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.messagesReceived.WithLabelValues("channelAdd")))

	m.RecordMessageReceived("tagAdd")
	m.RecordMessageReceived("dvrEntryUpdate")
	m.RecordMessageReceived("channelAdd\x00junk")
	assert.Equal(t, float64(3), testutil.ToFloat64(m.messagesReceived.WithLabelValues("other")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.messagesReceived))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.channels))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.bytesSent))
	assert.Equal(t, float64(2048), testutil.ToFloat64(m.bytesReceived))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.authFailures))

	m.RecordSessionEnded(OutcomeClosed)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sessionsEnded.WithLabelValues(OutcomeClosed)))

	count, err := testutil.GatherAndCount(reg, "tvhdiscover_sync_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSessionStarted()
		m.RecordSessionEnded(OutcomeCancelled)
		m.RecordAuthFailure()
		m.RecordMessageSent("hello")
		m.RecordMessageReceived("channelAdd")
		m.RecordChannels(3)
		m.ObserveSyncDuration(time.Second)
		m.RecordTraffic(1, 2)
	})
}

func TestNewMetricsPerRegistry(t *testing.T) {
	// Separate registries never collide
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
