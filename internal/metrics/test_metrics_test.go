package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordsCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRemote("generate", "ok", 20*time.Millisecond)
	m.ObserveRemote("generate", "rate_limited", time.Millisecond)
	m.ObserveRemote("generate", "ok", time.Millisecond)
	m.CacheLookup("hit")
	m.CacheWrite(false)
	m.Transition("Ready")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.remoteCalls.WithLabelValues("generate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteCalls.WithLabelValues("generate", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheWrites.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("Ready")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRemote("ask", "ok", time.Second)
	m.CacheLookup("miss")
	m.CacheWrite(true)
	m.Transition("Idle")
}
