package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaos-runner/internal/events"
)

func TestObserve(t *testing.T) {
	c := New()

	c.Observe(events.NewPhaseStartedEvent("stress", 1))
	c.Observe(events.NewInjectionAppliedEvent("stress", "web", "cpu_starvation", "goroutine", "cpu_starvation/web#1"))
	c.Observe(events.NewInjectionAppliedEvent("stress", "eth0", "network_latency", "simulated", "network_latency/eth0#2"))
	c.Observe(events.NewInjectionFailedEvent("stress", "eth0", "packet_loss", "privilege", errors.New("denied")))
	c.Observe(events.NewHandleCleanedEvent("stress", "web", "cpu_starvation", "cpu_starvation/web#1"))
	c.Observe(events.NewHandleLeakedEvent("stress", "eth0", "network_latency", "network_latency/eth0#2", errors.New("tc failed")))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.injections.WithLabelValues("cpu_starvation", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.injections.WithLabelValues("packet_loss", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.closed.WithLabelValues("cpu_starvation", "cleaned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.closed.WithLabelValues("network_latency", "leaked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.leaked))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.phaseIndex))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.phase.WithLabelValues("stress")))

	c.Observe(events.NewPhaseCompletedEvent("stress", 1))
	assert.Equal(t, -1.0, testutil.ToFloat64(c.phaseIndex))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.phase.WithLabelValues("stress")))

	c.Observe(events.NewScenarioFinishedEvent("demo", "completed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.scenarios.WithLabelValues("completed")))
}

func TestStartStopWithBus(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	c := New()
	c.Start(context.Background(), bus)
	c.Start(context.Background(), bus)
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Publish(events.NewInjectionAppliedEvent("p", "host", "disk_slow", "scratch-file", "disk_slow/host#1"))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.injections.WithLabelValues("disk_slow", "applied")) == 1
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestHandler(t *testing.T) {
	c := New()
	active := 3.0
	require.NoError(t, c.GaugeFunc("active_handles", "Handles currently active", func() float64 { return active }))
	assert.Error(t, c.GaugeFunc("active_handles", "duplicate", func() float64 { return 0 }))
	c.Observe(events.NewInjectionAppliedEvent("p", "host", "memory_pressure", "heap", "memory_pressure/host#1"))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "chaos_runner_active_handles 3")
	assert.Contains(t, text, `chaos_runner_injections_total{kind="memory_pressure",outcome="applied"} 1`)
	assert.Contains(t, text, "chaos_runner_phase_index -1")
	assert.Contains(t, text, "go_goroutines")
}
