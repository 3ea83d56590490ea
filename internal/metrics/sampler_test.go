package metrics

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constProbe(id string, v float64) ProbeFunc {
	return ProbeFunc{ID: id, Fn: func(context.Context) ([]Reading, error) {
		return []Reading{{Metric: MetricCPUPercent, Value: v}}, nil
	}}
}

func TestSamplerTagsPhase(t *testing.T) {
	s := NewSampler(Config{Interval: 5 * time.Millisecond}, constProbe("host", 1))
	s.SetPhase("baseline")
	s.Start(context.Background())

	require.Eventually(t, func() bool { return len(s.PhaseSamples("baseline")) >= 3 }, time.Second, time.Millisecond)
	s.SetPhase("stress")
	require.Eventually(t, func() bool { return len(s.PhaseSamples("stress")) >= 3 }, time.Second, time.Millisecond)
	s.Stop()

	for _, sample := range s.Samples() {
		assert.Contains(t, []string{"baseline", "stress"}, sample.Phase)
		assert.Equal(t, "host", sample.TargetID)
		assert.False(t, sample.Timestamp.IsZero())
	}
	assert.Equal(t, "stress", s.Phase())
}

func TestSamplerStartStopIdempotent(t *testing.T) {
	s := NewSampler(Config{Interval: 5 * time.Millisecond})
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
	assert.Empty(t, s.Samples())
}

func TestSamplerCountsGaps(t *testing.T) {
	failing := ProbeFunc{ID: "web", Fn: func(context.Context) ([]Reading, error) {
		return nil, errors.New("connection refused")
	}}
	s := NewSampler(Config{Interval: 5 * time.Millisecond}, failing, constProbe("host", 1))
	s.SetPhase("p")
	s.Start(context.Background())

	require.Eventually(t, func() bool { return s.Gaps("p") >= 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(s.PhaseSamples("p")) >= 2 }, time.Second, time.Millisecond)
	s.Stop()

	for _, sample := range s.Samples() {
		assert.Equal(t, "host", sample.TargetID)
	}
}

func TestSamplerSlowProbeDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	slow := ProbeFunc{ID: "slow", Fn: func(ctx context.Context) ([]Reading, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}}

	s := NewSampler(Config{Interval: 5 * time.Millisecond, ProbeTimeout: time.Minute}, slow, constProbe("fast", 1))
	s.SetPhase("p")
	s.Start(context.Background())

	require.Eventually(t, func() bool { return len(s.PhaseSamples("p")) >= 5 }, time.Second, time.Millisecond)
	// 前回の計測が終わるまで同じプローブは実行されない
	assert.Equal(t, int32(1), calls.Load())
	assert.Positive(t, s.Gaps("p"))

	close(release)
	s.Stop()
}

func TestSamplerMaxSamples(t *testing.T) {
	s := NewSampler(Config{Interval: 2 * time.Millisecond, MaxSamples: 3}, constProbe("host", 1))
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Dropped() > 0 }, time.Second, time.Millisecond)
	s.Stop()
	assert.Len(t, s.Samples(), 3)
}
