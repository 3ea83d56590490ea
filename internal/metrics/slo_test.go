package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func latencySample(target, phase string, ms float64) Sample {
	return Sample{Timestamp: time.Now(), Phase: phase, TargetID: target, Metric: MetricLatencyMs, Value: ms}
}

func TestTrackerRecordsViolations(t *testing.T) {
	tracker := NewTracker(SLO{Name: "api-100ms", TargetID: "api", Threshold: 100 * time.Millisecond})

	tracker.Check(latencySample("api", "baseline", 20))
	tracker.Check(latencySample("api", "degraded", 150))
	tracker.Check(latencySample("api", "degraded", 100)) // しきい値ちょうどは違反ではない
	tracker.Check(latencySample("db", "degraded", 500))   // 別ターゲット
	tracker.Check(Sample{TargetID: "api", Metric: MetricCPUPercent, Value: 900})

	require.Equal(t, 1, tracker.ViolationCount())
	v := tracker.Violations()[0]
	assert.Equal(t, "api-100ms", v.SLO)
	assert.Equal(t, "degraded", v.Phase)
	assert.Equal(t, 150*time.Millisecond, v.Actual)
	assert.Equal(t, 100*time.Millisecond, v.Threshold)

	summary := tracker.Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, 3, summary[0].Checked)
	assert.Equal(t, 1, summary[0].Violations)
	assert.InDelta(t, 1.0/3, summary[0].Rate, 1e-9)
	assert.False(t, summary[0].Met())
}

func TestTrackerWithoutTargetAppliesToAll(t *testing.T) {
	tracker := NewTracker()
	tracker.Add(SLO{Name: "any-50ms", Threshold: 50 * time.Millisecond})

	tracker.Check(latencySample("api", "p", 60))
	tracker.Check(latencySample("db", "p", 70))

	assert.Equal(t, 2, tracker.ViolationCount())
	assert.Equal(t, 2, tracker.Summary()[0].Checked)
}

func TestViolationRate(t *testing.T) {
	assert.Equal(t, 0.0, ViolationRate(3, 0))
	assert.Equal(t, 0.25, ViolationRate(1, 4))
}

func TestEvaluateSLOs(t *testing.T) {
	summary, violations := EvaluateSLOs(nil, []Sample{latencySample("api", "p", 1000)})
	assert.Nil(t, summary)
	assert.Nil(t, violations)

	slos := []SLO{
		{Name: "strict", Threshold: 10 * time.Millisecond},
		{Name: "loose", Threshold: time.Second},
	}
	samples := []Sample{latencySample("api", "p", 5), latencySample("api", "p", 50)}
	summary, violations = EvaluateSLOs(slos, samples)

	require.Len(t, summary, 2)
	assert.Equal(t, 1, summary[0].Violations)
	assert.True(t, summary[1].Met())
	require.Len(t, violations, 1)
	assert.Equal(t, "strict", violations[0].SLO)
}
