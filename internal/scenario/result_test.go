package scenario

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaos-runner/internal/metrics"
	"chaos-runner/internal/registry"
)

func sampleResult() *Result {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &Result{
		RunID:          "run-1",
		ScenarioName:   "report",
		Status:         StatusCompleted,
		NetworkBackend: "simulated",
		StartTime:      start,
		EndTime:        start.Add(3 * time.Second),
		Duration:       3 * time.Second,
		Phases: []PhaseResult{
			{
				Name:      "stress",
				State:     PhaseCompleted,
				Parallel:  true,
				Declared:  3 * time.Second,
				StartTime: start,
				EndTime:   start.Add(3 * time.Second),
				Injections: []InjectionOutcome{
					{Kind: "cpu_starvation", TargetID: "host", Params: "intensity=0.50 workers=1", Status: OutcomeSucceeded, Variant: "busy-loop"},
					{Kind: "memory_pressure", TargetID: "host", Status: OutcomeApplyFailed, ErrorKind: "privilege", Error: "denied"},
				},
				Stats: []metrics.TargetStats{
					{TargetID: "host", Metric: metrics.MetricCPUPercent, Stats: metrics.Stats{Count: 3, Min: 40, Mean: 50, Max: 60, P95: 60}},
				},
				Samples: 3,
				Gaps:    1,
			},
		},
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		status Status
		leaked bool
		want   int
		strict int
	}{
		{StatusCompleted, false, ExitCompleted, ExitCompleted},
		{StatusCompleted, true, ExitCompleted, ExitLeaked},
		{StatusFailed, false, ExitFailed, ExitFailed},
		{StatusFailed, true, ExitFailed, ExitFailed},
		{StatusCancelled, true, ExitCancelled, ExitCancelled},
		{StatusInvalid, false, ExitInvalid, ExitInvalid},
	}
	for _, tt := range tests {
		r := &Result{Status: tt.status}
		if tt.leaked {
			r.Leaked = []registry.HandleInfo{{ID: "x"}}
		}
		assert.Equal(t, tt.want, r.ExitCode(), "%s leaked=%t", tt.status, tt.leaked)
		assert.Equal(t, tt.strict, r.ExitCodeFailOnLeak(), "%s leaked=%t fail-on-leak", tt.status, tt.leaked)
	}
}

func TestReport(t *testing.T) {
	report := sampleResult().Report()

	assert.Contains(t, report, "SCENARIO REPORT: report")
	assert.Contains(t, report, "completed")
	assert.Contains(t, report, "simulated")
	assert.Contains(t, report, "stress")
	assert.Contains(t, report, "(parallel)")
	assert.Contains(t, report, "via busy-loop")
	assert.Contains(t, report, "[privilege: denied]")
	assert.Contains(t, report, "mean=50.00")
	assert.Contains(t, report, "sampling gaps: 1")
	assert.NotContains(t, report, "LEAKED HANDLES")
	assert.NotContains(t, report, "VALIDATION ERRORS")
}

func TestReportSLOs(t *testing.T) {
	r := sampleResult()
	r.Phases[0].SLOs = []metrics.SLOSummary{
		{Name: "api-100ms", TargetID: "api", Threshold: 100 * time.Millisecond, Checked: 4, Violations: 1, Rate: 0.25},
	}
	r.SLOs = []metrics.SLOSummary{
		{Name: "api-100ms", TargetID: "api", Threshold: 100 * time.Millisecond, Checked: 10, Violations: 0},
	}
	report := r.Report()

	assert.Contains(t, report, "VIOLATED 1/4 (25.0%)")
	assert.Contains(t, report, "SLO SUMMARY")
	assert.Contains(t, report, "MET      0/10 (0.0%)")
}

func TestReportInvalid(t *testing.T) {
	r := &Result{ScenarioName: "bad", Status: StatusInvalid, Violations: []string{"phases: at least one phase is required"}}
	report := r.Report()
	assert.Contains(t, report, "VALIDATION ERRORS")
	assert.Contains(t, report, "at least one phase is required")
}

func TestResultJSON(t *testing.T) {
	data, err := sampleResult().JSON()
	require.NoError(t, err)

	var decoded struct {
		Status string `json:"status"`
		Phases []struct {
			Name       string `json:"name"`
			State      string `json:"state"`
			Injections []struct {
				Status    string `json:"status"`
				ErrorKind string `json:"error_kind"`
			} `json:"injections"`
		} `json:"phases"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "completed", decoded.Status)
	require.Len(t, decoded.Phases, 1)
	assert.Equal(t, "completed", decoded.Phases[0].State)
	require.Len(t, decoded.Phases[0].Injections, 2)
	assert.Equal(t, "succeeded", decoded.Phases[0].Injections[0].Status)
	assert.Equal(t, "apply_failed", decoded.Phases[0].Injections[1].Status)
	assert.Equal(t, "privilege", decoded.Phases[0].Injections[1].ErrorKind)
}

func TestPhaseResultHelpers(t *testing.T) {
	r := sampleResult()
	p, ok := r.Phase("stress")
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, p.Duration())
	assert.Equal(t, 1, p.Count(OutcomeSucceeded))
	assert.Equal(t, 1, p.Count(OutcomeApplyFailed))

	s, ok := p.Stat("host", metrics.MetricCPUPercent)
	require.True(t, ok)
	assert.Equal(t, 50.0, s.Mean)

	_, ok = r.Phase("missing")
	assert.False(t, ok)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "cancelled", StatusCancelled.String())
	assert.Equal(t, "skipped", PhaseSkipped.String())
	assert.Equal(t, "cleanup_failed", OutcomeCleanupFailed.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestStatusUnmarshalText(t *testing.T) {
	var st Status
	require.NoError(t, st.UnmarshalText([]byte("cancelled")))
	assert.Equal(t, StatusCancelled, st)
	assert.Error(t, st.UnmarshalText([]byte("paused")))
}
