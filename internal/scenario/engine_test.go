package scenario

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/command/commandtest"
	"chaos-runner/internal/errs"
	"chaos-runner/internal/events"
	"chaos-runner/internal/hostinfo"
	"chaos-runner/internal/metrics"
	"chaos-runner/internal/platform"
	"chaos-runner/internal/registry"
	"chaos-runner/internal/target"
)

func TestNewEngine(t *testing.T) {
	e := New(DefaultConfig())

	assert.False(t, e.IsRunning())
	assert.False(t, e.Cancel())
	assert.Nil(t, e.LastResult())
	assert.Empty(t, e.Handles())

	snap := e.Snapshot()
	assert.Equal(t, StatusPending, snap.Status)
	assert.Equal(t, -1, snap.PhaseIndex)
}

func TestRunBaselineStressRecovery(t *testing.T) {
	w := newWorld()
	e := newTestEngine(testConfig(), w, newFakeCatalog(w))

	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()
	e.SetEventBus(bus)

	s := &Scenario{
		Name: "three-phase",
		Phases: []Phase{
			{Name: "baseline", Duration: 200 * time.Millisecond},
			{Name: "stress", Duration: 200 * time.Millisecond, Injections: []InjectionSpec{cpuInjection()}},
			{Name: "recovery", Duration: 200 * time.Millisecond},
		},
	}

	result, err := e.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, ExitCompleted, result.ExitCode())
	assert.NotEmpty(t, result.RunID)
	assert.Same(t, result, e.LastResult())
	require.Len(t, result.Phases, 3)

	for i, name := range []string{"baseline", "stress", "recovery"} {
		p := result.Phases[i]
		assert.Equal(t, name, p.Name)
		assert.Equal(t, i, p.Index)
		assert.Equal(t, PhaseCompleted, p.State)
		assert.GreaterOrEqual(t, p.Duration(), 200*time.Millisecond)
		assert.Positive(t, p.Samples, "phase %s has no samples", name)
	}

	stress := result.Phases[1]
	require.Len(t, stress.Injections, 1)
	out := stress.Injections[0]
	assert.Equal(t, OutcomeSucceeded, out.Status)
	assert.Equal(t, "cpu_starvation", out.Kind)
	assert.Equal(t, metrics.HostTargetID, out.TargetID)
	assert.Equal(t, "cpu_starvation/host#1", out.HandleID)
	assert.Equal(t, "fake", out.Variant)

	assert.Equal(t, []string{"apply cpu_starvation host", "revert cpu_starvation host"}, w.Log())

	// 中央値はフェーズ境界のサンプルの影響を受けない
	base, ok := result.Phases[0].Stat(metrics.HostTargetID, metrics.MetricCPUPercent)
	require.True(t, ok)
	assert.Equal(t, 5.0, base.P50)

	during, ok := result.Phases[1].Stat(metrics.HostTargetID, metrics.MetricCPUPercent)
	require.True(t, ok)
	assert.Equal(t, 80.0, during.P50)

	after, ok := result.Phases[2].Stat(metrics.HostTargetID, metrics.MetricCPUPercent)
	require.True(t, ok)
	assert.Equal(t, 5.0, after.P50)

	assert.NotEmpty(t, result.Overall)
	assert.Empty(t, result.Leaked)

	var types []events.EventType
	for len(sub) > 0 {
		types = append(types, (<-sub).Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, events.EventScenarioStarted, types[0])
	assert.Equal(t, events.EventScenarioFinished, types[len(types)-1])
	assert.Contains(t, types, events.EventInjectionApplied)
	assert.Contains(t, types, events.EventHandleCleaned)

	snap := e.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 0, snap.Active)
	assert.False(t, e.IsRunning())
}

func TestRunEvaluatesSLOsPerPhase(t *testing.T) {
	w := newWorld()
	e := newTestEngine(testConfig(), w, newFakeCatalog(w))
	e.SetProbes(w.latencyProbe("api"))

	s := &Scenario{
		Name: "slo",
		Targets: []target.Spec{
			{ID: "api", Kind: target.KindProcess, Descriptor: "api-server", ProbeAddress: "127.0.0.1:8080"},
		},
		Phases: []Phase{
			{Name: "baseline", Duration: 100 * time.Millisecond},
			{Name: "stress", Duration: 100 * time.Millisecond, Injections: []InjectionSpec{cpuInjection()}},
		},
		SLOs: []metrics.SLO{{Name: "api-100ms", TargetID: "api", Threshold: 100 * time.Millisecond}},
	}

	result, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	baseline := result.Phases[0]
	require.Len(t, baseline.SLOs, 1)
	assert.True(t, baseline.SLOs[0].Met())
	assert.Positive(t, baseline.SLOs[0].Checked)
	assert.Empty(t, baseline.SLOViolations)

	stress := result.Phases[1]
	require.Len(t, stress.SLOs, 1)
	assert.False(t, stress.SLOs[0].Met())
	require.NotEmpty(t, stress.SLOViolations)
	assert.Equal(t, "stress", stress.SLOViolations[0].Phase)
	assert.Equal(t, 250*time.Millisecond, stress.SLOViolations[0].Actual)

	require.Len(t, result.SLOs, 1)
	assert.GreaterOrEqual(t, result.SLOs[0].Checked, baseline.SLOs[0].Checked+stress.SLOs[0].Checked)
	assert.Contains(t, result.Report(), "SLO SUMMARY")
}

func TestRunSequentialRevertsInReverseOrder(t *testing.T) {
	w := newWorld()
	e := newTestEngine(testConfig(), w, newFakeCatalog(w))

	s := &Scenario{
		Name: "sequential",
		Phases: []Phase{{
			Name:     "resources",
			Duration: 50 * time.Millisecond,
			Injections: []InjectionSpec{
				cpuInjection(),
				hostInjection(chaos.KindMemoryPressure),
				hostInjection(chaos.KindDiskSlow),
			},
		}},
	}

	result, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	assert.Equal(t, []string{
		"apply cpu_starvation host",
		"apply memory_pressure host",
		"apply disk_slow host",
		"revert disk_slow host",
		"revert memory_pressure host",
		"revert cpu_starvation host",
	}, w.Log())
}

func TestRunParallelAppliesBeforeDuration(t *testing.T) {
	w := newWorld()
	w.barrierN = 3
	e := newTestEngine(testConfig(), w, newFakeCatalog(w))

	const duration = 150 * time.Millisecond
	s := &Scenario{
		Name: "parallel",
		Phases: []Phase{{
			Name:     "all-at-once",
			Duration: duration,
			Parallel: true,
			Injections: []InjectionSpec{
				cpuInjection(),
				hostInjection(chaos.KindMemoryPressure),
				hostInjection(chaos.KindDiskSlow),
			},
		}},
	}

	result, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 3, result.Phases[0].Count(OutcomeSucceeded))

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.applied, 3)
	require.Len(t, w.reverted, 3)

	lastApply := w.applied[0]
	for _, at := range w.applied {
		if at.After(lastApply) {
			lastApply = at
		}
	}
	firstRevert := w.reverted[0]
	for _, at := range w.reverted {
		if at.Before(firstRevert) {
			firstRevert = at
		}
	}
	assert.GreaterOrEqual(t, firstRevert.Sub(lastApply), duration)
}

func TestRunCancellationRevertsEverything(t *testing.T) {
	w := newWorld()
	e := newTestEngine(testConfig(), w, newFakeCatalog(w))

	s := &Scenario{
		Name: "cancel-me",
		Phases: []Phase{
			{
				Name:     "long",
				Duration: 10 * time.Second,
				Parallel: true,
				Injections: []InjectionSpec{
					cpuInjection(),
					hostInjection(chaos.KindMemoryPressure),
				},
			},
			{Name: "after", Duration: time.Second},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *Result, 1)
	go func() {
		result, _ := e.Run(ctx, s)
		done <- result
	}()

	require.Eventually(t, func() bool { return e.Snapshot().Active == 2 }, 2*time.Second, 5*time.Millisecond)
	snap := e.Snapshot()
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, "long", snap.Phase)
	assert.Equal(t, 0, snap.PhaseIndex)
	assert.Equal(t, 2, snap.PhaseCount)

	start := time.Now()
	cancel()

	var result *Result
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, StatusCancelled, result.Status)
	assert.Equal(t, ExitCancelled, result.ExitCode())
	require.Len(t, result.Phases, 2)
	assert.Equal(t, PhaseCancelled, result.Phases[0].State)
	assert.Equal(t, PhaseSkipped, result.Phases[1].State)
	assert.Equal(t, 2, result.Phases[0].Count(OutcomeSucceeded))

	assert.Equal(t, 0, w.ActiveCount())
	for _, h := range e.Handles() {
		assert.Equal(t, registry.StateCleaned.String(), h.State, h.ID)
	}
}

func TestRunCancelDuringRampUp(t *testing.T) {
	w := newWorld()
	e := newTestEngine(testConfig(), w, newFakeCatalog(w))

	s := &Scenario{
		Name:   "ramp",
		RampUp: 10 * time.Second,
		Phases: []Phase{
			{Name: "stress", Duration: time.Second, Injections: []InjectionSpec{cpuInjection()}},
		},
	}

	done := make(chan *Result, 1)
	go func() {
		result, _ := e.Run(context.Background(), s)
		done <- result
	}()

	require.Eventually(t, e.Cancel, 2*time.Second, 5*time.Millisecond)

	result := <-done
	assert.Equal(t, StatusCancelled, result.Status)
	require.Len(t, result.Phases, 1)
	assert.Equal(t, PhaseSkipped, result.Phases[0].State)
	assert.Empty(t, w.Log())
}

func TestRunContinuesPastApplyFailure(t *testing.T) {
	w := newWorld()
	cat := newFakeCatalog(w)
	cat[chaos.KindMemoryPressure].applyErr = errs.Privilege("mlock", nil, "operation not permitted")
	e := newTestEngine(testConfig(), w, cat)

	s := &Scenario{
		Name: "continue",
		Phases: []Phase{{
			Name:     "mixed",
			Duration: 50 * time.Millisecond,
			Injections: []InjectionSpec{
				cpuInjection(),
				hostInjection(chaos.KindMemoryPressure),
				hostInjection(chaos.KindDiskSlow),
			},
		}},
	}

	result, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, ExitCompleted, result.ExitCode())

	outs := result.Phases[0].Injections
	assert.Equal(t, OutcomeSucceeded, outs[0].Status)
	assert.Equal(t, OutcomeApplyFailed, outs[1].Status)
	assert.Equal(t, "privilege", outs[1].ErrorKind)
	assert.Contains(t, outs[1].Error, "mlock")
	assert.Equal(t, OutcomeSucceeded, outs[2].Status)
}

func TestRunFailFast(t *testing.T) {
	w := newWorld()
	cat := newFakeCatalog(w)
	cat[chaos.KindMemoryPressure].applyErr = errs.Privilege("mlock", nil, "operation not permitted")

	config := testConfig()
	config.FailFast = true
	e := newTestEngine(config, w, cat)

	s := &Scenario{
		Name: "fail-fast",
		Phases: []Phase{
			{
				Name:     "mixed",
				Duration: time.Second,
				Injections: []InjectionSpec{
					cpuInjection(),
					hostInjection(chaos.KindMemoryPressure),
					hostInjection(chaos.KindDiskSlow),
				},
			},
			{Name: "never", Duration: time.Second},
		},
	}

	start := time.Now()
	result, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, ExitFailed, result.ExitCode())
	assert.NotEmpty(t, result.Error)
	require.Len(t, result.Phases, 2)
	assert.Equal(t, PhaseFailed, result.Phases[0].State)
	assert.Equal(t, PhaseSkipped, result.Phases[1].State)

	outs := result.Phases[0].Injections
	assert.Equal(t, OutcomeSucceeded, outs[0].Status)
	assert.Equal(t, OutcomeApplyFailed, outs[1].Status)
	assert.Equal(t, OutcomeSkipped, outs[2].Status)

	assert.Equal(t, []string{"apply cpu_starvation host", "revert cpu_starvation host"}, w.Log())
}

func TestRunFailsWhenNoTargetResolves(t *testing.T) {
	w := newWorld()
	e := newTestEngine(testConfig(), w, newFakeCatalog(w))
	e.SetResolver(&fakeResolver{errs: map[string]error{
		"api": errs.Resolution("api", nil, "no process named %q", "api-server"),
	}})

	s := &Scenario{
		Name:    "unresolvable",
		Targets: []target.Spec{{ID: "api", Kind: target.KindProcess, Descriptor: "api-server"}},
		Phases: []Phase{{
			Name:       "kill",
			Duration:   time.Second,
			Injections: []InjectionSpec{{Kind: chaos.KindProcessKill, Target: "api", Params: chaos.DefaultParams(chaos.KindProcessKill)}},
		}},
	}

	result, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	out := result.Phases[0].Injections[0]
	assert.Equal(t, OutcomeApplyFailed, out.Status)
	assert.Equal(t, "target_resolution", out.ErrorKind)
	assert.Equal(t, "api", out.TargetID)
	assert.Empty(t, w.Log())
}

func TestRunLeakedHandle(t *testing.T) {
	w := newWorld()
	cat := newFakeCatalog(w)
	cat[chaos.KindDiskSlow].revertErr = errs.Command("rm scratch", nil, "device busy")
	e := newTestEngine(testConfig(), w, cat)

	s := &Scenario{
		Name: "leaky",
		Phases: []Phase{{
			Name:       "disk",
			Duration:   20 * time.Millisecond,
			Injections: []InjectionSpec{hostInjection(chaos.KindDiskSlow)},
		}},
	}

	result, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, ExitCompleted, result.ExitCode())
	assert.Equal(t, ExitLeaked, result.ExitCodeFailOnLeak())

	require.Len(t, result.Leaked, 1)
	assert.Equal(t, "disk_slow/host#1", result.Leaked[0].ID)
	assert.Equal(t, "disk_slow host", result.Leaked[0].Metadata["key"])

	out := result.Phases[0].Injections[0]
	assert.Equal(t, OutcomeCleanupFailed, out.Status)
	assert.Equal(t, "cleanup", out.ErrorKind)

	report := result.Report()
	assert.Contains(t, report, "LEAKED HANDLES")
	assert.Contains(t, report, "disk_slow/host#1")
	assert.Contains(t, report, "key=disk_slow host")
}

func TestRunInvalidScenario(t *testing.T) {
	w := newWorld()
	e := newTestEngine(testConfig(), w, newFakeCatalog(w))

	s := &Scenario{
		Name:    "broken",
		Targets: []target.Spec{{ID: "eth", Kind: target.KindNetworkInterface}},
	}

	result, err := e.Run(context.Background(), s)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, StatusInvalid, result.Status)
	assert.Equal(t, ExitInvalid, result.ExitCode())
	assert.Len(t, result.Violations, 2)
	assert.Empty(t, w.Log())
	assert.False(t, e.IsRunning())
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	w := newWorld()
	e := newTestEngine(testConfig(), w, newFakeCatalog(w))

	s := &Scenario{
		Name:   "long",
		Phases: []Phase{{Name: "wait", Duration: 10 * time.Second}},
	}

	done := make(chan *Result, 1)
	go func() {
		result, _ := e.Run(context.Background(), s)
		done <- result
	}()
	require.Eventually(t, e.IsRunning, 2*time.Second, 5*time.Millisecond)

	_, err := e.Run(context.Background(), s)
	assert.Error(t, err)

	require.Eventually(t, e.Cancel, 2*time.Second, 5*time.Millisecond)
	result := <-done
	assert.Equal(t, StatusCancelled, result.Status)
}

func TestRunSimulatedLatencyNeedsNoPrivilege(t *testing.T) {
	runner := commandtest.NewFake()
	runner.Missing("tc", "iptables", "dnctl", "pfctl")

	catalog := chaos.NewCatalog(chaos.CatalogOptions{
		Runner:      runner,
		Host:        platform.Detect(runner, platform.Current()),
		NetworkMode: platform.ModeAuto,
		ScratchDir:  t.TempDir(),
	})
	resolver := target.NewResolver(nil, func(name string) (*net.Interface, error) {
		return &net.Interface{Name: name, Index: 1}, nil
	})

	e := New(testConfig())
	e.SetInjectors(catalog)
	e.SetResolver(resolver)
	e.SetProbes()

	s := LatencySimScenario()
	for i := range s.Phases {
		s.Phases[i].Duration = 30 * time.Millisecond
	}

	result, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "simulated", result.NetworkBackend)

	degraded, ok := result.Phase("degraded")
	require.True(t, ok)
	for _, out := range degraded.Injections {
		assert.Equal(t, OutcomeSucceeded, out.Status, out.Kind)
		assert.NotEqual(t, "privilege", out.ErrorKind)
		assert.Equal(t, "simulated", out.Variant)
	}
	assert.Zero(t, catalog.SimTable().Len())
}

func TestRunRealCPUStarvation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real CPU load in short mode")
	}

	runner := commandtest.NewFake()
	catalog := chaos.NewCatalog(chaos.CatalogOptions{
		Runner:      runner,
		Host:        platform.Host{OS: platform.Current()},
		NetworkMode: platform.ModeSimulated,
		ScratchDir:  t.TempDir(),
	})

	config := testConfig()
	config.SampleInterval = 50 * time.Millisecond
	e := New(config)
	e.SetInjectors(catalog)
	e.SetProbes(metrics.NewHostProbe(hostinfo.NewReader()))

	s := QuickScenario()
	s.Phases[0].Duration = 200 * time.Millisecond
	s.Phases[1].Duration = 500 * time.Millisecond
	s.Phases[2].Duration = 200 * time.Millisecond

	result, err := e.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	cpu, ok := result.Phase("cpu")
	require.True(t, ok)
	require.Len(t, cpu.Injections, 1)
	assert.Equal(t, OutcomeSucceeded, cpu.Injections[0].Status)
	assert.Empty(t, result.Leaked)
}
