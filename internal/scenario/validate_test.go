package scenario

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/errs"
	"chaos-runner/internal/metrics"
	"chaos-runner/internal/target"
)

func validScenario() *Scenario {
	return &Scenario{
		Name: "valid",
		Targets: []target.Spec{
			{ID: "eth", Kind: target.KindNetworkInterface, Descriptor: "eth0", ProbeAddress: "127.0.0.1:8080"},
			{ID: "api", Kind: target.KindProcess, Descriptor: "api-server"},
		},
		Phases: []Phase{
			{Name: "baseline", Duration: time.Second},
			{
				Name:     "degraded",
				Duration: time.Second,
				Injections: []InjectionSpec{
					{Kind: chaos.KindNetworkLatency, Target: "eth", Params: chaos.DefaultParams(chaos.KindNetworkLatency)},
					{Kind: chaos.KindProcessKill, Target: "api", Params: chaos.DefaultParams(chaos.KindProcessKill)},
					cpuInjection(),
				},
			},
		},
	}
}

func TestValidateOnlyAcceptsValidScenario(t *testing.T) {
	assert.Empty(t, ValidateOnly(validScenario(), DefaultConfig()))
}

func TestValidateOnly(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Scenario, c *Config)
		field  string
	}{
		{"missing name", func(s *Scenario, _ *Config) { s.Name = "" }, "name"},
		{"negative ramp up", func(s *Scenario, _ *Config) { s.RampUp = -time.Second }, "ramp_up"},
		{"no phases", func(s *Scenario, _ *Config) { s.Phases = nil }, "phases"},
		{"zero duration", func(s *Scenario, _ *Config) { s.Phases[0].Duration = 0 }, "phases[0]"},
		{"too long", func(s *Scenario, _ *Config) { s.Phases[1].Duration = 2 * time.Hour }, "phases[1]"},
		{"duplicate phase", func(s *Scenario, _ *Config) { s.Phases[1].Name = "baseline" }, "phases[1]"},
		{"empty phase name", func(s *Scenario, _ *Config) { s.Phases[0].Name = "" }, "phases[0]"},
		{"reserved target id", func(s *Scenario, _ *Config) {
			s.Targets[1].ID = "host"
			s.Phases[1].Injections[1].Target = "host"
		}, "targets[1]"},
		{"duplicate target", func(s *Scenario, _ *Config) {
			s.Targets = append(s.Targets, target.Spec{ID: "api", Kind: target.KindProcess, Descriptor: "worker"})
		}, "targets[2]"},
		{"missing descriptor", func(s *Scenario, _ *Config) { s.Targets[0].Descriptor = "" }, "targets[0]"},
		{"bad probe address", func(s *Scenario, _ *Config) { s.Targets[0].ProbeAddress = "localhost" }, "targets[0]"},
		{"unknown kind", func(s *Scenario, _ *Config) { s.Phases[1].Injections[2].Kind = chaos.Kind(99) }, "phases[1].injections[2]"},
		{"unknown target", func(s *Scenario, _ *Config) { s.Phases[1].Injections[0].Target = "nope" }, "phases[1].injections[0]"},
		{"missing target", func(s *Scenario, _ *Config) { s.Phases[1].Injections[0].Target = "" }, "phases[1].injections[0]"},
		{"wrong target kind", func(s *Scenario, _ *Config) { s.Phases[1].Injections[1].Target = "eth" }, "phases[1].injections[1]"},
		{"bad intensity", func(s *Scenario, _ *Config) { s.Phases[1].Injections[2].Params.Intensity = 1.5 }, "phases[1].injections[2]"},
		{"NaN intensity", func(s *Scenario, _ *Config) { s.Phases[1].Injections[2].Params.Intensity = math.NaN() }, "phases[1].injections[2]"},
		{"NaN correlation", func(s *Scenario, _ *Config) { s.Phases[1].Injections[0].Params.Correlation = math.NaN() }, "phases[1].injections[0]"},
		{"slo without name", func(s *Scenario, _ *Config) {
			s.SLOs = []metrics.SLO{{TargetID: "eth", Threshold: time.Second}}
		}, "slos[0]"},
		{"duplicate slo", func(s *Scenario, _ *Config) {
			s.SLOs = []metrics.SLO{{Name: "a", Threshold: time.Second}, {Name: "a", Threshold: time.Second}}
		}, "slos[1]"},
		{"slo zero threshold", func(s *Scenario, _ *Config) {
			s.SLOs = []metrics.SLO{{Name: "a", TargetID: "eth"}}
		}, "slos[0]"},
		{"slo unknown target", func(s *Scenario, _ *Config) {
			s.SLOs = []metrics.SLO{{Name: "a", TargetID: "nope", Threshold: time.Second}}
		}, "slos[0]"},
		{"slo target without probe", func(s *Scenario, _ *Config) {
			s.SLOs = []metrics.SLO{{Name: "a", TargetID: "api", Threshold: time.Second}}
		}, "slos[0]"},
		{"slo without any probe", func(s *Scenario, _ *Config) {
			s.Targets[0].ProbeAddress = ""
			s.SLOs = []metrics.SLO{{Name: "a", Threshold: time.Second}}
		}, "slos[0]"},
		{"bad sample interval", func(_ *Scenario, c *Config) { c.SampleInterval = 0 }, "engine.sample_interval"},
		{"bad cleanup timeout", func(_ *Scenario, c *Config) { c.CleanupTimeout = -time.Second }, "engine.cleanup_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validScenario()
			c := DefaultConfig()
			tt.mutate(s, &c)

			violations := ValidateOnly(s, c)
			require.Len(t, violations, 1, "%v", violations)
			assert.ErrorIs(t, violations[0], errs.ErrValidation)
			assert.True(t, strings.Contains(violations[0].Error(), tt.field),
				"%q does not mention %q", violations[0].Error(), tt.field)
		})
	}
}

func TestValidateOnlyReportsAllViolations(t *testing.T) {
	s := validScenario()
	s.Name = ""
	s.Phases[0].Duration = 0
	s.Phases[1].Injections[0].Target = "nope"
	s.Phases[1].Injections[2].Params.Intensity = -1
	s.Targets[1].Descriptor = ""

	violations := ValidateOnly(s, DefaultConfig())
	assert.Len(t, violations, 5)
	for _, v := range violations {
		assert.Equal(t, "validation", errs.KindName(v))
	}
}

func TestValidateOnlyNilScenario(t *testing.T) {
	violations := ValidateOnly(nil, DefaultConfig())
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Error(), "scenario is nil")
}

func TestScenarioHelpers(t *testing.T) {
	s := validScenario()
	s.RampUp = 500 * time.Millisecond
	assert.Equal(t, 2500*time.Millisecond, s.TotalDuration())

	ts, ok := s.Target("api")
	require.True(t, ok)
	assert.Equal(t, target.KindProcess, ts.Kind)

	_, ok = s.Target("missing")
	assert.False(t, ok)
}
