package scenario

import (
	"fmt"
	"net"

	"chaos-runner/internal/errs"
	"chaos-runner/internal/metrics"
)

// ValidateOnly はシナリオと設定を検証し、全ての違反を返す。
// 障害は一切適用しない。
func ValidateOnly(s *Scenario, config Config) []error {
	var out []error
	add := func(err error) {
		if err != nil {
			out = append(out, err)
		}
	}

	out = append(out, validateConfig(config)...)

	if s == nil {
		return append(out, errs.Validation("scenario", "scenario is nil"))
	}
	if s.Name == "" {
		add(errs.Validation("name", "scenario name is required"))
	}
	if s.RampUp < 0 {
		add(errs.Validation("ramp_up", "must not be negative, got %s", s.RampUp))
	}

	out = append(out, validateTargets(s)...)
	out = append(out, validateSLOs(s)...)

	if len(s.Phases) == 0 {
		add(errs.Validation("phases", "at least one phase is required"))
	}
	names := make(map[string]int)
	for i, p := range s.Phases {
		field := fmt.Sprintf("phases[%d]", i)
		if p.Name == "" {
			add(errs.Validation(field, "phase name is required"))
		} else if prev, dup := names[p.Name]; dup {
			add(errs.Validation(field, "duplicate phase name %q (also phases[%d])", p.Name, prev))
		} else {
			names[p.Name] = i
		}
		if p.Duration <= 0 {
			add(errs.Validation(field, "duration must be > 0, got %s", p.Duration))
		} else if config.MaxPhaseDuration > 0 && p.Duration > config.MaxPhaseDuration {
			add(errs.Validation(field, "duration %s exceeds max_phase_duration %s", p.Duration, config.MaxPhaseDuration))
		}
		for j, inj := range p.Injections {
			out = append(out, validateInjection(s, fmt.Sprintf("%s.injections[%d]", field, j), inj)...)
		}
	}
	return out
}

func validateConfig(c Config) []error {
	var out []error
	if c.MaxPhaseDuration <= 0 {
		out = append(out, errs.Validation("engine.max_phase_duration", "must be > 0, got %s", c.MaxPhaseDuration))
	}
	if c.SampleInterval <= 0 {
		out = append(out, errs.Validation("engine.sample_interval", "must be > 0, got %s", c.SampleInterval))
	}
	if c.CleanupTimeout <= 0 {
		out = append(out, errs.Validation("engine.cleanup_timeout", "must be > 0, got %s", c.CleanupTimeout))
	}
	return out
}

func validateTargets(s *Scenario) []error {
	var out []error
	seen := make(map[string]bool)
	for i, t := range s.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		switch {
		case t.ID == "":
			out = append(out, errs.Validation(field, "target id is required"))
		case t.ID == metrics.HostTargetID:
			out = append(out, errs.Validation(field, "target id %q is reserved", t.ID))
		case seen[t.ID]:
			out = append(out, errs.Validation(field, "duplicate target id %q", t.ID))
		}
		seen[t.ID] = true

		if t.Descriptor == "" {
			out = append(out, errs.Validation(field, "descriptor is required"))
		}
		if t.ProbeAddress != "" {
			if _, _, err := net.SplitHostPort(t.ProbeAddress); err != nil {
				out = append(out, errs.Validation(field, "probe_address %q is not host:port", t.ProbeAddress))
			}
		}
	}
	return out
}

func validateSLOs(s *Scenario) []error {
	var out []error
	seen := make(map[string]bool)
	probed := false
	for _, t := range s.Targets {
		probed = probed || t.ProbeAddress != ""
	}
	for i, slo := range s.SLOs {
		field := fmt.Sprintf("slos[%d]", i)
		switch {
		case slo.Name == "":
			out = append(out, errs.Validation(field, "slo name is required"))
		case seen[slo.Name]:
			out = append(out, errs.Validation(field, "duplicate slo name %q", slo.Name))
		}
		seen[slo.Name] = true

		if slo.Threshold <= 0 {
			out = append(out, errs.Validation(field, "latency threshold must be > 0, got %s", slo.Threshold))
		}
		if slo.TargetID == "" {
			if !probed {
				out = append(out, errs.Validation(field, "no target declares a probe_address"))
			}
			continue
		}
		t, ok := s.Target(slo.TargetID)
		switch {
		case !ok:
			out = append(out, errs.Validation(field, "unknown target %q", slo.TargetID))
		case t.ProbeAddress == "":
			out = append(out, errs.Validation(field, "target %q has no probe_address", slo.TargetID))
		}
	}
	return out
}

func validateInjection(s *Scenario, field string, inj InjectionSpec) []error {
	if inj.Kind.String() == "unknown" {
		return []error{errs.Validation(field, "unknown injection kind %d", int(inj.Kind))}
	}

	var out []error
	want, needsTarget := inj.Kind.TargetKind()
	switch {
	case inj.Target == "" && needsTarget:
		out = append(out, errs.Validation(field, "%s requires a %s target", inj.Kind, want))
	case inj.Target != "":
		t, ok := s.Target(inj.Target)
		if !ok {
			out = append(out, errs.Validation(field, "unknown target %q", inj.Target))
		} else if needsTarget && t.Kind != want {
			out = append(out, errs.Validation(field, "%s requires a %s target, %q is a %s", inj.Kind, want, t.ID, t.Kind))
		}
	}
	return append(out, inj.Params.Validate(inj.Kind, field)...)
}
