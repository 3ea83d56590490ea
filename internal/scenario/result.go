package scenario

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"chaos-runner/internal/metrics"
	"chaos-runner/internal/registry"
)

// 終了コード
const (
	ExitCompleted = 0
	ExitFailed    = 1
	ExitInvalid   = 2
	ExitCancelled = 3
	ExitLeaked    = 4 // ExitCodeFailOnLeak のみ: 完了したが復元できなかったハンドルがある
)

// InjectionOutcome は1つの注入の結果
type InjectionOutcome struct {
	Kind      string            `json:"kind"`
	TargetID  string            `json:"target_id"`
	Params    string            `json:"params"`
	HandleID  string            `json:"handle_id,omitempty"`
	Variant   string            `json:"variant,omitempty"`
	Status    OutcomeStatus     `json:"status"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PhaseResult はフェーズの結果。作成後に変更されない。
type PhaseResult struct {
	Name       string                `json:"name"`
	Index      int                   `json:"index"`
	State      PhaseState            `json:"state"`
	Parallel   bool                  `json:"parallel"`
	Declared   time.Duration         `json:"declared_ns"`
	StartTime  time.Time             `json:"start_time"`
	EndTime    time.Time             `json:"end_time"`
	Injections []InjectionOutcome    `json:"injections"`
	Stats      []metrics.TargetStats `json:"stats"`
	Samples    int                   `json:"samples"`
	Gaps       int                   `json:"gaps"`

	SLOs          []metrics.SLOSummary `json:"slos,omitempty"`
	SLOViolations []metrics.Violation  `json:"slo_violations,omitempty"`
}

// Duration は実際の実行時間を返す
func (p *PhaseResult) Duration() time.Duration {
	if p.EndTime.IsZero() {
		return 0
	}
	return p.EndTime.Sub(p.StartTime)
}

// Count は指定した結果の注入数を返す
func (p *PhaseResult) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range p.Injections {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Stat はターゲットと計測種類の統計を返す
func (p *PhaseResult) Stat(targetID string, metric metrics.Metric) (metrics.Stats, bool) {
	return metrics.Find(p.Stats, targetID, metric)
}

// Result はシナリオの実行結果
type Result struct {
	RunID          string                `json:"run_id"`
	ScenarioName   string                `json:"scenario"`
	Description    string                `json:"description,omitempty"`
	Labels         map[string]string     `json:"labels,omitempty"`
	Status         Status                `json:"status"`
	NetworkBackend string                `json:"network_backend,omitempty"`
	StartTime      time.Time             `json:"start_time"`
	EndTime        time.Time             `json:"end_time"`
	Duration       time.Duration         `json:"duration_ns"`
	Phases         []PhaseResult         `json:"phases"`
	Overall        []metrics.TargetStats `json:"overall,omitempty"`
	SLOs           []metrics.SLOSummary  `json:"slos,omitempty"`
	Leaked         []registry.HandleInfo `json:"leaked,omitempty"`
	Violations     []string              `json:"violations,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// Phase は名前からフェーズの結果を返す
func (r *Result) Phase(name string) (*PhaseResult, bool) {
	for i := range r.Phases {
		if r.Phases[i].Name == name {
			return &r.Phases[i], true
		}
	}
	return nil, false
}

// ExitCode は終了コードを返す。Leaked なハンドルは終了コードに影響せず、
// Report と JSON で報告される。
func (r *Result) ExitCode() int {
	switch r.Status {
	case StatusCompleted:
		return ExitCompleted
	case StatusCancelled:
		return ExitCancelled
	case StatusInvalid:
		return ExitInvalid
	default:
		return ExitFailed
	}
}

// ExitCodeFailOnLeak は ExitCode と同じだが、完了して Leaked なハンドルがある場合は ExitLeaked を返す
func (r *Result) ExitCodeFailOnLeak() int {
	if r.Status == StatusCompleted && len(r.Leaked) > 0 {
		return ExitLeaked
	}
	return r.ExitCode()
}

// JSON は結果を JSON で返す
func (r *Result) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func writeSLOs(b *strings.Builder, indent string, slos []metrics.SLOSummary) {
	for _, s := range slos {
		verdict := "MET"
		if !s.Met() {
			verdict = "VIOLATED"
		}
		scope := s.TargetID
		if scope == "" {
			scope = "*"
		}
		fmt.Fprintf(b, "%sslo %-16s %-12s <= %-8v %-8s %d/%d (%.1f%%)\n",
			indent, s.Name, scope, s.Threshold, verdict, s.Violations, s.Checked, s.Rate*100)
	}
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, `
================================================================================
                         SCENARIO REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Run ID:         %s
  Status:         %s
  Network:        %s
  Start Time:     %s
  End Time:       %s
  Duration:       %v
`,
		r.ScenarioName,
		r.RunID,
		r.Status,
		r.NetworkBackend,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
	)
	if r.Error != "" {
		fmt.Fprintf(&b, "  Error:          %s\n", r.Error)
	}

	if len(r.Violations) > 0 {
		b.WriteString("\nVALIDATION ERRORS\n-----------------\n")
		for _, v := range r.Violations {
			fmt.Fprintf(&b, "  - %s\n", v)
		}
	}

	if len(r.Phases) > 0 {
		b.WriteString("\nPHASES\n------\n")
	}
	for _, p := range r.Phases {
		mode := "sequential"
		if p.Parallel {
			mode = "parallel"
		}
		fmt.Fprintf(&b, "  [%d] %-20s %-10s %v / %v (%s)\n",
			p.Index, p.Name, p.State, p.Duration().Round(time.Millisecond), p.Declared, mode)

		for _, o := range p.Injections {
			line := fmt.Sprintf("      %-16s %-12s %-15s %s", o.Kind, o.TargetID, o.Status, o.Params)
			if o.Variant != "" {
				line += " via " + o.Variant
			}
			if o.Error != "" {
				line += " [" + o.ErrorKind + ": " + o.Error + "]"
			}
			b.WriteString(line + "\n")
		}

		for _, s := range p.Stats {
			fmt.Fprintf(&b, "      %-12s %-15s n=%-5d min=%.2f mean=%.2f max=%.2f p95=%.2f\n",
				s.TargetID, s.Metric, s.Count, s.Min, s.Mean, s.Max, s.P95)
		}
		writeSLOs(&b, "      ", p.SLOs)
		if p.Gaps > 0 {
			fmt.Fprintf(&b, "      sampling gaps: %d\n", p.Gaps)
		}
	}

	if len(r.SLOs) > 0 {
		b.WriteString("\nSLO SUMMARY\n-----------\n")
		writeSLOs(&b, "  ", r.SLOs)
	}

	if len(r.Leaked) > 0 {
		b.WriteString("\nLEAKED HANDLES (manual cleanup required)\n----------------------------------------\n")
		leaked := append([]registry.HandleInfo(nil), r.Leaked...)
		sort.Slice(leaked, func(i, j int) bool { return leaked[i].ID < leaked[j].ID })
		for _, h := range leaked {
			fmt.Fprintf(&b, "  %-32s %s\n", h.ID, h.Error)
			keys := make([]string, 0, len(h.Metadata))
			for k := range h.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "      %s=%s\n", k, h.Metadata[k])
			}
		}
	}

	b.WriteString("\n================================================================================")
	return b.String()
}
