package metrics

import (
	"sync"
	"time"
)

// SLO はレイテンシのしきい値。TargetID が空なら全ターゲットのレイテンシに適用する。
type SLO struct {
	Name      string        `json:"name"`
	TargetID  string        `json:"target_id,omitempty"`
	Threshold time.Duration `json:"threshold_ns"`
}

func (s SLO) applies(sample Sample) bool {
	return sample.Metric == MetricLatencyMs && (s.TargetID == "" || s.TargetID == sample.TargetID)
}

// Violation はしきい値を超えた1回の計測
type Violation struct {
	SLO       string        `json:"slo"`
	TargetID  string        `json:"target_id"`
	Phase     string        `json:"phase,omitempty"`
	Threshold time.Duration `json:"threshold_ns"`
	Actual    time.Duration `json:"actual_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOSummary は SLO ごとの集計
type SLOSummary struct {
	Name       string        `json:"name"`
	TargetID   string        `json:"target_id,omitempty"`
	Threshold  time.Duration `json:"threshold_ns"`
	Checked    int           `json:"checked"`
	Violations int           `json:"violations"`
	Rate       float64       `json:"violation_rate"`
}

// Met は違反がなければ true を返す
func (s SLOSummary) Met() bool {
	return s.Violations == 0
}

// Tracker はレイテンシの計測を SLO と比較し、違反を記録する
type Tracker struct {
	mu         sync.Mutex
	slos       []SLO
	checked    []int
	violations []Violation
}

// NewTracker は新しい Tracker を作成する
func NewTracker(slos ...SLO) *Tracker {
	t := &Tracker{}
	for _, s := range slos {
		t.Add(s)
	}
	return t
}

// Add は SLO を追加する
func (t *Tracker) Add(slo SLO) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slos = append(t.slos, slo)
	t.checked = append(t.checked, 0)
}

// Check は計測値を全ての SLO と比較する。レイテンシ以外の計測は無視する。
func (t *Tracker) Check(sample Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	actual := time.Duration(sample.Value * float64(time.Millisecond))
	for i, slo := range t.slos {
		if !slo.applies(sample) {
			continue
		}
		t.checked[i]++
		if actual > slo.Threshold {
			t.violations = append(t.violations, Violation{
				SLO:       slo.Name,
				TargetID:  sample.TargetID,
				Phase:     sample.Phase,
				Threshold: slo.Threshold,
				Actual:    actual,
				Timestamp: sample.Timestamp,
			})
		}
	}
}

// Violations は記録された違反のコピーを返す
func (t *Tracker) Violations() []Violation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Violation(nil), t.violations...)
}

// ViolationCount は違反の数を返す
func (t *Tracker) ViolationCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.violations)
}

// Summary は SLO ごとの集計を追加順に返す
func (t *Tracker) Summary() []SLOSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SLOSummary, len(t.slos))
	for i, slo := range t.slos {
		n := 0
		for _, v := range t.violations {
			if v.SLO == slo.Name {
				n++
			}
		}
		out[i] = SLOSummary{
			Name:       slo.Name,
			TargetID:   slo.TargetID,
			Threshold:  slo.Threshold,
			Checked:    t.checked[i],
			Violations: n,
			Rate:       ViolationRate(n, t.checked[i]),
		}
	}
	return out
}

// ViolationRate は違反の割合を返す。total が 0 なら 0
func ViolationRate(violations, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(violations) / float64(total)
}

// EvaluateSLOs は計測値をまとめて SLO と比較する
func EvaluateSLOs(slos []SLO, samples []Sample) ([]SLOSummary, []Violation) {
	if len(slos) == 0 {
		return nil, nil
	}
	t := NewTracker(slos...)
	for _, s := range samples {
		t.Check(s)
	}
	return t.Summary(), t.Violations()
}
