package metrics

import (
	"sort"
	"time"
)

// Metric は計測値の種類
type Metric string

const (
	MetricCPUPercent    Metric = "cpu_percent"    // 100% = 1コア（プロセス）またはホスト全体
	MetricMemoryPercent Metric = "memory_percent" // システムメモリに対する割合
	MetricLatencyMs     Metric = "latency_ms"     // TCP 接続レイテンシ
)

// Reading はプローブが返す1つの計測値
type Reading struct {
	Metric Metric
	Value  float64
}

// Sample は1回の計測。作成後に変更されない。
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	TargetID  string    `json:"target_id"`
	Metric    Metric    `json:"metric"`
	Value     float64   `json:"value"`
}

// Stats は計測値の統計
type Stats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// TargetStats はターゲットと計測種類ごとの統計
type TargetStats struct {
	TargetID string `json:"target_id"`
	Metric   Metric `json:"metric"`
	Stats
}

// Compute は値の統計を計算する
func Compute(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return Stats{
		Count: len(sorted),
		Min:   sorted[0],
		Mean:  sum / float64(len(sorted)),
		Max:   sorted[len(sorted)-1],
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// percentile はソート済みの値から p (0.0-1.0) パーセンタイルを返す
func percentile(sorted []float64, p float64) float64 {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Aggregate はサンプルをターゲットと計測種類ごとに集計する。
// 結果はターゲット ID、計測種類の順にソートされる。
func Aggregate(samples []Sample) []TargetStats {
	type key struct {
		target string
		metric Metric
	}
	groups := make(map[key][]float64)
	for _, s := range samples {
		k := key{s.TargetID, s.Metric}
		groups[k] = append(groups[k], s.Value)
	}

	out := make([]TargetStats, 0, len(groups))
	for k, values := range groups {
		out = append(out, TargetStats{
			TargetID: k.target,
			Metric:   k.metric,
			Stats:    Compute(values),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].Metric < out[j].Metric
	})
	return out
}

// Find は集計結果から指定したターゲットと計測種類の統計を返す
func Find(stats []TargetStats, targetID string, metric Metric) (Stats, bool) {
	for _, s := range stats {
		if s.TargetID == targetID && s.Metric == metric {
			return s.Stats, true
		}
	}
	return Stats{}, false
}

// ByPhase はサンプルをフェーズ名で絞り込む
func ByPhase(samples []Sample, phase string) []Sample {
	var out []Sample
	for _, s := range samples {
		if s.Phase == phase {
			out = append(out, s)
		}
	}
	return out
}
