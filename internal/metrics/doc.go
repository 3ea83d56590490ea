// Package metrics はターゲットの状態を計測するサンプラーと、その集計を提供する。
//
// Sampler はフェーズの境界とは独立に一定間隔でプローブを実行し、各サンプルに
// その時点のフェーズ名を付けて追記する。プローブはワーカープールで実行されるため、
// 遅いプローブや失敗したプローブがサンプリングやシナリオを止めることはない。
// 失敗した計測はフェーズごとのギャップとして数えられる。
//
// # プローブ
//
//   - HostProbe: ホストの CPU 使用率とメモリ使用率
//   - ProcessProbe: プロセスの CPU 使用率（100% = 1コア）とメモリ使用率
//   - LatencyProbe: probe_address への TCP 接続時間
//   - ProbeFunc: 任意の関数
//
// # 基本的な使い方
//
//	s := metrics.NewSampler(metrics.DefaultConfig(), metrics.NewHostProbe(hostinfo.NewReader()))
//	s.Start(ctx)
//	s.SetPhase("baseline")
//	...
//	s.Stop()
//
//	stats := metrics.Aggregate(s.PhaseSamples("baseline"))
//	cpu, ok := metrics.Find(stats, metrics.HostTargetID, metrics.MetricCPUPercent)
//
// 統計の集計はフェーズ終了時にまとめて行い、サンプルごとには行わない。
//
// # SLO
//
// SLO はレイテンシのしきい値で、Tracker が latency_ms のサンプルと比較して違反を記録する。
//
//	summary, violations := metrics.EvaluateSLOs(slos, s.PhaseSamples("degraded"))
package metrics
