// Package telemetry はシナリオ実行中の状態を Prometheus のメトリクスとして公開する。
//
// Collector はイベントバスを購読し、注入の成否、ハンドルの復元結果、
// 実行中のフェーズを専用のレジストリに記録する。
// 有効なハンドル数のように都度読むべき値は GaugeFunc で登録する。
package telemetry
