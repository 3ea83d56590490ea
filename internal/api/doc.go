// Package api はシナリオ実行中の状態を公開する HTTP サーバーを提供する。
//
// # エンドポイント
//
//   - GET  /api/status         エンジンのスナップショット
//   - GET  /api/handles        ハンドル一覧（?state=active などで絞り込み）
//   - GET  /api/result         直前の実行結果
//   - GET  /api/presets        プリセット一覧
//   - GET  /api/injectors      このホストで使える Injector
//   - POST /api/scenario/stop  実行中のシナリオをキャンセル
//   - GET  /metrics            Prometheus メトリクス
//   - /ws                      イベントとステータスの WebSocket 配信
package api
