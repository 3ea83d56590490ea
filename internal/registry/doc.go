// Package registry は適用中の障害（ハンドル）を管理する。
//
// 障害は必ず Registry.Open を通して適用され、Registry.CloseAll または
// Registry.CloseAllImmediate で復元される。同じターゲットの同じリソースクラス
// （シェーピング、フィルタ、CPU など）への Open と Close は直列化される。
//
// # ハンドルの状態
//
//	Active -> Cleaning -> Cleaned
//	                   -> Leaked
//
// 復元に失敗したハンドルは Leaked となり、ERROR ログとイベントで通知される。
// 1つの失敗で他のハンドルの復元が止まることはない。
package registry
