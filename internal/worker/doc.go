// Package worker はジョブを並行実行するゴルーチンプールを提供する。
//
// メトリクスのサンプラーはプローブをこのプールで実行し、遅いプローブが
// 他のプローブやフェーズの進行を止めないようにする。
//
// # 基本的な使い方
//
//	pool := worker.NewPool(4)
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	ok := pool.Submit(func(ctx context.Context) {
//	    // do work
//	})
//
// Submit はブロックしない。キューが満杯のとき、または停止中はジョブを破棄して false を返す。
// ジョブ内の panic は回復され、Stats の Panicked に数えられる。
package worker
