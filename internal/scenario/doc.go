// Package scenario はシナリオのデータモデル、検証、フェーズスケジューラを提供する。
//
// Engine はシナリオのフェーズを宣言順に実行する。各フェーズでは注入のターゲットを解決し、
// レジストリを通して障害を適用（parallel なら並行、そうでなければ宣言順）し、
// 全ての適用が終わってからフェーズの継続時間を待ち、最後にそのフェーズの障害を全て復元する。
// 次のフェーズは前のフェーズの復元が終わるまで始まらない。
//
// # 状態
//
//	シナリオ: Pending → Running → Completed | Cancelled | Failed
//	フェーズ: Pending → Running → Completed | Cancelled | Failed | Skipped
//
// キャンセルはエラーではない。キャンセルを検知すると残りの待機を中断し、
// 全てのハンドルを作成の逆順に復元して StatusCancelled で終わる。
//
// FailFast が無効（デフォルト）の場合、注入の失敗は結果に記録されフェーズは継続する。
// 有効な場合は成功した注入を復元してから StatusFailed で終わる。
// フェーズの全ての注入でターゲットを解決できなかった場合は FailFast に関係なく失敗する。
//
// # 終了コード
//
//   - 0: 完了
//   - 1: 失敗
//   - 2: 検証エラー
//   - 3: キャンセル
//   - 4: 完了したが復元できなかったハンドルがある（ExitCodeFailOnLeak のみ）
//
// Leaked なハンドルは常に Report と JSON に含まれる。
//
// # プリセット
//
//   - baseline-cpu: baseline → CPU 負荷 (intensity 0.5) → recovery
//   - latency-sim: ループバックへの遅延とロス（シミュレーション方式）
//   - memory-pressure: メモリ使用率 75% まで確保
//   - disk-slow: 同期書き込みの遅延
//   - quick: 短時間の動作確認
//
// # 使用例
//
//	engine := scenario.New(scenario.DefaultConfig())
//	result, err := engine.Run(ctx, scenario.QuickScenario())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
//	os.Exit(result.ExitCode())
package scenario
