// Package chaos は障害注入の Injector とその実装を提供する。
//
// Injector は1種類の障害について Apply（適用）と Revert（復元）を行う。
// Apply が返す Effect は復元に必要な情報を持ち、Revert は何度呼んでも安全である。
//
// # 障害タイプ
//
//   - network_latency: 送信パケットに遅延とジッターを加える
//   - packet_loss: 送信パケットを一定の割合で破棄する
//   - tcp_reset: 指定ポートへの TCP 接続をリセットする
//   - cpu_starvation: intensity のデューティ比でビジーループする
//   - memory_pressure: システムメモリ使用率が target_usage に達するまで確保する
//   - disk_slow: スクラッチファイルへの同期書き込みの前に遅延を挟む
//   - process_kill: プロセスにシグナルを送り、必要なら復元時に再起動する
//
// # ネットワークの実装
//
// ネットワーク障害はホストに合わせて次のいずれかが選ばれる。
//
//   - netem: Linux の tc netem と iptables（管理者権限が必要）
//   - dummynet: macOS の dnctl と pfctl（管理者権限が必要）
//   - simulated: simnet.Table に記録するだけのアプリケーションレベル実装
//
// 同じインターフェースへの遅延とロスは1つの qdisc / パイプに合成される。
// 注入を取り消すと残りの注入から設定を再計算し、最後の1つが消えたら設定を削除する。
//
// # 使用例
//
//	catalog := chaos.NewCatalog(chaos.CatalogOptions{
//	    Host:        platform.Detect(runner, platform.Current()),
//	    NetworkMode: platform.ModeAuto,
//	})
//	inj, _ := catalog.Lookup(chaos.KindNetworkLatency)
//	effect, err := inj.Apply(ctx, resolved, chaos.DefaultParams(chaos.KindNetworkLatency))
//	...
//	err = inj.Revert(ctx, effect)
package chaos
