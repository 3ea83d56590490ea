// Package command はホスト上の外部コマンド (tc, iptables, dnctl, pfctl など) を実行する。
//
// Runner インターフェースにより実行方法を差し替えられる。
// 本番では Exec を使い、テストでは commandtest.Fake を使う。
//
// Classify は実行結果を errs パッケージの種別に振り分ける。
//
//   - 実行ファイルが見つからない / 終了コード 127: ErrPlatformUnsupported
//   - 権限エラーの出力 / 終了コード 126: ErrPrivilege
//   - その他の非ゼロ終了: ErrCommandExecution
package command
