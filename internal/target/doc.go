// Package target はシナリオで宣言されたターゲットをホスト上の実体に解決する。
//
// プロセスは PID または名前で、ネットワークインターフェースは名前で指定する。
// 解決は最初の注入時に遅延して行われ、結果は Resolver にキャッシュされる。
// プロセスの検索は OS ごとに実装が異なる (Linux: procfs, macOS: pgrep/ps, Windows: tasklist)。
package target
