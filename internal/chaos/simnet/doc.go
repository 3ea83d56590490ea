// Package simnet はアプリケーションレベルのネットワーク障害シミュレーションを提供する。
//
// カーネルツールが使えない環境では、chaos パッケージのネットワーク注入は
// 意図した障害を Table に記録するだけになる。Table を参照するクライアントは
// Conn / Dialer を使って遅延・ロス・リセットを自身の通信に反映できる。
//
//	table := simnet.NewTable()
//	d := &simnet.Dialer{Table: table, TargetID: "web"}
//	conn, err := d.DialContext(ctx, "tcp", "127.0.0.1:8080")
package simnet
