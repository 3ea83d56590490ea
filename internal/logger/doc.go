// Package logger は zap をバックエンドとするスレッドセーフなロガーを提供する。
//
// ログレベルは Debug, Info, Warn, Error の4段階。
// 各エントリにはタイムスタンプ、レベル、任意のターゲットID、メッセージが含まれる。
//
// # 基本的な使い方
//
//	logger.Info("", "scenario started")
//	logger.Info("web-1", "latency applied")
//	logger.Error("handle-3", "revert failed: %v", err)
//
// カスタムロガーの作成:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	logger.SetDefault(l)
//
// JSON 形式で出力する場合は NewWithFormat(out, level, FormatJSON) を使う。
package logger
