// Package hostinfo はホストのメモリ、CPU、プロセスのリソース使用量を読み取る。
//
// Linux では prometheus/procfs で /proc を読み、macOS では sysctl を使う。
// 読み取れない項目は errs.ErrPlatformUnsupported を返す。
package hostinfo
