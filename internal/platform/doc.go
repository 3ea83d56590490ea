// Package platform はホストの OS ファミリーとカーネルレベルのネットワークツールを検出し、
// ネットワーク障害の実装バックエンド (netem / dummynet / simulated) を選択する。
package platform
