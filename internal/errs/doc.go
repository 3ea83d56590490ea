// Package errs はカオス実行エンジンのエラー分類を提供する。
//
// すべての失敗は以下のいずれかの種別に分類され、errors.Is で判定できる。
//
//   - ErrValidation: シナリオの値が不正（カオス開始前に検出）
//   - ErrPrivilege: カーネルレベル操作に必要な権限がない
//   - ErrPlatformUnsupported: 必要な外部ツールが存在しない
//   - ErrCommandExecution: 外部ツールがその他の理由で失敗した
//   - ErrTargetResolution: 指定されたターゲットがホスト上に見つからない
//   - ErrCleanup: 注入した障害の復元に失敗した
//
// # 使用例
//
//	err := errs.Privilege("tc qdisc replace", cause, "device %s", iface)
//	if errors.Is(err, errs.ErrPrivilege) {
//	    // 権限不足として扱う
//	}
package errs
