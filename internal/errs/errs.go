package errs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// エラー種別（errors.Is で判定する）
var (
	ErrValidation          = errors.New("validation error")
	ErrPrivilege           = errors.New("insufficient privilege")
	ErrPlatformUnsupported = errors.New("platform unsupported")
	ErrCommandExecution    = errors.New("command execution failed")
	ErrTargetResolution    = errors.New("target resolution failed")
	ErrCleanup             = errors.New("cleanup failed")
)

// Error は種別付きのエラー
type Error struct {
	Kind   error  // 上記のいずれかの種別
	Op     string // 失敗した操作 (例: "tc qdisc replace")
	Detail string // 補足情報
	Err    error  // 元のエラー
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は種別と元のエラーの両方を返す
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Validation はシナリオ検証エラーを作成する
func Validation(field, format string, args ...any) error {
	return newError(ErrValidation, field, format, args...)
}

// Privilege は権限不足エラーを作成する
func Privilege(op string, err error, format string, args ...any) error {
	e := newError(ErrPrivilege, op, format, args...)
	e.Err = err
	return e
}

// Unsupported はプラットフォーム非対応エラーを作成する
func Unsupported(op string, err error, format string, args ...any) error {
	e := newError(ErrPlatformUnsupported, op, format, args...)
	e.Err = err
	return e
}

// Command は外部コマンド失敗エラーを作成する
func Command(op string, err error, format string, args ...any) error {
	e := newError(ErrCommandExecution, op, format, args...)
	e.Err = err
	return e
}

// Resolution はターゲット解決エラーを作成する
func Resolution(targetID string, err error, format string, args ...any) error {
	e := newError(ErrTargetResolution, targetID, format, args...)
	e.Err = err
	return e
}

// Cleanup は復元失敗エラーを作成する
func Cleanup(op string, err error) error {
	return &Error{Kind: ErrCleanup, Op: op, Err: err}
}

// KindName はエラーを結果レポート用の安定した名前に変換する
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPrivilege):
		return "privilege"
	case errors.Is(err, ErrPlatformUnsupported):
		return "platform_unsupported"
	case errors.Is(err, ErrTargetResolution):
		return "target_resolution"
	case errors.Is(err, ErrCleanup):
		return "cleanup"
	case errors.Is(err, ErrCommandExecution):
		return "command_execution"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

// Combine は複数のエラーを1つにまとめる（nil は無視される）
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}

// Flatten は Combine でまとめたエラーを個々のエラーに戻す
func Flatten(err error) []error {
	return multierr.Errors(err)
}
