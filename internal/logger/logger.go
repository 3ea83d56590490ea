package logger

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel は文字列からログレベルを取得する
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO", "":
		return LevelInfo, nil
	case "warn", "WARN", "warning":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Format は出力形式を表す
type Format int

const (
	FormatConsole Format = iota
	FormatJSON
)

// Logger はスレッドセーフなロガー（zap のラッパー）
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(os.Stderr, LevelInfo))
}

// Default はデフォルトのロガーを返す
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault はデフォルトのロガーを差し替える
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// New はコンソール形式の新しいロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	return NewWithFormat(out, minLevel, FormatConsole)
}

// NewWithFormat は出力形式を指定してロガーを作成する
func NewWithFormat(out io.Writer, minLevel Level, format Format) *Logger {
	level := zap.NewAtomicLevelAt(minLevel.zapLevel())

	var enc zapcore.Encoder
	if format == FormatJSON {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zapcore.EncoderConfig{
			TimeKey:          "ts",
			LevelKey:         "level",
			MessageKey:       "msg",
			LineEnding:       zapcore.DefaultLineEnding,
			EncodeTime:       bracketTime,
			EncodeLevel:      bracketLevel,
			EncodeDuration:   zapcore.StringDurationEncoder,
			ConsoleSeparator: " ",
		}
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level)
	return &Logger{zl: zap.New(core), level: level}
}

func bracketTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + t.Format("2006-01-02 15:04:05.000") + "]")
}

func bracketLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "]")
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// Zap は内部の zap.Logger を返す
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Sync はバッファをフラッシュする
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// log は指定されたレベルでログを出力する
func (l *Logger) log(level zapcore.Level, targetID string, format string, args ...any) {
	if !l.level.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if targetID != "" {
		msg = "[" + targetID + "] " + msg
	}
	l.zl.Log(level, msg)
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(targetID string, format string, args ...any) {
	l.log(zapcore.DebugLevel, targetID, format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(targetID string, format string, args ...any) {
	l.log(zapcore.InfoLevel, targetID, format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(targetID string, format string, args ...any) {
	l.log(zapcore.WarnLevel, targetID, format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(targetID string, format string, args ...any) {
	l.log(zapcore.ErrorLevel, targetID, format, args...)
}

// グローバル関数（デフォルトロガーを使用）

// Debug はデバッグログを出力する
func Debug(targetID string, format string, args ...any) {
	Default().Debug(targetID, format, args...)
}

// Info は情報ログを出力する
func Info(targetID string, format string, args ...any) {
	Default().Info(targetID, format, args...)
}

// Warn は警告ログを出力する
func Warn(targetID string, format string, args ...any) {
	Default().Warn(targetID, format, args...)
}

// Error はエラーログを出力する
func Error(targetID string, format string, args ...any) {
	Default().Error(targetID, format, args...)
}
