package command

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"chaos-runner/internal/logger"
)

// DefaultTimeout は外部コマンドのデフォルトタイムアウト
const DefaultTimeout = 30 * time.Second

// Command は実行する外部コマンド
type Command struct {
	Binary    string
	Arguments []string
	Stdin     string // 空でなければ標準入力に渡す（pfctl のルール投入など）
}

// String はログ用のコマンド文字列を返す
func (c Command) String() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// Result は外部コマンドの実行結果
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success はコマンドが終了コード0で終了したかを返す
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Runner は外部コマンドを実行する
type Runner interface {
	// Run はコマンドを実行し、終了するまで待つ。
	// 非ゼロ終了はエラーではなく Result.ExitCode で返す。
	// 起動できなかった場合やコンテキストがキャンセルされた場合のみエラーを返す。
	Run(ctx context.Context, cmd Command) (*Result, error)
	// LookPath は実行ファイルが存在するかを確認する
	LookPath(binary string) (string, error)
}

// Config は Exec の設定
type Config struct {
	Timeout time.Duration // 1コマンドあたりのタイムアウト
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout}
}

// Exec は os/exec でホスト上のコマンドを実行する Runner
type Exec struct {
	config Config
}

// NewExec は新しい Exec を作成する
func NewExec(cfg Config) *Exec {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Exec{config: cfg}
}

// LookPath は PATH から実行ファイルを探す
func (e *Exec) LookPath(binary string) (string, error) {
	return exec.LookPath(binary)
}

// Run はコマンドを実行する
func (e *Exec) Run(ctx context.Context, cmd Command) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	c := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	setupProcAttr(c)

	logger.Debug("", "exec: %s", cmd)

	start := time.Now()
	err := c.Run()
	res := &Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}

	// コンテキスト終了は終了コードより優先する
	if ctxErr := execCtx.Err(); ctxErr != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		logger.Debug("", "exec: %s exited with %d: %s", cmd.Binary, res.ExitCode, strings.TrimSpace(res.Stderr))
		return res, nil
	}
	return res, err
}
