// Package commandtest は command.Runner のテスト用実装を提供する。
package commandtest

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"chaos-runner/internal/command"
)

// Response は Fake が返す応答
type Response struct {
	Result *command.Result
	Err    error
}

// Fake は実行したコマンドを記録し、登録された応答を返す Runner
type Fake struct {
	mu        sync.Mutex
	calls     []command.Command
	responses map[string]Response // コマンド文字列の前方一致
	missing   map[string]bool
}

// NewFake は全コマンドが成功する Fake を作成する
func NewFake() *Fake {
	return &Fake{
		responses: make(map[string]Response),
		missing:   make(map[string]bool),
	}
}

// On は prefix で始まるコマンドに対する応答を登録する
func (f *Fake) On(prefix string, resp Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = resp
}

// Fail は prefix で始まるコマンドを指定の終了コードで失敗させる
func (f *Fake) Fail(prefix string, exitCode int, stderr string) {
	f.On(prefix, Response{Result: &command.Result{ExitCode: exitCode, Stderr: stderr}})
}

// Missing は binary を PATH に存在しないものとして扱う
func (f *Fake) Missing(binaries ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range binaries {
		f.missing[b] = true
	}
}

// Run はコマンドを記録して応答を返す
func (f *Fake) Run(ctx context.Context, cmd command.Command) (*command.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, cmd)
	if f.missing[cmd.Binary] {
		return nil, &exec.Error{Name: cmd.Binary, Err: exec.ErrNotFound}
	}

	line := cmd.String()
	best := ""
	for prefix := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		resp := f.responses[best]
		return resp.Result, resp.Err
	}
	return &command.Result{ExitCode: 0}, nil
}

// LookPath は Missing に登録されていなければ成功する
func (f *Fake) LookPath(binary string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[binary] {
		return "", &exec.Error{Name: binary, Err: exec.ErrNotFound}
	}
	return "/usr/sbin/" + binary, nil
}

// Calls は記録されたコマンドのコピーを返す
func (f *Fake) Calls() []command.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]command.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Lines は記録されたコマンドを文字列で返す
func (f *Fake) Lines() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Reset は記録をクリアする
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
