//go:build darwin

package target

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"chaos-runner/internal/command"
)

// psFinder は pgrep と ps でプロセスを検索する
type psFinder struct {
	runner command.Runner
}

// NewProcessFinder は macOS 用の ProcessFinder を返す
func NewProcessFinder(r command.Runner) ProcessFinder {
	return &psFinder{runner: r}
}

func (f *psFinder) ByPID(ctx context.Context, pid int) (*ProcessInfo, error) {
	res, err := command.RunChecked(ctx, f.runner, command.Command{
		Binary:    "ps",
		Arguments: []string{"-o", "command=", "-p", strconv.Itoa(pid)},
	})
	if err != nil {
		return nil, err
	}
	line := strings.TrimSpace(res.Stdout)
	if line == "" {
		return nil, fmt.Errorf("no process with pid %d", pid)
	}
	// ps は引数の区切りを保持しないため空白で分割する
	cmdline := strings.Fields(line)
	return &ProcessInfo{PID: pid, Name: filepath.Base(cmdline[0]), Cmdline: cmdline}, nil
}

func (f *psFinder) ByName(ctx context.Context, name string) (*ProcessInfo, error) {
	res, err := command.RunChecked(ctx, f.runner, command.Command{
		Binary:    "pgrep",
		Arguments: []string{"-x", name},
	})
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no process named %q", name)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("unexpected pgrep output: %q", res.Stdout)
	}
	return f.ByPID(ctx, pid)
}
