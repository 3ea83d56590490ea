//go:build windows

package target

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"chaos-runner/internal/command"
)

// tasklistFinder は tasklist でプロセスを検索する。
// 起動コマンドは取得できないため、再起動はサポートされない。
type tasklistFinder struct {
	runner command.Runner
}

// NewProcessFinder は Windows 用の ProcessFinder を返す
func NewProcessFinder(r command.Runner) ProcessFinder {
	return &tasklistFinder{runner: r}
}

func (f *tasklistFinder) query(ctx context.Context, filter string) (*ProcessInfo, error) {
	res, err := command.RunChecked(ctx, f.runner, command.Command{
		Binary:    "tasklist",
		Arguments: []string{"/FI", filter, "/FO", "CSV", "/NH"},
	})
	if err != nil {
		return nil, err
	}
	records, err := csv.NewReader(strings.NewReader(res.Stdout)).ReadAll()
	if err != nil || len(records) == 0 || len(records[0]) < 2 {
		return nil, fmt.Errorf("no process matches %s", filter)
	}
	pid, err := strconv.Atoi(records[0][1])
	if err != nil {
		return nil, fmt.Errorf("no process matches %s", filter)
	}
	return &ProcessInfo{PID: pid, Name: records[0][0]}, nil
}

func (f *tasklistFinder) ByPID(ctx context.Context, pid int) (*ProcessInfo, error) {
	return f.query(ctx, "PID eq "+strconv.Itoa(pid))
}

func (f *tasklistFinder) ByName(ctx context.Context, name string) (*ProcessInfo, error) {
	if !strings.HasSuffix(strings.ToLower(name), ".exe") {
		name += ".exe"
	}
	return f.query(ctx, "IMAGENAME eq "+name)
}
