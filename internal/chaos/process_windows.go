//go:build windows

package chaos

import (
	"context"
	"strconv"
	"strings"

	"chaos-runner/internal/command"
)

// taskkillProcessControl は taskkill と tasklist を使う。
// SIGKILL 以外は /F なしで終了を要求する。
type taskkillProcessControl struct {
	runner command.Runner
}

func newProcessControl(r command.Runner) processControl {
	return &taskkillProcessControl{runner: r}
}

func (c *taskkillProcessControl) signal(ctx context.Context, _ string, pid int, sig string) error {
	args := []string{"/PID", strconv.Itoa(pid)}
	if sig == "SIGKILL" {
		args = append(args, "/F")
	}
	_, err := command.RunChecked(ctx, c.runner, command.Command{Binary: "taskkill", Arguments: args})
	return err
}

func (c *taskkillProcessControl) alive(ctx context.Context, pid int) bool {
	res, err := c.runner.Run(ctx, command.Command{
		Binary:    "tasklist",
		Arguments: []string{"/FI", "PID eq " + strconv.Itoa(pid), "/FO", "CSV", "/NH"},
	})
	if err != nil || !res.Success() {
		return false
	}
	return strings.Contains(res.Stdout, `"`+strconv.Itoa(pid)+`"`)
}
