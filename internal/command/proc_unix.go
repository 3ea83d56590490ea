//go:build !windows

package command

import (
	"os/exec"
	"syscall"
)

// setupProcAttr は子プロセスを独立したプロセスグループで起動する
func setupProcAttr(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
