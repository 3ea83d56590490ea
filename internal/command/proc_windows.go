//go:build windows

package command

import "os/exec"

func setupProcAttr(cmd *exec.Cmd) {}
