//go:build !windows

package chaos

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"chaos-runner/internal/command"
	"chaos-runner/internal/errs"
)

// unixProcessControl は kill(2) を使う
type unixProcessControl struct{}

func newProcessControl(_ command.Runner) processControl {
	return unixProcessControl{}
}

func (unixProcessControl) signal(_ context.Context, targetID string, pid int, sig string) error {
	err := unix.Kill(pid, unix.Signal(signalNumbers[sig]))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EPERM):
		return errs.Privilege("kill", err, "pid %d", pid)
	case errors.Is(err, unix.ESRCH):
		return errs.Resolution(targetID, err, "pid %d no longer exists", pid)
	default:
		return errs.Command("kill", err, "pid %d", pid)
	}
}

func (unixProcessControl) alive(_ context.Context, pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
