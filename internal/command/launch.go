package command

import (
	"errors"
	"os/exec"

	"chaos-runner/internal/logger"
)

// Launch は argv のプロセスをバックグラウンドで起動し PID を返す。
// 終了したプロセスは内部の goroutine が回収する。
func Launch(argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("empty command line")
	}

	c := exec.Command(argv[0], argv[1:]...)
	setupProcAttr(c)
	if err := c.Start(); err != nil {
		return 0, err
	}

	pid := c.Process.Pid
	go func() {
		if err := c.Wait(); err != nil {
			logger.Debug("", "launched process %d exited: %v", pid, err)
		}
	}()
	return pid, nil
}
