//go:build !windows

package hostinfo

import (
	"time"

	"golang.org/x/sys/unix"
)

// SelfCPUTime は自プロセスの累積 CPU 時間 (user + system) を返す
func SelfCPUTime() (time.Duration, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano()), nil
}
