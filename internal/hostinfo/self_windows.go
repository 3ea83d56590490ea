//go:build windows

package hostinfo

import (
	"time"

	"golang.org/x/sys/windows"
)

// SelfCPUTime は自プロセスの累積 CPU 時間 (user + kernel) を返す
func SelfCPUTime() (time.Duration, error) {
	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(windows.CurrentProcess(), &creation, &exit, &kernel, &user); err != nil {
		return 0, err
	}
	// Filetime は 100ns 単位
	ticks := func(ft windows.Filetime) int64 {
		return int64(ft.HighDateTime)<<32 | int64(ft.LowDateTime)
	}
	return time.Duration((ticks(kernel) + ticks(user)) * 100), nil
}
