//go:build darwin

package hostinfo

import (
	"golang.org/x/sys/unix"

	"chaos-runner/internal/errs"
)

type sysctlReader struct{}

// NewReader は sysctl を読む Reader を返す
func NewReader() Reader {
	return sysctlReader{}
}

func (sysctlReader) Memory() (Memory, error) {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return Memory{}, err
	}
	free, err := unix.SysctlUint32("vm.page_free_count")
	if err != nil {
		return Memory{Total: total}, nil
	}
	return Memory{Total: total, Available: uint64(free) * uint64(unix.Getpagesize())}, nil
}

func (sysctlReader) CPUTimes() (CPUTimes, error) {
	return CPUTimes{}, errs.Unsupported("cpu times", nil, "host cpu times not available on darwin")
}

func (sysctlReader) Process(pid int) (ProcessUsage, error) {
	return ProcessUsage{}, errs.Unsupported("process usage", nil, "per-process usage not available on darwin")
}
