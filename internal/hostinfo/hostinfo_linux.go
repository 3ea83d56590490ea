//go:build linux

package hostinfo

import (
	"errors"
	"time"

	"github.com/prometheus/procfs"

	"chaos-runner/internal/errs"
)

type procfsReader struct {
	fs procfs.FS
}

// NewReader は /proc を読む Reader を返す
func NewReader() Reader {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return unsupportedReader{}
	}
	return &procfsReader{fs: fs}
}

func (r *procfsReader) Memory() (Memory, error) {
	mi, err := r.fs.Meminfo()
	if err != nil {
		return Memory{}, err
	}
	if mi.MemTotal == nil {
		return Memory{}, errors.New("meminfo: MemTotal missing")
	}
	m := Memory{Total: *mi.MemTotal * 1024}
	switch {
	case mi.MemAvailable != nil:
		m.Available = *mi.MemAvailable * 1024
	case mi.MemFree != nil:
		m.Available = *mi.MemFree * 1024
	}
	return m, nil
}

func (r *procfsReader) CPUTimes() (CPUTimes, error) {
	st, err := r.fs.Stat()
	if err != nil {
		return CPUTimes{}, err
	}
	c := st.CPUTotal
	idle := c.Idle + c.Iowait
	busy := c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	return CPUTimes{Busy: busy, Total: busy + idle}, nil
}

func (r *procfsReader) Process(pid int) (ProcessUsage, error) {
	p, err := r.fs.Proc(pid)
	if err != nil {
		return ProcessUsage{}, errs.Resolution("", err, "pid %d", pid)
	}
	st, err := p.Stat()
	if err != nil {
		return ProcessUsage{}, err
	}
	return ProcessUsage{
		CPUTime: time.Duration(st.CPUTime() * float64(time.Second)),
		RSS:     uint64(st.ResidentMemory()),
	}, nil
}
