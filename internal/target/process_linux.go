//go:build linux

package target

import (
	"context"
	"fmt"

	"github.com/prometheus/procfs"

	"chaos-runner/internal/command"
)

// procfsFinder は /proc からプロセスを検索する
type procfsFinder struct {
	fs procfs.FS
}

// NewProcessFinder は Linux 用の ProcessFinder を返す
func NewProcessFinder(_ command.Runner) ProcessFinder {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil
	}
	return &procfsFinder{fs: fs}
}

func (f *procfsFinder) info(p procfs.Proc) (*ProcessInfo, error) {
	comm, err := p.Comm()
	if err != nil {
		return nil, err
	}
	cmdline, err := p.CmdLine()
	if err != nil {
		return nil, err
	}
	return &ProcessInfo{PID: p.PID, Name: comm, Cmdline: cmdline}, nil
}

func (f *procfsFinder) ByPID(_ context.Context, pid int) (*ProcessInfo, error) {
	p, err := f.fs.Proc(pid)
	if err != nil {
		return nil, err
	}
	stat, err := p.Stat()
	if err == nil && stat.State == "Z" {
		return nil, fmt.Errorf("pid %d is a zombie", pid)
	}
	return f.info(p)
}

// ByName は comm が一致する最小の PID を返す
func (f *procfsFinder) ByName(ctx context.Context, name string) (*ProcessInfo, error) {
	procs, err := f.fs.AllProcs()
	if err != nil {
		return nil, err
	}
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		comm, err := p.Comm()
		if err != nil || comm != name {
			continue
		}
		return f.info(p)
	}
	return nil, fmt.Errorf("no process named %q", name)
}
