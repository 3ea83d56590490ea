package metrics

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaos-runner/internal/chaos/simnet"
	"chaos-runner/internal/hostinfo"
)

type fakeReader struct {
	mem     hostinfo.Memory
	memErr  error
	cpu     []hostinfo.CPUTimes
	cpuErr  error
	proc    hostinfo.ProcessUsage
	procErr error
}

func (f *fakeReader) Memory() (hostinfo.Memory, error) { return f.mem, f.memErr }

func (f *fakeReader) CPUTimes() (hostinfo.CPUTimes, error) {
	if f.cpuErr != nil {
		return hostinfo.CPUTimes{}, f.cpuErr
	}
	c := f.cpu[0]
	if len(f.cpu) > 1 {
		f.cpu = f.cpu[1:]
	}
	return c, nil
}

func (f *fakeReader) Process(int) (hostinfo.ProcessUsage, error) { return f.proc, f.procErr }

func readingMap(readings []Reading) map[Metric]float64 {
	out := make(map[Metric]float64)
	for _, r := range readings {
		out[r.Metric] = r.Value
	}
	return out
}

func TestHostProbe(t *testing.T) {
	reader := &fakeReader{
		mem: hostinfo.Memory{Total: 1000, Available: 250},
		cpu: []hostinfo.CPUTimes{{Busy: 10, Total: 100}, {Busy: 40, Total: 200}},
	}
	p := NewHostProbe(reader)
	assert.Equal(t, HostTargetID, p.TargetID())

	first, err := p.Sample(context.Background())
	require.NoError(t, err)
	m := readingMap(first)
	_, hasCPU := m[MetricCPUPercent]
	assert.False(t, hasCPU, "first sample has no cpu delta")
	assert.InDelta(t, 75.0, m[MetricMemoryPercent], 1e-9)

	second, err := p.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 30.0, readingMap(second)[MetricCPUPercent], 1e-9)
}

func TestHostProbeAllFailing(t *testing.T) {
	reader := &fakeReader{memErr: errors.New("no meminfo"), cpuErr: errors.New("no stat")}
	p := NewHostProbe(reader)

	// 自プロセスの CPU 時間へのフォールバックは初回は値を返さない
	_, err := p.Sample(context.Background())
	assert.Error(t, err)
}

func TestProcessProbe(t *testing.T) {
	reader := &fakeReader{
		mem:  hostinfo.Memory{Total: 1000},
		proc: hostinfo.ProcessUsage{CPUTime: time.Second, RSS: 100},
	}
	pid := 42
	p := NewProcessProbe("web", func(context.Context) (int, error) { return pid, nil }, reader)
	assert.Equal(t, "web", p.TargetID())

	first, err := p.Sample(context.Background())
	require.NoError(t, err)
	m := readingMap(first)
	assert.InDelta(t, 10.0, m[MetricMemoryPercent], 1e-9)
	_, hasCPU := m[MetricCPUPercent]
	assert.False(t, hasCPU)

	reader.proc.CPUTime = 2 * time.Second
	second, err := p.Sample(context.Background())
	require.NoError(t, err)
	assert.Positive(t, readingMap(second)[MetricCPUPercent])

	// PID が変わったら CPU の差分は取り直す
	pid = 43
	third, err := p.Sample(context.Background())
	require.NoError(t, err)
	_, hasCPU = readingMap(third)[MetricCPUPercent]
	assert.False(t, hasCPU)
}

func TestProcessProbeResolveError(t *testing.T) {
	p := NewProcessProbe("web", func(context.Context) (int, error) {
		return 0, errors.New("process not found")
	}, &fakeReader{})
	_, err := p.Sample(context.Background())
	assert.Error(t, err)
}

func listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return ln.Addr().String()
}

func TestLatencyProbe(t *testing.T) {
	addr := listen(t)
	p := NewLatencyProbe("web", addr, nil)

	readings, err := p.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, MetricLatencyMs, readings[0].Metric)
	assert.GreaterOrEqual(t, readings[0].Value, 0.0)
}

func TestLatencyProbeObservesSimulatedDelay(t *testing.T) {
	addr := listen(t)
	table := simnet.NewTable()
	table.Add("web", simnet.Fault{Kind: "network_latency", Delay: 30 * time.Millisecond})

	p := NewLatencyProbe("web", addr, &simnet.Dialer{Table: table, TargetID: "web"})
	readings, err := p.Sample(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, readings[0].Value, 30.0)
}
