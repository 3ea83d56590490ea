package metrics

import (
	"context"
	"net"
	"runtime"
	"sync"
	"time"

	"chaos-runner/internal/errs"
	"chaos-runner/internal/hostinfo"
)

// HostTargetID はホスト全体のプローブのターゲット ID
const HostTargetID = "host"

// ProbeFunc は関数を Probe として使うためのアダプタ
type ProbeFunc struct {
	ID string
	Fn func(ctx context.Context) ([]Reading, error)
}

func (p ProbeFunc) TargetID() string { return p.ID }

func (p ProbeFunc) Sample(ctx context.Context) ([]Reading, error) {
	return p.Fn(ctx)
}

// HostProbe はホストの CPU 使用率とメモリ使用率を計測する。
// ホストの CPU 時間が読めない環境では自プロセスの CPU 使用率（ホスト全体に対する割合）を使う。
type HostProbe struct {
	reader hostinfo.Reader

	mu       sync.Mutex
	prev     hostinfo.CPUTimes
	havePrev bool
	selfPrev time.Duration
	selfAt   time.Time
}

// NewHostProbe は HostProbe を作成する
func NewHostProbe(reader hostinfo.Reader) *HostProbe {
	return &HostProbe{reader: reader}
}

func (p *HostProbe) TargetID() string { return HostTargetID }

func (p *HostProbe) Sample(context.Context) ([]Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		out      []Reading
		failures []error
	)

	if cpu, ok, err := p.cpuPercent(); err != nil {
		failures = append(failures, err)
	} else if ok {
		out = append(out, Reading{Metric: MetricCPUPercent, Value: cpu})
	}

	if mem, err := p.reader.Memory(); err != nil {
		failures = append(failures, err)
	} else {
		out = append(out, Reading{Metric: MetricMemoryPercent, Value: mem.UsedFraction() * 100})
	}

	if len(out) == 0 && len(failures) > 0 {
		return nil, errs.Combine(failures...)
	}
	return out, nil
}

// cpuPercent は前回の計測からの CPU 使用率を返す。初回は ok=false。
func (p *HostProbe) cpuPercent() (float64, bool, error) {
	cur, err := p.reader.CPUTimes()
	if err == nil {
		prev, had := p.prev, p.havePrev
		p.prev, p.havePrev = cur, true
		if !had {
			return 0, false, nil
		}
		return hostinfo.UsagePercent(prev, cur), true, nil
	}

	self, serr := hostinfo.SelfCPUTime()
	if serr != nil {
		return 0, false, errs.Combine(err, serr)
	}
	now := time.Now()
	prevSelf, prevAt := p.selfPrev, p.selfAt
	p.selfPrev, p.selfAt = self, now
	if prevAt.IsZero() {
		return 0, false, nil
	}
	return hostinfo.CPUPercent(prevSelf, self, now.Sub(prevAt)) / float64(runtime.NumCPU()), true, nil
}

// PIDFunc は計測対象のプロセス ID を返す
type PIDFunc func(ctx context.Context) (int, error)

// ProcessProbe はプロセスの CPU 使用率（100% = 1コア）とメモリ使用率を計測する
type ProcessProbe struct {
	targetID string
	pid      PIDFunc
	reader   hostinfo.Reader

	mu      sync.Mutex
	lastPID int
	prevCPU time.Duration
	prevAt  time.Time
}

// NewProcessProbe は ProcessProbe を作成する。pid は計測のたびに呼ばれる。
func NewProcessProbe(targetID string, pid PIDFunc, reader hostinfo.Reader) *ProcessProbe {
	return &ProcessProbe{targetID: targetID, pid: pid, reader: reader}
}

func (p *ProcessProbe) TargetID() string { return p.targetID }

func (p *ProcessProbe) Sample(ctx context.Context) ([]Reading, error) {
	pid, err := p.pid(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := p.reader.Process(pid)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var out []Reading
	// 再起動などで PID が変わったら差分を取り直す
	if pid == p.lastPID && !p.prevAt.IsZero() {
		out = append(out, Reading{
			Metric: MetricCPUPercent,
			Value:  hostinfo.CPUPercent(p.prevCPU, usage.CPUTime, now.Sub(p.prevAt)),
		})
	}
	p.lastPID, p.prevCPU, p.prevAt = pid, usage.CPUTime, now

	if mem, err := p.reader.Memory(); err == nil && mem.Total > 0 {
		out = append(out, Reading{
			Metric: MetricMemoryPercent,
			Value:  float64(usage.RSS) / float64(mem.Total) * 100,
		})
	}
	return out, nil
}

// Dialer は TCP 接続を作成する
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// LatencyProbe は address への TCP 接続にかかる時間を計測する
type LatencyProbe struct {
	targetID string
	address  string
	dialer   Dialer
}

// NewLatencyProbe は LatencyProbe を作成する。dialer が nil なら net.Dialer を使う。
func NewLatencyProbe(targetID, address string, dialer Dialer) *LatencyProbe {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &LatencyProbe{targetID: targetID, address: address, dialer: dialer}
}

func (p *LatencyProbe) TargetID() string { return p.targetID }

func (p *LatencyProbe) Sample(ctx context.Context) ([]Reading, error) {
	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	_ = conn.Close()

	return []Reading{{
		Metric: MetricLatencyMs,
		Value:  float64(elapsed) / float64(time.Millisecond),
	}}, nil
}
