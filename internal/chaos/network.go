package chaos

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"chaos-runner/internal/errs"
	"chaos-runner/internal/logger"
	"chaos-runner/internal/target"
)

// shaping はインターフェースに設定する遅延とロスの合成値
type shaping struct {
	Delay     time.Duration
	Jitter    time.Duration
	DelayCorr float64
	Loss      float64
	LossCorr  float64
}

func (s shaping) hasDelay() bool { return s.Delay > 0 || s.Jitter > 0 }
func (s shaping) hasLoss() bool  { return s.Loss > 0 }

type stackEntry struct {
	seq  uint64
	kind Kind
	s    shaping
}

// shapingStack は1つのインターフェースに有効なシェーピング注入の一覧。
// 遅延とロスはそれぞれ最も新しい注入の値が使われる。
type shapingStack struct {
	entries []stackEntry
}

func (st *shapingStack) push(e stackEntry) {
	st.entries = append(st.entries, e)
}

func (st *shapingStack) remove(seq uint64) (stackEntry, int, bool) {
	for i, e := range st.entries {
		if e.seq == seq {
			st.entries = append(st.entries[:i], st.entries[i+1:]...)
			return e, i, true
		}
	}
	return stackEntry{}, 0, false
}

func (st *shapingStack) insert(i int, e stackEntry) {
	st.entries = append(st.entries, stackEntry{})
	copy(st.entries[i+1:], st.entries[i:])
	st.entries[i] = e
}

func (st *shapingStack) merged() shaping {
	var m shaping
	for _, e := range st.entries {
		switch e.kind {
		case KindNetworkLatency:
			m.Delay, m.Jitter, m.DelayCorr = e.s.Delay, e.s.Jitter, e.s.DelayCorr
		case KindPacketLoss:
			m.Loss, m.LossCorr = e.s.Loss, e.s.LossCorr
		}
	}
	return m
}

// kernelBackend はカーネルツールでシェーピングとリセットを行う
type kernelBackend interface {
	variant() string
	applyShaping(ctx context.Context, iface string, s shaping) (map[string]string, error)
	clearShaping(ctx context.Context, iface string) error
	addReset(ctx context.Context, iface string, port int) (map[string]string, error)
	removeReset(ctx context.Context, iface string, port int) error
}

// network はネットワーク障害の実装
type network interface {
	variant() string
	shape(ctx context.Context, t *target.Resolved, kind Kind, s shaping) (*Effect, error)
	reset(ctx context.Context, t *target.Resolved, port int) (*Effect, error)
}

// ifaceState は1つのインターフェースのシェーピング状態。
// mu はそのインターフェースへのツール実行を直列化する。
type ifaceState struct {
	mu    sync.Mutex
	stack shapingStack
}

// kernelNetwork はインターフェースごとのシェーピング状態を管理する。
// 異なるインターフェースへの操作は並行して実行される。
type kernelNetwork struct {
	backend kernelBackend

	seq    atomic.Uint64
	mu     sync.Mutex // ifaces のみを保護する
	ifaces map[string]*ifaceState
}

func newKernelNetwork(b kernelBackend) *kernelNetwork {
	return &kernelNetwork{
		backend: b,
		ifaces:  make(map[string]*ifaceState),
	}
}

func (n *kernelNetwork) variant() string {
	return n.backend.variant()
}

// state はインターフェースの状態を返す。一度作った状態は削除しない。
func (n *kernelNetwork) state(iface string) *ifaceState {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.ifaces[iface]
	if !ok {
		st = &ifaceState{}
		n.ifaces[iface] = st
	}
	return st
}

func (n *kernelNetwork) shape(ctx context.Context, t *target.Resolved, kind Kind, s shaping) (*Effect, error) {
	iface := t.Interface
	st := n.state(iface)
	st.mu.Lock()
	defer st.mu.Unlock()

	entry := stackEntry{seq: n.seq.Add(1), kind: kind, s: s}
	st.stack.push(entry)

	meta, err := n.backend.applyShaping(ctx, iface, st.stack.merged())
	if err != nil {
		st.stack.remove(entry.seq)
		return nil, err
	}

	e := NewEffect(kind, t.ID, n.backend.variant(), func(ctx context.Context) error {
		return n.unshape(ctx, iface, entry.seq)
	})
	e.Set("interface", iface)
	for k, v := range meta {
		e.Set(k, v)
	}
	return e, nil
}

func (n *kernelNetwork) unshape(ctx context.Context, iface string, seq uint64) error {
	st := n.state(iface)
	st.mu.Lock()
	defer st.mu.Unlock()

	entry, idx, found := st.stack.remove(seq)
	if !found {
		return nil
	}

	var err error
	if len(st.stack.entries) == 0 {
		err = n.backend.clearShaping(ctx, iface)
	} else {
		_, err = n.backend.applyShaping(ctx, iface, st.stack.merged())
	}
	if err != nil {
		// 再試行できるように元に戻す
		st.stack.insert(idx, entry)
		return err
	}
	return nil
}

func (n *kernelNetwork) reset(ctx context.Context, t *target.Resolved, port int) (*Effect, error) {
	iface := t.Interface
	st := n.state(iface)
	st.mu.Lock()
	defer st.mu.Unlock()

	meta, err := n.backend.addReset(ctx, iface, port)
	if err != nil {
		return nil, err
	}

	e := NewEffect(KindTCPReset, t.ID, n.backend.variant(), func(ctx context.Context) error {
		st.mu.Lock()
		defer st.mu.Unlock()
		return n.backend.removeReset(ctx, iface, port)
	})
	e.Set("interface", iface)
	e.Set("port", strconv.Itoa(port))
	for k, v := range meta {
		e.Set(k, v)
	}
	return e, nil
}

// unavailableNetwork はバックエンドを選択できなかった場合に使われる
type unavailableNetwork struct {
	err error
}

func (u unavailableNetwork) variant() string { return "unavailable" }

func (u unavailableNetwork) shape(context.Context, *target.Resolved, Kind, shaping) (*Effect, error) {
	return nil, u.err
}

func (u unavailableNetwork) reset(context.Context, *target.Resolved, int) (*Effect, error) {
	return nil, u.err
}

// networkInjector は network_latency, packet_loss, tcp_reset を実装する
type networkInjector struct {
	base
	net network
}

func newNetworkInjector(kind Kind, net network, privileged bool) *networkInjector {
	var desc string
	switch kind {
	case KindNetworkLatency:
		desc = "adds delay and jitter to outgoing packets"
	case KindPacketLoss:
		desc = "drops a fraction of outgoing packets"
	case KindTCPReset:
		desc = "resets TCP connections to a port"
	}
	return &networkInjector{
		base: base{desc: Descriptor{
			Kind:              kind,
			Name:              kind.String(),
			Variant:           net.variant(),
			RequiresPrivilege: privileged,
			Platforms:         allPlatforms,
			Description:       desc,
		}},
		net: net,
	}
}

func (i *networkInjector) Apply(ctx context.Context, t *target.Resolved, p Params) (*Effect, error) {
	if t == nil || t.Interface == "" {
		return nil, errs.Resolution(targetID(t), nil, "network injection requires a network interface target")
	}

	kind := i.desc.Kind
	var (
		e   *Effect
		err error
	)
	switch kind {
	case KindNetworkLatency:
		e, err = i.net.shape(ctx, t, kind, shaping{Delay: p.Delay, Jitter: p.Jitter, DelayCorr: p.Correlation})
	case KindPacketLoss:
		e, err = i.net.shape(ctx, t, kind, shaping{Loss: p.LossRate, LossCorr: p.Correlation})
	case KindTCPReset:
		e, err = i.net.reset(ctx, t, p.Port)
	default:
		return nil, fmt.Errorf("unsupported network kind %s", kind)
	}
	if err != nil {
		return nil, err
	}

	logger.Warn(t.ID, "%s applied on %s (%s, %s)", kind, t.Interface, e.Variant, p.Summary(kind))
	return e, nil
}

func targetID(t *target.Resolved) string {
	if t == nil {
		return ""
	}
	return t.ID
}

// formatMillis は tc / dnctl 用にミリ秒表記を返す
func formatMillis(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	return strconv.FormatFloat(ms, 'f', -1, 64) + "ms"
}

// formatPercent は割合をパーセント表記にする
func formatPercent(v float64) string {
	pct := math.Round(v*100*1e4) / 1e4
	return strconv.FormatFloat(pct, 'f', -1, 64) + "%"
}
