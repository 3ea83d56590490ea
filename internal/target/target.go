package target

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"chaos-runner/internal/errs"
	"chaos-runner/internal/logger"
)

// Kind はターゲットの種類
type Kind int

const (
	KindProcess Kind = iota
	KindNetworkInterface
)

func (k Kind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindNetworkInterface:
		return "network_interface"
	default:
		return "unknown"
	}
}

// ParseKind は文字列からターゲット種類を取得する
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "process", "proc":
		return KindProcess, nil
	case "network_interface", "interface", "iface", "network":
		return KindNetworkInterface, nil
	default:
		return KindProcess, fmt.Errorf("unknown target kind: %s", s)
	}
}

// Spec はシナリオで宣言されたターゲット
type Spec struct {
	ID         string
	Kind       Kind
	Descriptor string // プロセスの場合は PID または名前、インターフェースの場合は名前

	// ProbeAddress はレイテンシ計測に使う host:port（任意）
	ProbeAddress string
}

// PID は Descriptor が数値なら PID を返す
func (s Spec) PID() (int, bool) {
	pid, err := strconv.Atoi(s.Descriptor)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Resolved はホスト上で解決済みのターゲット
type Resolved struct {
	Spec

	// プロセス
	PID     int
	Name    string
	Cmdline []string // 再起動用に取得した起動コマンド

	// ネットワークインターフェース
	Interface string
	Index     int
}

// ProcessInfo はプロセス検索の結果
type ProcessInfo struct {
	PID     int
	Name    string
	Cmdline []string
}

// ProcessFinder はホスト上のプロセスを検索する
type ProcessFinder interface {
	ByPID(ctx context.Context, pid int) (*ProcessInfo, error)
	ByName(ctx context.Context, name string) (*ProcessInfo, error)
}

// InterfaceLookup はネットワークインターフェースを名前で検索する
type InterfaceLookup func(name string) (*net.Interface, error)

// Resolver はターゲットを遅延解決し、結果をキャッシュする
type Resolver struct {
	mu     sync.Mutex
	procs  ProcessFinder
	ifaces InterfaceLookup
	cache  map[string]*Resolved
}

// NewResolver は新しい Resolver を作成する
func NewResolver(procs ProcessFinder, ifaces InterfaceLookup) *Resolver {
	if ifaces == nil {
		ifaces = net.InterfaceByName
	}
	return &Resolver{
		procs:  procs,
		ifaces: ifaces,
		cache:  make(map[string]*Resolved),
	}
}

// Resolve はターゲットを解決する。
// インターフェースは初回解決の結果を使い続ける。
// プロセスはキャッシュした PID が生存していなければ再解決する。
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (*Resolved, error) {
	r.mu.Lock()
	cached, ok := r.cache[spec.ID]
	r.mu.Unlock()

	if ok {
		if spec.Kind == KindNetworkInterface {
			return cached, nil
		}
		if _, err := r.procs.ByPID(ctx, cached.PID); err == nil {
			return cached, nil
		}
		logger.Debug(spec.ID, "cached pid %d is gone, resolving again", cached.PID)
	}

	var (
		res *Resolved
		err error
	)
	switch spec.Kind {
	case KindNetworkInterface:
		res, err = r.resolveInterface(spec)
	default:
		res, err = r.resolveProcess(ctx, spec)
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[spec.ID] = res
	r.mu.Unlock()

	logger.Debug(spec.ID, "resolved %s %q", spec.Kind, spec.Descriptor)
	return res, nil
}

// Lookup はキャッシュ済みの解決結果を返す（解決は行わない）
func (r *Resolver) Lookup(id string) (*Resolved, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.cache[id]
	return res, ok
}

func (r *Resolver) resolveInterface(spec Spec) (*Resolved, error) {
	if spec.Descriptor == "" {
		return nil, errs.Resolution(spec.ID, nil, "empty interface name")
	}
	iface, err := r.ifaces(spec.Descriptor)
	if err != nil {
		return nil, errs.Resolution(spec.ID, err, "interface %q", spec.Descriptor)
	}
	return &Resolved{Spec: spec, Interface: iface.Name, Index: iface.Index}, nil
}

func (r *Resolver) resolveProcess(ctx context.Context, spec Spec) (*Resolved, error) {
	if r.procs == nil {
		return nil, errs.Unsupported(spec.ID, nil, "process lookup not available on this platform")
	}

	var (
		info *ProcessInfo
		err  error
	)
	if pid, ok := spec.PID(); ok {
		info, err = r.procs.ByPID(ctx, pid)
	} else {
		info, err = r.procs.ByName(ctx, spec.Descriptor)
	}
	if err != nil {
		return nil, errs.Resolution(spec.ID, err, "process %q", spec.Descriptor)
	}
	return &Resolved{
		Spec:    spec,
		PID:     info.PID,
		Name:    info.Name,
		Cmdline: info.Cmdline,
	}, nil
}
