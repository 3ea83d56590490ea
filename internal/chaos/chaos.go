package chaos

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"chaos-runner/internal/target"
)

// Kind は障害の種類を表す
type Kind int

const (
	KindNetworkLatency Kind = iota
	KindPacketLoss
	KindTCPReset
	KindCPUStarvation
	KindMemoryPressure
	KindDiskSlow
	KindProcessKill
)

// AllKinds は全ての障害種類を返す
func AllKinds() []Kind {
	return []Kind{
		KindNetworkLatency,
		KindPacketLoss,
		KindTCPReset,
		KindCPUStarvation,
		KindMemoryPressure,
		KindDiskSlow,
		KindProcessKill,
	}
}

func (k Kind) String() string {
	switch k {
	case KindNetworkLatency:
		return "network_latency"
	case KindPacketLoss:
		return "packet_loss"
	case KindTCPReset:
		return "tcp_reset"
	case KindCPUStarvation:
		return "cpu_starvation"
	case KindMemoryPressure:
		return "memory_pressure"
	case KindDiskSlow:
		return "disk_slow"
	case KindProcessKill:
		return "process_kill"
	default:
		return "unknown"
	}
}

// ParseKind は文字列から障害種類を取得する
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.ReplaceAll(s, "-", "_"))
	for _, k := range AllKinds() {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown injection kind: %q", s)
}

// IsNetwork はネットワーク障害かどうかを返す
func (k Kind) IsNetwork() bool {
	return k == KindNetworkLatency || k == KindPacketLoss || k == KindTCPReset
}

// TargetKind は注入に必要なターゲット種類を返す。
// ホスト全体に作用する障害は false を返す。
func (k Kind) TargetKind() (target.Kind, bool) {
	switch {
	case k.IsNetwork():
		return target.KindNetworkInterface, true
	case k == KindProcessKill:
		return target.KindProcess, true
	default:
		return 0, false
	}
}

// ResourceClass は同時実行を直列化するリソースの分類を返す。
// 遅延とパケットロスは同じシェーピング設定を書き換えるため同じクラスになる。
func (k Kind) ResourceClass() string {
	switch k {
	case KindNetworkLatency, KindPacketLoss:
		return "shaping"
	case KindTCPReset:
		return "filter"
	case KindCPUStarvation:
		return "cpu"
	case KindMemoryPressure:
		return "memory"
	case KindDiskSlow:
		return "disk"
	case KindProcessKill:
		return "process"
	default:
		return "unknown"
	}
}

// Descriptor は Injector の静的なメタデータ
type Descriptor struct {
	Kind              Kind     `json:"-"`
	Name              string   `json:"name"`
	Variant           string   `json:"variant"`
	RequiresPrivilege bool     `json:"requires_privilege"`
	Platforms         []string `json:"platforms"`
	Description       string   `json:"description"`
}

// Injector は1種類の障害の適用と復元を行う
type Injector interface {
	// Describe は静的なメタデータを返す
	Describe() Descriptor
	// Apply は障害を適用し、復元に必要な情報を持つ Effect を返す
	Apply(ctx context.Context, t *target.Resolved, p Params) (*Effect, error)
	// Revert は Apply の効果を取り消す。2回目以降の呼び出しは何もせず nil を返す。
	Revert(ctx context.Context, e *Effect) error
}

// Effect は適用中の障害
type Effect struct {
	Kind     Kind
	TargetID string
	Variant  string

	mu       sync.Mutex
	metadata map[string]string
	reverted bool

	revertMu sync.Mutex
	undo     func(ctx context.Context) error
}

// NewEffect は undo で復元される Effect を作成する。
// chaos パッケージ外の Injector 実装でも使える。
func NewEffect(kind Kind, targetID, variant string, undo func(ctx context.Context) error) *Effect {
	return &Effect{
		Kind:     kind,
		TargetID: targetID,
		Variant:  variant,
		metadata: make(map[string]string),
		undo:     undo,
	}
}

// Set はメタデータを設定する
func (e *Effect) Set(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metadata[key] = value
}

// Metadata はメタデータのコピーを返す
func (e *Effect) Metadata() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.metadata)
}

// Reverted は復元済みかどうかを返す
func (e *Effect) Reverted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reverted
}

// Revert は undo を一度だけ実行する。失敗した場合は再試行できる。
func (e *Effect) Revert(ctx context.Context) error {
	e.revertMu.Lock()
	defer e.revertMu.Unlock()

	if e.Reverted() {
		return nil
	}
	if e.undo != nil {
		if err := e.undo(ctx); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.reverted = true
	e.mu.Unlock()
	return nil
}

// base は全 Injector に共通の実装
type base struct {
	desc Descriptor
}

func (b *base) Describe() Descriptor {
	d := b.desc
	d.Platforms = append([]string(nil), b.desc.Platforms...)
	return d
}

func (b *base) Revert(ctx context.Context, e *Effect) error {
	if e == nil {
		return nil
	}
	return e.Revert(ctx)
}

var allPlatforms = []string{"linux", "darwin", "windows"}
