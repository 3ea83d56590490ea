package scenario

import (
	"fmt"
	"time"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/metrics"
	"chaos-runner/internal/platform"
	"chaos-runner/internal/target"
)

// InjectionSpec はフェーズで適用する1つの障害
type InjectionSpec struct {
	Kind   chaos.Kind
	Target string // ターゲット ID。ホスト全体の障害では省略できる
	Params chaos.Params
}

// Phase はシナリオの時間区間。Injections が空なら観測だけを行う。
type Phase struct {
	Name       string
	Duration   time.Duration
	Parallel   bool
	Injections []InjectionSpec
}

// Scenario は読み込み済みのシナリオ。実行中は変更されない。
type Scenario struct {
	Name        string
	Description string
	Labels      map[string]string
	RampUp      time.Duration // 最初のフェーズの前の待機時間
	Targets     []target.Spec
	Phases      []Phase
	SLOs        []metrics.SLO // probe_address を持つターゲットのレイテンシに適用する
}

// TotalDuration は宣言された実行時間の合計を返す
func (s *Scenario) TotalDuration() time.Duration {
	total := s.RampUp
	for _, p := range s.Phases {
		total += p.Duration
	}
	return total
}

// Target は ID からターゲットを返す
func (s *Scenario) Target(id string) (target.Spec, bool) {
	for _, t := range s.Targets {
		if t.ID == id {
			return t, true
		}
	}
	return target.Spec{}, false
}

// Config はエンジンの設定
type Config struct {
	FailFast         bool                 // 注入の失敗でシナリオを中断する
	MaxPhaseDuration time.Duration        // フェーズの最大長
	SampleInterval   time.Duration        // メトリクスの計測間隔
	NetworkMode      platform.NetworkMode // ネットワーク障害の実装方式
	CleanupTimeout   time.Duration        // 1ハンドルあたりの復元タイムアウト
	ScratchDir       string               // disk_slow のスクラッチファイル置き場
	MemoryCap        uint64               // memory_pressure の確保上限（バイト、0で無制限）
}

// DefaultMemoryCap は memory_pressure のデフォルトの確保上限
const DefaultMemoryCap = 2 << 30

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		FailFast:         false,
		MaxPhaseDuration: 1 * time.Hour,
		SampleInterval:   1 * time.Second,
		NetworkMode:      platform.ModeAuto,
		CleanupTimeout:   30 * time.Second,
		MemoryCap:        DefaultMemoryCap,
	}
}

// Status はシナリオ全体の状態
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusCancelled
	StatusFailed
	StatusInvalid // 検証エラーで開始しなかった
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// MarshalText は JSON 出力用に名前を返す
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText は名前から状態を復元する
func (s *Status) UnmarshalText(text []byte) error {
	for st := StatusPending; st <= StatusInvalid; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown scenario status: %q", text)
}

// PhaseState はフェーズの状態
type PhaseState int

const (
	PhasePending PhaseState = iota
	PhaseRunning
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
	PhaseSkipped
)

func (s PhaseState) String() string {
	switch s {
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	case PhaseSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// MarshalText は JSON 出力用に名前を返す
func (s PhaseState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OutcomeStatus は1つの注入の結果
type OutcomeStatus int

const (
	OutcomeSucceeded     OutcomeStatus = iota // 適用と復元に成功
	OutcomeApplyFailed                        // 適用に失敗
	OutcomeCleanupFailed                      // 復元に失敗（Leaked）
	OutcomeSkipped                            // 中断により適用しなかった
	OutcomeActive                             // 適用済みで未復元（結果の確定前のみ）
)

func (o OutcomeStatus) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeApplyFailed:
		return "apply_failed"
	case OutcomeCleanupFailed:
		return "cleanup_failed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeActive:
		return "active"
	default:
		return "unknown"
	}
}

// MarshalText は JSON 出力用に名前を返す
func (o OutcomeStatus) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
