package chaos

import (
	"fmt"
	"runtime"
	"time"

	"chaos-runner/internal/errs"
)

// デフォルト値
const (
	DefaultDelay       = 100 * time.Millisecond
	DefaultJitter      = 20 * time.Millisecond
	DefaultLossRate    = 0.01
	DefaultIntensity   = 0.8
	DefaultCPUPeriod   = 10 * time.Millisecond
	DefaultTargetUsage = 0.90
	DefaultDiskLatency = 50 * time.Millisecond
	DefaultBlockSize   = 4096
	DefaultKillWait    = 10 * time.Second
	DefaultSignal      = "SIGTERM"

	maxBlockSize = 64 << 20
)

// Params は障害種類ごとのパラメータ。
// 使われないフィールドは無視される。
type Params struct {
	// cpu_starvation
	Intensity float64       `json:"intensity,omitempty"`
	Workers   int           `json:"workers,omitempty"`
	Period    time.Duration `json:"period,omitempty"`

	// network_latency / packet_loss
	Delay       time.Duration `json:"delay,omitempty"`
	Jitter      time.Duration `json:"jitter,omitempty"`
	Correlation float64       `json:"correlation,omitempty"`
	LossRate    float64       `json:"loss_rate,omitempty"`

	// tcp_reset
	Port int `json:"port,omitempty"`

	// memory_pressure
	TargetUsage float64 `json:"target_usage,omitempty"`

	// disk_slow
	Latency   time.Duration `json:"latency,omitempty"`
	BlockSize int           `json:"block_size,omitempty"`

	// process_kill
	Signal  string        `json:"signal,omitempty"`
	Wait    time.Duration `json:"wait,omitempty"`
	Restart bool          `json:"restart,omitempty"`
}

// DefaultParams は障害種類ごとのデフォルトパラメータを返す
func DefaultParams(k Kind) Params {
	switch k {
	case KindNetworkLatency:
		return Params{Delay: DefaultDelay, Jitter: DefaultJitter}
	case KindPacketLoss:
		return Params{LossRate: DefaultLossRate}
	case KindCPUStarvation:
		return Params{Intensity: DefaultIntensity, Period: DefaultCPUPeriod}
	case KindMemoryPressure:
		return Params{TargetUsage: DefaultTargetUsage}
	case KindDiskSlow:
		return Params{Latency: DefaultDiskLatency, BlockSize: DefaultBlockSize}
	case KindProcessKill:
		return Params{Signal: DefaultSignal, Wait: DefaultKillWait}
	default:
		return Params{}
	}
}

// workers は実際に使うワーカー数を返す
func (p Params) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}

// Summary はログとレポート用の短い説明を返す
func (p Params) Summary(k Kind) string {
	switch k {
	case KindNetworkLatency:
		return fmt.Sprintf("delay=%s jitter=%s", p.Delay, p.Jitter)
	case KindPacketLoss:
		return fmt.Sprintf("loss=%.2f%%", p.LossRate*100)
	case KindTCPReset:
		return fmt.Sprintf("port=%d", p.Port)
	case KindCPUStarvation:
		return fmt.Sprintf("intensity=%.2f workers=%d", p.Intensity, p.workers())
	case KindMemoryPressure:
		return fmt.Sprintf("target_usage=%.2f", p.TargetUsage)
	case KindDiskSlow:
		return fmt.Sprintf("latency=%s block=%d", p.Latency, p.BlockSize)
	case KindProcessKill:
		return fmt.Sprintf("signal=%s restart=%t", p.Signal, p.Restart)
	default:
		return ""
	}
}

// checkFraction は v が [0,1] にあることを確認する。NaN も拒否する。
func checkFraction(field, name string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return errs.Validation(field, "%s must be in [0,1], got %g", name, v)
	}
	return nil
}

func checkNonNegative(field, name string, d time.Duration) error {
	if d < 0 {
		return errs.Validation(field, "%s must not be negative, got %s", name, d)
	}
	return nil
}

// Validate はパラメータの範囲を検証し、全ての違反を返す
func (p Params) Validate(k Kind, field string) []error {
	var out []error
	add := func(err error) {
		if err != nil {
			out = append(out, err)
		}
	}

	switch k {
	case KindNetworkLatency:
		add(checkNonNegative(field, "delay", p.Delay))
		add(checkNonNegative(field, "jitter", p.Jitter))
		add(checkFraction(field, "correlation", p.Correlation))
		if p.Delay == 0 && p.Jitter == 0 {
			add(errs.Validation(field, "delay or jitter must be > 0"))
		}
	case KindPacketLoss:
		add(checkFraction(field, "loss_rate", p.LossRate))
		add(checkFraction(field, "correlation", p.Correlation))
	case KindTCPReset:
		if p.Port < 1 || p.Port > 65535 {
			add(errs.Validation(field, "port must be in [1,65535], got %d", p.Port))
		}
	case KindCPUStarvation:
		add(checkFraction(field, "intensity", p.Intensity))
		if p.Workers < 0 {
			add(errs.Validation(field, "workers must not be negative, got %d", p.Workers))
		}
		if p.Period <= 0 {
			add(errs.Validation(field, "period must be > 0, got %s", p.Period))
		}
	case KindMemoryPressure:
		add(checkFraction(field, "target_usage", p.TargetUsage))
	case KindDiskSlow:
		add(checkNonNegative(field, "latency", p.Latency))
		if p.BlockSize <= 0 || p.BlockSize > maxBlockSize {
			add(errs.Validation(field, "block_size must be in [1,%d], got %d", maxBlockSize, p.BlockSize))
		}
	case KindProcessKill:
		if _, ok := signalNumbers[p.Signal]; !ok {
			add(errs.Validation(field, "unknown signal %q", p.Signal))
		}
		add(checkNonNegative(field, "wait", p.Wait))
	}
	return out
}
