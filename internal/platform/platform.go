package platform

import (
	"fmt"
	"runtime"
	"strings"

	"chaos-runner/internal/command"
	"chaos-runner/internal/errs"
)

// OS はホストの OS ファミリー
type OS int

const (
	OSOther OS = iota
	OSLinux
	OSDarwin
	OSWindows
)

func (o OS) String() string {
	switch o {
	case OSLinux:
		return "linux"
	case OSDarwin:
		return "darwin"
	case OSWindows:
		return "windows"
	default:
		return "other"
	}
}

// ParseOS は GOOS 形式の文字列から OS を取得する
func ParseOS(goos string) OS {
	switch goos {
	case "linux":
		return OSLinux
	case "darwin":
		return OSDarwin
	case "windows":
		return OSWindows
	default:
		return OSOther
	}
}

// Current は実行中のホストの OS を返す
func Current() OS {
	return ParseOS(runtime.GOOS)
}

// NetworkMode はネットワーク障害の実装方式の選択
type NetworkMode int

const (
	// ModeAuto はカーネルツールがあればカーネル方式、なければシミュレーション
	ModeAuto NetworkMode = iota
	// ModeKernel はカーネル方式を強制する（ツールがなければ ErrPlatformUnsupported）
	ModeKernel
	// ModeSimulated は常にアプリケーションレベルのシミュレーションを使う
	ModeSimulated
)

func (m NetworkMode) String() string {
	switch m {
	case ModeKernel:
		return "kernel"
	case ModeSimulated:
		return "simulated"
	default:
		return "auto"
	}
}

// ParseNetworkMode は文字列からネットワークモードを取得する
func ParseNetworkMode(s string) (NetworkMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ModeAuto, nil
	case "kernel":
		return ModeKernel, nil
	case "simulated", "sim":
		return ModeSimulated, nil
	default:
		return ModeAuto, fmt.Errorf("unknown network mode: %s", s)
	}
}

// Backend はネットワーク障害の実装バックエンド
type Backend int

const (
	BackendSimulated Backend = iota
	BackendNetem             // Linux: tc netem + iptables
	BackendDummynet          // macOS: dnctl + pfctl
)

func (b Backend) String() string {
	switch b {
	case BackendNetem:
		return "netem"
	case BackendDummynet:
		return "dummynet"
	default:
		return "simulated"
	}
}

// RequiresPrivilege はバックエンドが管理者権限を必要とするかを返す
func (b Backend) RequiresPrivilege() bool {
	return b != BackendSimulated
}

// kernelTools は OS ごとのカーネルレベルのネットワークツール
var kernelTools = map[OS][]string{
	OSLinux:  {"tc", "iptables"},
	OSDarwin: {"dnctl", "pfctl"},
}

// Host は検出したホスト情報
type Host struct {
	OS    OS
	Tools map[string]bool // カーネルツールの有無
}

// Detect はホストの OS とツールの有無を調べる
func Detect(r command.Runner, os OS) Host {
	h := Host{OS: os, Tools: make(map[string]bool)}
	for _, tool := range kernelTools[os] {
		_, err := r.LookPath(tool)
		h.Tools[tool] = err == nil
	}
	return h
}

// HasKernelNetwork はカーネルレベルのネットワークツールが揃っているかを返す
func (h Host) HasKernelNetwork() bool {
	tools, ok := kernelTools[h.OS]
	if !ok {
		return false
	}
	for _, t := range tools {
		if !h.Tools[t] {
			return false
		}
	}
	return true
}

// NetworkBackend はモードとホストから使用するバックエンドを選択する
func (h Host) NetworkBackend(mode NetworkMode) (Backend, error) {
	if mode == ModeSimulated {
		return BackendSimulated, nil
	}

	if h.HasKernelNetwork() {
		switch h.OS {
		case OSLinux:
			return BackendNetem, nil
		case OSDarwin:
			return BackendDummynet, nil
		}
	}

	if mode == ModeKernel {
		var missing []string
		for _, t := range kernelTools[h.OS] {
			if !h.Tools[t] {
				missing = append(missing, t)
			}
		}
		if len(missing) == 0 {
			return BackendSimulated, errs.Unsupported("network", nil, "no kernel network tools on %s", h.OS)
		}
		return BackendSimulated, errs.Unsupported("network", nil, "missing tools on %s: %s", h.OS, strings.Join(missing, ", "))
	}
	return BackendSimulated, nil
}
