package scenario

import (
	"runtime"
	"sort"
	"time"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/target"
)

// Preset は定義済みシナリオ
type Preset struct {
	Name        string
	Description string
	Simulated   bool // ネットワーク障害をシミュレーション方式で実行する
	Build       func() *Scenario
}

// LoopbackInterface はホストのループバックインターフェース名を返す
func LoopbackInterface() string {
	switch runtime.GOOS {
	case "linux":
		return "lo"
	case "windows":
		return "Loopback Pseudo-Interface 1"
	default:
		return "lo0"
	}
}

// BaselineCPUScenario は baseline → CPU 負荷 → recovery の3フェーズのシナリオを返す
func BaselineCPUScenario() *Scenario {
	params := chaos.DefaultParams(chaos.KindCPUStarvation)
	params.Intensity = 0.5
	return &Scenario{
		Name:        "baseline-cpu",
		Description: "Baseline, CPU starvation at intensity 0.5, recovery",
		Phases: []Phase{
			{Name: "baseline", Duration: 30 * time.Second},
			{
				Name:     "cpu-starvation",
				Duration: 60 * time.Second,
				Injections: []InjectionSpec{
					{Kind: chaos.KindCPUStarvation, Params: params},
				},
			},
			{Name: "recovery", Duration: 30 * time.Second},
		},
	}
}

// LatencySimScenario はループバックに遅延とロスを加えるシナリオを返す
func LatencySimScenario() *Scenario {
	latency := chaos.DefaultParams(chaos.KindNetworkLatency)
	loss := chaos.DefaultParams(chaos.KindPacketLoss)
	loss.LossRate = 0.05
	return &Scenario{
		Name:        "latency-sim",
		Description: "Network latency (100ms ± 20ms) and 5% loss on loopback",
		Targets: []target.Spec{
			{ID: "loopback", Kind: target.KindNetworkInterface, Descriptor: LoopbackInterface()},
		},
		Phases: []Phase{
			{Name: "baseline", Duration: 10 * time.Second},
			{
				Name:     "degraded",
				Duration: 20 * time.Second,
				Parallel: true,
				Injections: []InjectionSpec{
					{Kind: chaos.KindNetworkLatency, Target: "loopback", Params: latency},
					{Kind: chaos.KindPacketLoss, Target: "loopback", Params: loss},
				},
			},
			{Name: "recovery", Duration: 10 * time.Second},
		},
	}
}

// MemoryPressureScenario はメモリ使用率を上げるシナリオを返す
func MemoryPressureScenario() *Scenario {
	params := chaos.DefaultParams(chaos.KindMemoryPressure)
	params.TargetUsage = 0.75
	return &Scenario{
		Name:        "memory-pressure",
		Description: "Memory pressure up to 75% of system memory",
		Phases: []Phase{
			{Name: "baseline", Duration: 10 * time.Second},
			{
				Name:     "pressure",
				Duration: 30 * time.Second,
				Injections: []InjectionSpec{
					{Kind: chaos.KindMemoryPressure, Params: params},
				},
			},
			{Name: "recovery", Duration: 10 * time.Second},
		},
	}
}

// DiskSlowScenario は同期書き込みを遅くするシナリオを返す
func DiskSlowScenario() *Scenario {
	return &Scenario{
		Name:        "disk-slow",
		Description: "Slow synchronous writes (50ms before each fsync)",
		Phases: []Phase{
			{Name: "baseline", Duration: 10 * time.Second},
			{
				Name:     "slow-disk",
				Duration: 20 * time.Second,
				Injections: []InjectionSpec{
					{Kind: chaos.KindDiskSlow, Params: chaos.DefaultParams(chaos.KindDiskSlow)},
				},
			},
			{Name: "recovery", Duration: 10 * time.Second},
		},
	}
}

// QuickScenario はクイックテスト用シナリオを返す
// 短時間での動作確認用
func QuickScenario() *Scenario {
	params := chaos.DefaultParams(chaos.KindCPUStarvation)
	params.Intensity = 0.3
	params.Workers = 1
	return &Scenario{
		Name:        "quick",
		Description: "Quick test for verification",
		Phases: []Phase{
			{Name: "baseline", Duration: 1 * time.Second},
			{
				Name:     "cpu",
				Duration: 2 * time.Second,
				Injections: []InjectionSpec{
					{Kind: chaos.KindCPUStarvation, Params: params},
				},
			},
			{Name: "recovery", Duration: 1 * time.Second},
		},
	}
}

var presets = map[string]Preset{
	"baseline-cpu":    {Name: "baseline-cpu", Description: "Baseline, CPU starvation, recovery", Build: BaselineCPUScenario},
	"latency-sim":     {Name: "latency-sim", Description: "Simulated latency and loss on loopback", Simulated: true, Build: LatencySimScenario},
	"memory-pressure": {Name: "memory-pressure", Description: "Memory pressure to 75%", Build: MemoryPressureScenario},
	"disk-slow":       {Name: "disk-slow", Description: "Slow synchronous disk writes", Build: DiskSlowScenario},
	"quick":           {Name: "quick", Description: "Short verification run", Build: QuickScenario},
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
