package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chaos-runner/internal/config"
	"chaos-runner/internal/platform"
	"chaos-runner/internal/scenario"
)

// scenarioFlags はシナリオの読み込み元と上書き用のフラグ
type scenarioFlags struct {
	preset         string
	failFast       bool
	networkMode    string
	sampleInterval time.Duration
}

func (f *scenarioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.preset, "preset", "p", "", "preset scenario name (see 'chaos-runner list')")
	cmd.Flags().BoolVar(&f.failFast, "fail-fast", false, "abort the scenario on the first injection failure")
	cmd.Flags().StringVar(&f.networkMode, "network-mode", "", "network fault variant: auto, kernel or simulated")
	cmd.Flags().DurationVar(&f.sampleInterval, "sample-interval", 0, "metrics sampling interval")
}

// load はファイルまたはプリセットからシナリオを作り、フラグで上書きする。
// 優先順位はファイル/プリセット → フラグ。
func (f *scenarioFlags) load(cmd *cobra.Command, args []string) (*scenario.Scenario, scenario.Config, error) {
	var s *scenario.Scenario
	cfg := scenario.DefaultConfig()

	switch {
	case len(args) > 0 && f.preset != "":
		return nil, cfg, fmt.Errorf("give either a scenario file or --preset, not both")
	case len(args) > 0:
		var err error
		s, cfg, err = config.Load(args[0])
		if err != nil {
			return s, cfg, err
		}
	case f.preset != "":
		preset, ok := scenario.GetPreset(f.preset)
		if !ok {
			return nil, cfg, fmt.Errorf("unknown preset: %s (available: %v)", f.preset, scenario.ListPresets())
		}
		s = preset.Build()
		if preset.Simulated {
			cfg.NetworkMode = platform.ModeSimulated
		}
	default:
		return nil, cfg, fmt.Errorf("a scenario file or --preset is required")
	}

	flags := cmd.Flags()
	if flags.Changed("fail-fast") {
		cfg.FailFast = f.failFast
	}
	if flags.Changed("network-mode") {
		mode, err := platform.ParseNetworkMode(f.networkMode)
		if err != nil {
			return s, cfg, err
		}
		cfg.NetworkMode = mode
	}
	if flags.Changed("sample-interval") {
		cfg.SampleInterval = f.sampleInterval
	}
	return s, cfg, nil
}
