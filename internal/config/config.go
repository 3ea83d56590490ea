package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/errs"
	"chaos-runner/internal/metrics"
	"chaos-runner/internal/platform"
	"chaos-runner/internal/scenario"
	"chaos-runner/internal/target"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Scenario ScenarioConfig `yaml:"scenario" json:"scenario"`
	Engine   EngineConfig   `yaml:"engine" json:"engine"`
}

// ScenarioConfig はシナリオ設定
type ScenarioConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Labels      map[string]string `yaml:"labels" json:"labels"`
	RampUp      string            `yaml:"ramp_up" json:"ramp_up"`
	Targets     []TargetConfig    `yaml:"targets" json:"targets"`
	Phases      []PhaseConfig     `yaml:"phases" json:"phases"`
	SLOs        []SLOConfig       `yaml:"slos" json:"slos"`
}

// SLOConfig はレイテンシの SLO 設定。target を省略すると全ての probe_address に適用する。
type SLOConfig struct {
	Name    string `yaml:"name" json:"name"`
	Target  string `yaml:"target" json:"target"`
	Latency string `yaml:"latency" json:"latency"`
}

// TargetConfig はターゲット設定。プロセスは pid か name、インターフェースは interface を指定する。
type TargetConfig struct {
	ID           string `yaml:"id" json:"id"`
	Kind         string `yaml:"kind" json:"kind"`
	PID          int    `yaml:"pid" json:"pid"`
	Name         string `yaml:"name" json:"name"`
	Interface    string `yaml:"interface" json:"interface"`
	ProbeAddress string `yaml:"probe_address" json:"probe_address"`
}

// PhaseConfig はフェーズ設定
type PhaseConfig struct {
	Name       string            `yaml:"name" json:"name"`
	Duration   string            `yaml:"duration" json:"duration"`
	Parallel   bool              `yaml:"parallel" json:"parallel"`
	Injections []InjectionConfig `yaml:"injections" json:"injections"`
}

// InjectionConfig は注入設定
type InjectionConfig struct {
	Kind   string       `yaml:"kind" json:"kind"`
	Target string       `yaml:"target" json:"target"`
	Params ParamsConfig `yaml:"params" json:"params"`
}

// ParamsConfig は注入パラメータ。省略した値は障害種類のデフォルトになる。
type ParamsConfig struct {
	Intensity   *float64 `yaml:"intensity" json:"intensity"`
	Workers     *int     `yaml:"workers" json:"workers"`
	Period      *string  `yaml:"period" json:"period"`
	Delay       *string  `yaml:"delay" json:"delay"`
	Jitter      *string  `yaml:"jitter" json:"jitter"`
	Correlation *float64 `yaml:"correlation" json:"correlation"`
	LossRate    *float64 `yaml:"loss_rate" json:"loss_rate"`
	Port        *int     `yaml:"port" json:"port"`
	TargetUsage *float64 `yaml:"target_usage" json:"target_usage"`
	Latency     *string  `yaml:"latency" json:"latency"`
	BlockSize   *int     `yaml:"block_size" json:"block_size"`
	Signal      *string  `yaml:"signal" json:"signal"`
	Wait        *string  `yaml:"wait" json:"wait"`
	Restart     *bool    `yaml:"restart" json:"restart"`
}

// EngineConfig はエンジン設定
type EngineConfig struct {
	FailFast         bool    `yaml:"fail_fast" json:"fail_fast"`
	MaxPhaseDuration string  `yaml:"max_phase_duration" json:"max_phase_duration"`
	SampleInterval   string  `yaml:"sample_interval" json:"sample_interval"`
	NetworkMode      string  `yaml:"network_mode" json:"network_mode"`
	CleanupTimeout   string  `yaml:"cleanup_timeout" json:"cleanup_timeout"`
	ScratchDir       string  `yaml:"scratch_dir" json:"scratch_dir"`
	MemoryCap        *uint64 `yaml:"memory_cap" json:"memory_cap"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Load は設定ファイルを読み込み、シナリオとエンジン設定に変換する
func Load(path string) (*scenario.Scenario, scenario.Config, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, scenario.DefaultConfig(), err
	}
	config, cerr := f.ToEngineConfig()
	s, serr := f.ToScenario()
	return s, config, errs.Combine(cerr, serr)
}

// parser は変換中のエラーを全て集める
type parser struct {
	errs []error
}

func (p *parser) duration(field, value string, dst *time.Duration) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, errs.Validation(field, "invalid duration %q", value))
		return
	}
	*dst = d
}

func (p *parser) fail(err error) {
	p.errs = append(p.errs, err)
}

func (p *parser) err() error {
	return errs.Combine(p.errs...)
}

// ToEngineConfig はエンジン設定に変換する。省略した値は scenario.DefaultConfig() になる。
func (f *FileConfig) ToEngineConfig() (scenario.Config, error) {
	ec := f.Engine
	config := scenario.DefaultConfig()
	var p parser

	config.FailFast = ec.FailFast
	p.duration("engine.max_phase_duration", ec.MaxPhaseDuration, &config.MaxPhaseDuration)
	p.duration("engine.sample_interval", ec.SampleInterval, &config.SampleInterval)
	p.duration("engine.cleanup_timeout", ec.CleanupTimeout, &config.CleanupTimeout)

	if ec.NetworkMode != "" {
		mode, err := platform.ParseNetworkMode(ec.NetworkMode)
		if err != nil {
			p.fail(errs.Validation("engine.network_mode", "%v", err))
		} else {
			config.NetworkMode = mode
		}
	}
	if ec.ScratchDir != "" {
		config.ScratchDir = ec.ScratchDir
	}
	if ec.MemoryCap != nil {
		config.MemoryCap = *ec.MemoryCap
	}
	return config, p.err()
}

// ToScenario はシナリオに変換する。範囲の検証は scenario.ValidateOnly で行う。
func (f *FileConfig) ToScenario() (*scenario.Scenario, error) {
	sc := f.Scenario
	var p parser

	s := &scenario.Scenario{
		Name:        sc.Name,
		Description: sc.Description,
		Labels:      sc.Labels,
	}
	p.duration("ramp_up", sc.RampUp, &s.RampUp)

	for i, tc := range sc.Targets {
		if spec, err := tc.toSpec(fmt.Sprintf("targets[%d]", i)); err != nil {
			p.fail(err)
		} else {
			s.Targets = append(s.Targets, spec)
		}
	}

	for i, pc := range sc.Phases {
		field := fmt.Sprintf("phases[%d]", i)
		phase := scenario.Phase{
			Name:     pc.Name,
			Parallel: pc.Parallel,
		}
		if pc.Duration == "" {
			p.fail(errs.Validation(field, "duration is required"))
		}
		p.duration(field, pc.Duration, &phase.Duration)

		for j, ic := range pc.Injections {
			ifield := fmt.Sprintf("%s.injections[%d]", field, j)
			kind, err := chaos.ParseKind(ic.Kind)
			if err != nil {
				p.fail(errs.Validation(ifield, "%v", err))
				continue
			}
			phase.Injections = append(phase.Injections, scenario.InjectionSpec{
				Kind:   kind,
				Target: ic.Target,
				Params: ic.Params.toParams(&p, ifield, kind),
			})
		}
		s.Phases = append(s.Phases, phase)
	}

	for i, slo := range sc.SLOs {
		field := fmt.Sprintf("slos[%d]", i)
		m := metrics.SLO{Name: slo.Name, TargetID: slo.Target}
		if slo.Latency == "" {
			p.fail(errs.Validation(field, "latency is required"))
		}
		p.duration(field, slo.Latency, &m.Threshold)
		s.SLOs = append(s.SLOs, m)
	}

	return s, p.err()
}

func (tc TargetConfig) toSpec(field string) (target.Spec, error) {
	kind, err := target.ParseKind(tc.Kind)
	if err != nil {
		return target.Spec{}, errs.Validation(field, "%v", err)
	}

	spec := target.Spec{ID: tc.ID, Kind: kind, ProbeAddress: tc.ProbeAddress}
	switch kind {
	case target.KindProcess:
		switch {
		case tc.PID > 0 && tc.Name != "":
			return spec, errs.Validation(field, "pid and name are mutually exclusive")
		case tc.PID > 0:
			spec.Descriptor = strconv.Itoa(tc.PID)
		default:
			spec.Descriptor = tc.Name
		}
	case target.KindNetworkInterface:
		spec.Descriptor = tc.Interface
	}
	return spec, nil
}

// toParams は障害種類のデフォルトに指定された値を上書きする
func (pc ParamsConfig) toParams(p *parser, field string, kind chaos.Kind) chaos.Params {
	params := chaos.DefaultParams(kind)

	if pc.Intensity != nil {
		params.Intensity = *pc.Intensity
	}
	if pc.Workers != nil {
		params.Workers = *pc.Workers
	}
	if pc.Correlation != nil {
		params.Correlation = *pc.Correlation
	}
	if pc.LossRate != nil {
		params.LossRate = *pc.LossRate
	}
	if pc.Port != nil {
		params.Port = *pc.Port
	}
	if pc.TargetUsage != nil {
		params.TargetUsage = *pc.TargetUsage
	}
	if pc.BlockSize != nil {
		params.BlockSize = *pc.BlockSize
	}
	if pc.Signal != nil {
		params.Signal = strings.ToUpper(*pc.Signal)
	}
	if pc.Restart != nil {
		params.Restart = *pc.Restart
	}

	for _, d := range []struct {
		name  string
		value *string
		dst   *time.Duration
	}{
		{"period", pc.Period, &params.Period},
		{"delay", pc.Delay, &params.Delay},
		{"jitter", pc.Jitter, &params.Jitter},
		{"latency", pc.Latency, &params.Latency},
		{"wait", pc.Wait, &params.Wait},
	} {
		if d.value != nil {
			p.duration(field+"."+d.name, *d.value, d.dst)
		}
	}
	return params
}

// Validate は設定を検証し、全ての違反をまとめて返す
func (f *FileConfig) Validate() error {
	config, cerr := f.ToEngineConfig()
	s, serr := f.ToScenario()
	if err := errs.Combine(cerr, serr); err != nil {
		return err
	}
	return errs.Combine(scenario.ValidateOnly(s, config)...)
}
