package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/command"
	"chaos-runner/internal/config"
	"chaos-runner/internal/hostinfo"
	"chaos-runner/internal/logger"
	"chaos-runner/internal/metrics"
	"chaos-runner/internal/platform"
	"chaos-runner/internal/registry"
	"chaos-runner/internal/scenario"
	"chaos-runner/internal/target"
)

const attachPhase = "attach"

// attachOptions は attach コマンドの入力
type attachOptions struct {
	kind        string
	pid         int
	process     string
	iface       string
	duration    time.Duration
	set         []string
	networkMode string
}

var attachFlags attachOptions

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Apply a single fault to a target until the duration ends or Ctrl-C",
	Long: `attach applies one fault outside a scenario, holds it, then reverts it.

With --duration 0 the fault is held until SIGINT/SIGTERM.

Exit codes:
  0  applied and reverted
  1  the fault could not be applied or reverted
  2  invalid flags or parameters
  3  interrupted before --duration elapsed`,
	Example: `  chaos-runner attach --kind network_latency --interface eth0 --set delay=100ms --duration 30s
  chaos-runner attach --kind process_kill --process nginx --set restart=true
  chaos-runner attach --kind cpu_starvation --set intensity=0.5 --set workers=2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := scenario.DefaultConfig()
		if cmd.Flags().Changed("network-mode") {
			mode, err := platform.ParseNetworkMode(attachFlags.networkMode)
			if err != nil {
				return &exitError{code: scenario.ExitInvalid, err: err}
			}
			cfg.NetworkMode = mode
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		catalog := newCatalog(cfg, hostinfo.NewReader())
		resolver := target.NewResolver(target.NewProcessFinder(command.NewExec(command.DefaultConfig())), nil)
		return attach(ctx, cmd.OutOrStdout(), attachFlags, catalog, resolver, cfg.CleanupTimeout)
	},
}

func init() {
	f := attachCmd.Flags()
	f.StringVarP(&attachFlags.kind, "kind", "k", "", "fault kind (see 'chaos-runner list')")
	f.IntVar(&attachFlags.pid, "pid", 0, "target process id")
	f.StringVar(&attachFlags.process, "process", "", "target process name")
	f.StringVar(&attachFlags.iface, "interface", "", "target network interface")
	f.DurationVarP(&attachFlags.duration, "duration", "d", 0, "how long to hold the fault (0 = until interrupted)")
	f.StringArrayVar(&attachFlags.set, "set", nil, "fault parameter as key=value (repeatable)")
	f.StringVar(&attachFlags.networkMode, "network-mode", "", "network fault variant: auto, kernel or simulated")
	_ = attachCmd.MarkFlagRequired("kind")
	attachCmd.MarkFlagsMutuallyExclusive("pid", "process", "interface")
}

// targetSpec はフラグからターゲットを組み立てる。ホスト全体の障害は nil を返す。
func (o attachOptions) targetSpec(kind chaos.Kind) (*target.Spec, error) {
	want, needs := kind.TargetKind()
	given := o.pid > 0 || o.process != "" || o.iface != ""
	if !needs {
		if given {
			return nil, fmt.Errorf("%s acts on the whole host and takes no target", kind)
		}
		return nil, nil
	}

	switch want {
	case target.KindNetworkInterface:
		if o.iface == "" {
			return nil, fmt.Errorf("%s needs --interface", kind)
		}
		return &target.Spec{ID: o.iface, Kind: want, Descriptor: o.iface}, nil
	default:
		switch {
		case o.pid > 0:
			pid := strconv.Itoa(o.pid)
			return &target.Spec{ID: "pid-" + pid, Kind: want, Descriptor: pid}, nil
		case o.process != "":
			return &target.Spec{ID: o.process, Kind: want, Descriptor: o.process}, nil
		default:
			return nil, fmt.Errorf("%s needs --pid or --process", kind)
		}
	}
}

// attach は1つの障害を適用し、期間の終了または中断まで保持してから復元する
func attach(ctx context.Context, out io.Writer, o attachOptions, injectors scenario.Injectors, resolver scenario.Resolver, cleanupTimeout time.Duration) error {
	kind, err := chaos.ParseKind(o.kind)
	if err != nil {
		return &exitError{code: scenario.ExitInvalid, err: err}
	}
	if o.duration < 0 {
		return &exitError{code: scenario.ExitInvalid, err: fmt.Errorf("--duration must not be negative")}
	}
	values, err := config.ParseAssignments(o.set)
	if err != nil {
		return &exitError{code: scenario.ExitInvalid, err: err}
	}
	params, err := config.ParseParams(kind, values)
	if err != nil {
		return &exitError{code: scenario.ExitInvalid, err: err}
	}
	spec, err := o.targetSpec(kind)
	if err != nil {
		return &exitError{code: scenario.ExitInvalid, err: err}
	}

	inj, ok := injectors.Lookup(kind)
	if !ok {
		return &exitError{code: scenario.ExitFailed, err: fmt.Errorf("no injector registered for %s", kind)}
	}

	t := &target.Resolved{Spec: target.Spec{ID: metrics.HostTargetID}}
	if spec != nil {
		t, err = resolver.Resolve(ctx, *spec)
		if err != nil {
			return &exitError{code: scenario.ExitFailed, err: err}
		}
	}

	regConfig := registry.DefaultConfig()
	if cleanupTimeout > 0 {
		regConfig.CleanupTimeout = cleanupTimeout
	}
	reg := registry.New(regConfig)

	h, err := reg.Open(ctx, attachPhase, registry.Request{Injector: inj, Target: t, Params: params})
	if err != nil {
		return &exitError{code: scenario.ExitFailed, err: err}
	}

	info := reg.Info(h)
	fmt.Fprintf(out, "applied %s to %s (handle %s, variant %s)\n", kind, t.ID, info.ID, info.Variant)
	writeMetadata(out, info.Metadata)

	interrupted := hold(ctx, o.duration)
	logger.Info(t.ID, "reverting %s", info.ID)

	infos, cerr := reg.CloseAll(context.WithoutCancel(ctx), attachPhase)
	for _, i := range infos {
		fmt.Fprintf(out, "reverted %s: %s\n", i.ID, i.State)
	}
	if cerr != nil {
		return &exitError{code: scenario.ExitFailed, err: cerr}
	}
	if interrupted {
		return &exitError{code: scenario.ExitCancelled, err: ctx.Err()}
	}
	return nil
}

// hold は期間の終了または ctx のキャンセルまで待つ。期間前に中断されたら true を返す。
// 期間が 0 なら中断まで待ち、中断は正常終了として扱う。
func hold(ctx context.Context, d time.Duration) bool {
	if d == 0 {
		<-ctx.Done()
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ctx.Done():
		return true
	}
}

func writeMetadata(out io.Writer, md map[string]string) {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s=%s\n", k, md[k])
	}
}
