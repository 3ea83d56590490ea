package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chaos-runner/internal/api"
	"chaos-runner/internal/chaos"
	"chaos-runner/internal/command"
	"chaos-runner/internal/events"
	"chaos-runner/internal/hostinfo"
	"chaos-runner/internal/logger"
	"chaos-runner/internal/platform"
	"chaos-runner/internal/scenario"
	"chaos-runner/internal/telemetry"
)

var (
	runFlags   scenarioFlags
	listenAddr string
	outputJSON string
	failOnLeak bool
)

var runCmd = &cobra.Command{
	Use:   "run [scenario.yaml]",
	Short: "Run a scenario from a file or a preset",
	Long: `run executes every phase of the scenario in order and prints a report.

Exit codes:
  0  completed
  1  failed
  2  validation errors
  3  cancelled (SIGINT/SIGTERM or POST /api/scenario/stop)
  4  completed, but some faults could not be reverted (only with --fail-on-leak)`,
	Example: `  chaos-runner run --preset quick
  chaos-runner run scenario.yaml --listen 127.0.0.1:8080
  chaos-runner run --preset latency-sim --output-json result.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, cfg, err := runFlags.load(cmd, args)
		if err != nil {
			return &exitError{code: scenario.ExitInvalid, err: err}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runScenario(ctx, cmd.OutOrStdout(), s, cfg)
	},
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "serve status, /metrics and /ws on this address")
	runCmd.Flags().StringVar(&outputJSON, "output-json", "", "write the result as JSON to this file ('-' for stdout)")
	runCmd.Flags().BoolVar(&failOnLeak, "fail-on-leak", false, "exit with 4 when the scenario completed but a fault could not be reverted")
}

// newCatalog はホストに合わせた Injector の一覧を作成する
func newCatalog(cfg scenario.Config, reader hostinfo.Reader) *chaos.Catalog {
	runner := command.NewExec(command.DefaultConfig())
	return chaos.NewCatalog(chaos.CatalogOptions{
		Runner:      runner,
		Host:        platform.Detect(runner, platform.Current()),
		NetworkMode: cfg.NetworkMode,
		Memory:      reader,
		MemoryCap:   cfg.MemoryCap,
		ScratchDir:  cfg.ScratchDir,
	})
}

func runScenario(ctx context.Context, out io.Writer, s *scenario.Scenario, cfg scenario.Config) error {
	bus := events.NewBus()
	defer bus.Close()

	reader := hostinfo.NewReader()
	catalog := newCatalog(cfg, reader)

	engine := scenario.New(cfg)
	engine.SetEventBus(bus)
	engine.SetHostReader(reader)
	engine.SetInjectors(catalog)

	collector := telemetry.New()
	if err := collector.GaugeFunc("active_handles", "Handles currently applied", func() float64 {
		return float64(engine.Snapshot().Active)
	}); err != nil {
		return err
	}
	if err := collector.GaugeFunc("event_bus_dropped", "Events dropped because a subscriber was slow", func() float64 {
		return float64(bus.Dropped())
	}); err != nil {
		return err
	}
	collector.Start(ctx, bus)
	defer collector.Stop()

	serverDone := make(chan error, 1)
	serverCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	if listenAddr != "" {
		apiConfig := api.DefaultConfig()
		apiConfig.Addr = listenAddr
		server := api.NewServer(apiConfig, engine, bus)
		server.SetMetricsHandler(collector.Handler())
		server.SetCatalog(catalog.Descriptors)
		go func() { serverDone <- server.Start(serverCtx) }()
	} else {
		serverDone <- nil
	}
	defer func() {
		stopServer()
		if err := <-serverDone; err != nil {
			logger.Error("", "API server: %v", err)
		}
	}()

	logger.Info("", "scenario '%s': %d phase(s), %v total, network %s",
		s.Name, len(s.Phases), s.TotalDuration(), cfg.NetworkMode)

	result, err := engine.Run(ctx, s)
	if result == nil {
		return err
	}

	fmt.Fprintln(out, result.Report())

	if outputJSON != "" {
		if werr := writeJSON(out, result); werr != nil {
			logger.Error("", "write JSON result: %v", werr)
		}
	}

	if code := resultExitCode(result, failOnLeak); code != scenario.ExitCompleted {
		return &exitError{code: code}
	}
	return nil
}

// resultExitCode は --fail-on-leak を考慮した終了コードを返す
func resultExitCode(result *scenario.Result, failOnLeak bool) int {
	if failOnLeak {
		return result.ExitCodeFailOnLeak()
	}
	return result.ExitCode()
}

func writeJSON(stdout io.Writer, result *scenario.Result) error {
	data, err := result.JSON()
	if err != nil {
		return err
	}
	if outputJSON == "-" {
		_, err = fmt.Fprintln(stdout, string(data))
		return err
	}
	return os.WriteFile(outputJSON, append(data, '\n'), 0o644)
}
