// Package main is the entry point for chaos-runner.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chaos-runner/internal/logger"
)

var version = "dev"

var (
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "chaos-runner",
	Short: "Phased fault injection against the local host",
	Long: `chaos-runner runs a scenario of timed phases, applying faults (network latency,
packet loss, TCP resets, CPU starvation, memory pressure, slow disk, process kill)
to local targets, sampling host metrics and reverting every fault before exit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case verbose:
			logger.Default().SetLevel(logger.LevelDebug)
		case quiet:
			logger.Default().SetLevel(logger.LevelError)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "chaos-runner version %s\n", version)
	},
}

// exitError は終了コードを伴うエラー
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	err := rootCmd.Execute()
	_ = logger.Default().Sync()
	if err == nil {
		return
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
