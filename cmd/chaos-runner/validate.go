package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chaos-runner/internal/errs"
	"chaos-runner/internal/scenario"
)

var validateFlags scenarioFlags

var validateCmd = &cobra.Command{
	Use:   "validate [scenario.yaml]",
	Short: "Check a scenario without applying any fault",
	Long:  "validate prints every violation at once and exits with status 2 if there is any.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		s, cfg, err := validateFlags.load(cmd, args)
		violations := errs.Flatten(err)
		if err == nil {
			violations = append(violations, scenario.ValidateOnly(s, cfg)...)
		}

		if len(violations) > 0 {
			fmt.Fprintf(out, "%d violation(s):\n", len(violations))
			for _, v := range violations {
				fmt.Fprintf(out, "  - %v\n", v)
			}
			return &exitError{code: scenario.ExitInvalid}
		}

		fmt.Fprintf(out, "scenario '%s' is valid: %d phase(s), %d target(s), %v total\n",
			s.Name, len(s.Phases), len(s.Targets), s.TotalDuration())
		return nil
	},
}

func init() {
	validateFlags.register(validateCmd)
}
