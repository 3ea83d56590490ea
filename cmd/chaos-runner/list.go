package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chaos-runner/internal/hostinfo"
	"chaos-runner/internal/platform"
	"chaos-runner/internal/scenario"
)

var listNetworkMode string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List presets and the injectors available on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := scenario.DefaultConfig()
		mode, err := platform.ParseNetworkMode(listNetworkMode)
		if err != nil {
			return err
		}
		cfg.NetworkMode = mode

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

		fmt.Fprintln(w, "PRESET\tDURATION\tDESCRIPTION")
		for _, name := range scenario.ListPresets() {
			p, _ := scenario.GetPreset(name)
			fmt.Fprintf(w, "%s\t%v\t%s\n", p.Name, p.Build().TotalDuration(), p.Description)
		}
		fmt.Fprintln(w)

		catalog := newCatalog(cfg, hostinfo.NewReader())
		fmt.Fprintln(w, "INJECTOR\tVARIANT\tPRIVILEGED\tPLATFORMS\tDESCRIPTION")
		for _, d := range catalog.Descriptors() {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
				d.Name, d.Variant, d.RequiresPrivilege, strings.Join(d.Platforms, ","), d.Description)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&listNetworkMode, "network-mode", "auto", "network fault variant to report: auto, kernel or simulated")
}
