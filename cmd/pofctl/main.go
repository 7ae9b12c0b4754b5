package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pofctl",
		Short: "Probability of failure simulations for asset models",
		Long: `pofctl runs Monte Carlo reliability simulations of component models
and prints probability of failure, cost and summary reports.

Models run in-process by default. With --addr the commands talk to a
running pof-engine over gRPC instead.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("addr", "", "Address of a pof-engine server (empty runs locally)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level for local runs")

	rootCmd.AddCommand(
		newVersionCmd(),
		newValidateCmd(),
		newSimulateCmd(),
		newSensitivityCmd(),
		newRunsCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pofctl version %s\n", version)
			return nil
		},
	}
}
