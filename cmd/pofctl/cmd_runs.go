package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect or cancel runs on a pof-engine server",
	}
	cmd.AddCommand(newRunCmd("progress", "Show the state of a run"), newRunCmd("cancel", "Cancel a running run"))
	return cmd
}

func newRunCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if addr, _ := cmd.Flags().GetString("addr"); addr == "" {
				return fmt.Errorf("runs %s needs --addr; local runs end with the command", name)
			}
			b, err := openBackend(cmd, "")
			if err != nil {
				return err
			}
			defer b.Close()

			call := b.Progress
			if name == "cancel" {
				call = b.Cancel
			}
			info, err := call(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			return writeRunInfo(cmd.OutOrStdout(), info)
		},
	}
}
