package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-pof/internal/engine"
	"github.com/miradorstack/mirador-pof/internal/loader"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <model-file>...",
		Short: "Check model files without running them",
		Long: `Decode, validate and link each model file. With --use-defaults invalid
entities are replaced by defaults and reported as warnings instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			useDefaults, _ := cmd.Flags().GetBool("use-defaults")
			level, _ := cmd.Flags().GetString("log-level")

			logger := utils.NewLoggerTo(cmd.ErrOrStderr(), level, false)
			l := loader.New(loader.Options{UseDefaults: useDefaults, Logger: logger, Engine: engine.Options{Logger: logger}})

			type result struct {
				File         string `json:"file"`
				Component    string `json:"component,omitempty"`
				FailureModes int    `json:"failure_modes"`
				Error        string `json:"error,omitempty"`
			}
			var results []result
			failed := 0
			for _, path := range args {
				res := result{File: path}
				c, err := l.LoadFile(path)
				if err != nil {
					res.Error = err.Error()
					failed++
				} else {
					res.Component = c.Name()
					res.FailureModes = len(c.FailureModes())
				}
				results = append(results, res)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := writeJSON(out, results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Error != "" {
						fmt.Fprintf(out, "FAIL %s: %s\n", r.File, r.Error)
						continue
					}
					fmt.Fprintf(out, "ok   %s: %s with %d failure modes\n", r.File, r.Component, r.FailureModes)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d models invalid", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().Bool("use-defaults", false, "Replace invalid entities with defaults")
	return cmd
}
