package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-pof/internal/models"
)

func newSensitivityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensitivity [model-file]",
		Short: "Sweep parameters and print cost sensitivity",
		Long: `Run one ensemble per parameter value and summarise the cost of each
task. Several --sweep flags form a chain over every combination; the
last one varies fastest.

Examples:
  pofctl sensitivity pole.yaml --sweep component/fm/termites/task/inspection/t_interval=5,10,20
  pofctl sensitivity pole.yaml \
    --sweep component/fm/termites/task/inspection/cost=50,100 \
    --sweep component/fm/termites/task/inspection/t_interval=5,10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			modelName, _ := cmd.Flags().GetString("model")
			iterations, _ := cmd.Flags().GetInt("iterations")
			tEnd, _ := cmd.Flags().GetInt("t-end")
			rawSweeps, _ := cmd.Flags().GetStringArray("sweep")
			sets, _ := cmd.Flags().GetStringArray("set")
			dbPath, _ := cmd.Flags().GetString("db")

			ref, err := modelRef(args, modelName)
			if err != nil {
				return err
			}
			sweeps, err := parseSweeps(rawSweeps)
			if err != nil {
				return err
			}
			updates, err := parseUpdates(sets)
			if err != nil {
				return err
			}

			b, err := openBackend(cmd, dbPath)
			if err != nil {
				return err
			}
			defer b.Close()

			req := models.SensitivityRequest{
				ModelRef:   ref,
				Sweeps:     sweeps,
				Iterations: iterations,
				TEnd:       tEnd,
				Updates:    updates,
				Wait:       true,
			}
			if cmd.Flags().Changed("seed") {
				seed, _ := cmd.Flags().GetUint64("seed")
				req.Seed = &seed
			}

			info, err := b.Sensitivity(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("sensitivity: %w", err)
			}
			return printRun(cmd, b, info, []models.ReportRequest{{Kind: models.ReportSensitivity}}, jsonOut)
		},
	}

	cmd.Flags().String("model", "", "Name of a model preloaded by the server")
	cmd.Flags().Int("iterations", 0, "Iterations per point (0 uses the configured default)")
	cmd.Flags().Int("t-end", 0, "Simulation horizon in model units (0 uses the configured default)")
	cmd.Flags().Uint64("seed", 0, "Random seed")
	cmd.Flags().StringArray("sweep", nil, "Sweep path=v1,v2,... (repeatable)")
	cmd.Flags().StringArray("set", nil, "Parameter update path=value applied before the sweep (repeatable)")
	cmd.Flags().String("db", "", "Export rows of local runs to this sqlite database")
	_ = cmd.MarkFlagRequired("sweep")
	return cmd
}

// parseSweeps reads path=v1,v2 pairs.
func parseSweeps(raw []string) ([]models.SweepSpec, error) {
	out := make([]models.SweepSpec, 0, len(raw))
	for _, s := range raw {
		path, list, ok := strings.Cut(s, "=")
		if !ok || path == "" || list == "" {
			return nil, fmt.Errorf("invalid --sweep %q: want path=v1,v2", s)
		}
		sweep := models.SweepSpec{Path: strings.TrimSpace(path)}
		for _, v := range strings.Split(list, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid --sweep %q: %w", s, err)
			}
			sweep.Values = append(sweep.Values, f)
		}
		out = append(out, sweep)
	}
	return out, nil
}
