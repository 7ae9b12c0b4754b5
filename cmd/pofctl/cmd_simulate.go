package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-pof/internal/models"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate [model-file]",
		Short: "Run an ensemble and print reports",
		Long: `Run a Monte Carlo ensemble of a component model and print reports.

The model is read from a YAML or JSON file, or named with --model when
talking to a server that preloads models.

Examples:
  pofctl simulate pole.yaml --iterations 500 --t-end 100
  pofctl simulate pole.yaml --set component/fm/termites/task/inspection/t_interval=10
  pofctl simulate pole.yaml --report pof,risk_cost --db runs.db
  pofctl simulate --addr localhost:50061 --model wood_pole --report summary --population 12000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			modelName, _ := cmd.Flags().GetString("model")
			iterations, _ := cmd.Flags().GetInt("iterations")
			tEnd, _ := cmd.Flags().GetInt("t-end")
			sets, _ := cmd.Flags().GetStringArray("set")
			reports, _ := cmd.Flags().GetStringSlice("report")
			dbPath, _ := cmd.Flags().GetString("db")

			ref, err := modelRef(args, modelName)
			if err != nil {
				return err
			}
			updates, err := parseUpdates(sets)
			if err != nil {
				return err
			}
			reqs, err := reportRequests(cmd, reports)
			if err != nil {
				return err
			}

			b, err := openBackend(cmd, dbPath)
			if err != nil {
				return err
			}
			defer b.Close()

			req := models.SimulateRequest{
				ModelRef:   ref,
				Iterations: iterations,
				TEnd:       tEnd,
				Updates:    updates,
				Wait:       true,
			}
			if cmd.Flags().Changed("seed") {
				seed, _ := cmd.Flags().GetUint64("seed")
				req.Seed = &seed
			}

			ctx := cmd.Context()
			info, err := b.Simulate(ctx, req)
			if err != nil {
				return fmt.Errorf("simulate: %w", err)
			}
			return printRun(cmd, b, info, reqs, jsonOut)
		},
	}

	cmd.Flags().String("model", "", "Name of a model preloaded by the server")
	cmd.Flags().Int("iterations", 0, "Iterations (0 uses the configured default)")
	cmd.Flags().Int("t-end", 0, "Simulation horizon in model units (0 uses the configured default)")
	cmd.Flags().Uint64("seed", 0, "Random seed")
	cmd.Flags().StringArray("set", nil, "Parameter update path=value (repeatable)")
	cmd.Flags().StringSlice("report", []string{string(models.ReportSummary)}, "Reports to print: pof, untreated, risk_cost, condition, summary, forecast")
	cmd.Flags().Float64("confidence", 0, "Confidence level for bands and summaries")
	cmd.Flags().Float64("population", 0, "Cohort size for annual summary estimates")
	cmd.Flags().String("profile", "", "Age profile file for the forecast report")
	cmd.Flags().Int("years", 10, "Forecast horizon in years")
	cmd.Flags().String("db", "", "Export reports of local runs to this sqlite database")
	return cmd
}

func modelRef(args []string, name string) (models.ModelRef, error) {
	switch {
	case len(args) == 1 && name != "":
		return models.ModelRef{}, fmt.Errorf("give a model file or --model, not both")
	case len(args) == 1:
		spec, err := readModel(args[0])
		if err != nil {
			return models.ModelRef{}, err
		}
		return models.ModelRef{Spec: spec}, nil
	case name != "":
		return models.ModelRef{Model: name}, nil
	}
	return models.ModelRef{}, fmt.Errorf("a model file or --model is required")
}

// parseUpdates reads path=value pairs.
func parseUpdates(sets []string) ([]models.Update, error) {
	out := make([]models.Update, 0, len(sets))
	for _, s := range sets {
		path, raw, ok := strings.Cut(s, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid --set %q: want path=value", s)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --set %q: %w", s, err)
		}
		out = append(out, models.Update{Path: strings.TrimSpace(path), Value: v})
	}
	return out, nil
}

func reportRequests(cmd *cobra.Command, kinds []string) ([]models.ReportRequest, error) {
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	population, _ := cmd.Flags().GetFloat64("population")
	profilePath, _ := cmd.Flags().GetString("profile")
	years, _ := cmd.Flags().GetInt("years")

	out := make([]models.ReportRequest, 0, len(kinds))
	for _, k := range kinds {
		req := models.ReportRequest{Kind: models.ReportKind(strings.TrimSpace(k)), Confidence: confidence}
		switch req.Kind {
		case models.ReportPOF, models.ReportUntreated, models.ReportRiskCost, models.ReportCondition:
		case models.ReportSummary:
			if population > 0 {
				req.Cohort = &models.Cohort{Population: population}
			}
		case models.ReportForecast:
			if profilePath == "" {
				return nil, fmt.Errorf("the forecast report needs --profile")
			}
			profile, err := readProfile(profilePath)
			if err != nil {
				return nil, err
			}
			req.Profile = profile
			req.Years = years
		default:
			return nil, fmt.Errorf("unknown report %q", k)
		}
		out = append(out, req)
	}
	return out, nil
}
