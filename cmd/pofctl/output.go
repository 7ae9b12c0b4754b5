package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-pof/internal/models"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRun writes the run state followed by each requested report.
func printRun(cmd *cobra.Command, b backend, info models.RunInfo, reqs []models.ReportRequest, jsonOut bool) error {
	out := cmd.OutOrStdout()
	var reports []*models.Report
	if info.Completed > 0 || info.Kind == models.RunSensitivity {
		for _, req := range reqs {
			req.RunID = info.ID
			report, err := b.Report(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("report %s: %w", req.Kind, err)
			}
			reports = append(reports, report)
		}
	}

	if jsonOut {
		return writeJSON(out, map[string]any{"run": info, "reports": reports})
	}
	if err := writeRunInfo(out, info); err != nil {
		return err
	}
	for _, r := range reports {
		fmt.Fprintf(out, "\n# %s\n", r.Kind)
		if err := writeTable(out, r.Rows); err != nil {
			return err
		}
	}
	return nil
}

func writeRunInfo(w io.Writer, info models.RunInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", info.ID)
	fmt.Fprintf(tw, "component\t%s\n", info.Component)
	fmt.Fprintf(tw, "state\t%s\n", info.State)
	fmt.Fprintf(tw, "progress\t%.1f%%\n", info.Progress*100)
	fmt.Fprintf(tw, "iterations\t%d/%d\n", info.Completed, info.Iterations)
	if info.Life > 0 {
		fmt.Fprintf(tw, "expected life\t%.2f\n", info.Life)
	}
	outcomes := make([]string, 0, len(info.Outcomes))
	for k := range info.Outcomes {
		outcomes = append(outcomes, k)
	}
	sort.Strings(outcomes)
	for _, k := range outcomes {
		fmt.Fprintf(tw, "  %s\t%d\n", k, info.Outcomes[k])
	}
	if info.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", info.Error)
	}
	return tw.Flush()
}

// writeTable renders report rows as columns in JSON field order of the
// first row. Nested values are printed as JSON.
func writeTable(w io.Writer, rows any) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	var records []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("report rows: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "(no rows)")
		return nil
	}
	cols := columns(records)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	for _, rec := range records {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = strings.Trim(string(rec[c]), `"`)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// columns lists every key in the records, sorted so identifying fields
// come first.
func columns(records []map[string]json.RawMessage) []string {
	seen := map[string]bool{}
	var cols []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	rank := func(c string) int {
		switch c {
		case "source", "indicator", "variable", "year", "context":
			return 0
		case "failure_mode", "value":
			return 1
		case "task", "active":
			return 2
		case "time", "unit":
			return 3
		}
		return 4
	}
	sort.Slice(cols, func(i, j int) bool {
		ri, rj := rank(cols[i]), rank(cols[j])
		if ri != rj {
			return ri < rj
		}
		return cols[i] < cols[j]
	})
	return cols
}

// readProfile loads an age profile from YAML or JSON.
func readProfile(path string) (*models.AgeProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p models.AgeProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if len(p.Buckets) == 0 {
		return nil, fmt.Errorf("profile %s has no buckets", path)
	}
	return &p, nil
}
