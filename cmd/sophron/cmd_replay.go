package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/replay"
)

var replayFlags struct {
	jsonOut bool
	verbose bool
}

var replayCmd = &cobra.Command{
	Use:   "replay <fixture.json>",
	Short: "Replay recorded runs and compare with their expected outcomes",
	Long: `Replay feeds every run of a fixture through one orchestrator, so scheduler
history accumulates the way it does in production, and reports runs whose
risk category, validity, surge or probe selection differ from the
recorded expectation. Exits non-zero on any mismatch.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.BoolVar(&replayFlags.jsonOut, "json", false, "Print per-run results as JSON")
	f.BoolVarP(&replayFlags.verbose, "verbose", "v", false, "Print the summary of every run")
}

type replayRow struct {
	RunID      string   `json:"run_id"`
	Category   string   `json:"risk_category"`
	Valid      bool     `json:"valid"`
	Surge      bool     `json:"surge"`
	Probes     string   `json:"probes"`
	Mismatches []string `json:"mismatches,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := replay.LoadFixture(args[0])
	if err != nil {
		return err
	}
	results, err := replay.Replay(cmd.Context(), f, orchestrator.WithLogger(app.logger))
	if err != nil {
		return err
	}
	sum := replay.Summarize(results)
	out := cmd.OutOrStdout()

	if replayFlags.jsonOut {
		rows := make([]replayRow, len(results))
		for i, r := range results {
			rows[i] = replayRow{
				RunID:      r.RunID,
				Category:   r.Category,
				Valid:      r.Valid,
				Surge:      r.Surge,
				Probes:     probeNames(r.Probes),
				Mismatches: r.Mismatches,
			}
		}
		if err := printJSON(out, rows); err != nil {
			return err
		}
	} else {
		title := f.Description
		if title == "" {
			title = args[0]
		}
		t := newTable(out, title)
		t.AppendHeader(table.Row{"Run", "Risk", "Valid", "Surge", "Probes", "Result"})
		for _, r := range results {
			status := "ok"
			if !r.Passed() {
				status = strings.Join(r.Mismatches, "; ")
			}
			t.AppendRow(table.Row{r.RunID, r.Category, r.Valid, r.Surge, probeNames(r.Probes), status})
		}
		t.AppendFooter(table.Row{
			fmt.Sprintf("%d runs", sum.TotalRuns),
			"",
			fmt.Sprintf("%d invalid", sum.Invalid),
			fmt.Sprintf("%d surges", sum.Surges),
			"",
			fmt.Sprintf("%d passed, %d mismatched", sum.Passed, sum.Mismatched),
		})
		t.Render()

		if replayFlags.verbose {
			for _, r := range results {
				fmt.Fprintf(out, "\n%s", r.Analysis.Summary())
			}
		}
	}

	if sum.Mismatched > 0 {
		return fmt.Errorf("replay: %d of %d runs mismatched", sum.Mismatched, sum.TotalRuns)
	}
	return nil
}
