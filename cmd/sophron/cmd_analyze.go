package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/invariant"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/probe"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/receipt"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/scheduler"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/state"
)

var analyzeFlags struct {
	probes    string
	context   string
	budget    float64
	jsonOut   bool
	summary   bool
	ephemeral bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <receipts.json|receipts.jsonl>...",
	Short: "Analyze receipts and probe results, then schedule the next probes",
	Long: `Analyze parses SOPHRON messages from the receipts, derives signals from
the probe results, validates the audit invariants and selects probes.

Scheduler history is restored from the database before the run and saved
after it, so surges and stats carry across invocations. Each run also
writes one provenance_log row.

Usage:
  sophron analyze receipts.jsonl --probes probes.json --context ctx.json
  sophron analyze a.json b.json --budget 200 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFlags.probes, "probes", "", "Probe results JSON file")
	f.StringVar(&analyzeFlags.context, "context", "", "Schedule context JSON file")
	f.Float64Var(&analyzeFlags.budget, "budget", 0, "Total probe budget (default: probe_budget from config)")
	f.BoolVar(&analyzeFlags.jsonOut, "json", false, "Print the full result as JSON")
	f.BoolVar(&analyzeFlags.summary, "summary", false, "Print the plain-text summary instead of tables")
	f.BoolVar(&analyzeFlags.ephemeral, "ephemeral", false, "Do not read or write the database")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := app.logger

	receipts, err := receipt.LoadFiles(ctx, args...)
	if err != nil {
		return fmt.Errorf("load receipts: %w", err)
	}
	in := orchestrator.Input{Receipts: receipts}
	if analyzeFlags.probes != "" {
		if in.ProbeResults, err = loadProbeResults(analyzeFlags.probes); err != nil {
			return err
		}
	}
	if analyzeFlags.context != "" {
		if in.Context, err = loadContext(analyzeFlags.context); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("budget") {
		b := analyzeFlags.budget
		in.Budget = &b
	}

	cfg := app.cfg.OrchestratorConfig()
	sched := scheduler.New(cfg.Scheduler)
	opts := []orchestrator.Option{orchestrator.WithLogger(log), orchestrator.WithScheduler(sched)}

	var store *state.Store
	if !analyzeFlags.ephemeral {
		store, err = state.NewStore(app.cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()
		restored, err := store.Restore(sched)
		if err != nil {
			return fmt.Errorf("restore scheduler: %w", err)
		}
		log.Debug("scheduler state", zap.Bool("restored", restored), zap.String("db", app.cfg.DatabasePath))
		opts = append(opts, orchestrator.WithProvenanceDB(store.DB()))
	}

	orch := orchestrator.New(cfg, opts...)
	res, runErr := orch.Analyze(ctx, in)
	if res == nil {
		return runErr
	}

	if store != nil {
		rec, err := store.SaveSnapshot(orch.ExportState(), "analyze "+res.RunID)
		if err != nil {
			return fmt.Errorf("save scheduler: %w", err)
		}
		log.Debug("scheduler saved", zap.String("version", rec.VersionID))
	}

	out := cmd.OutOrStdout()
	switch {
	case analyzeFlags.jsonOut:
		if err := printJSON(out, res); err != nil {
			return err
		}
	case analyzeFlags.summary:
		fmt.Fprint(out, res.Summary())
	default:
		printResult(out, res)
	}

	var ve *invariant.ViolationError
	if errors.As(runErr, &ve) {
		return fmt.Errorf("audit failed: %w", runErr)
	}
	return runErr
}

func loadProbeResults(path string) (*probe.Results, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open probe results: %w", err)
	}
	defer f.Close()
	return probe.Decode(f)
}

func loadContext(path string) (scheduler.Context, error) {
	var c scheduler.Context
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read context: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse context %s: %w", path, err)
	}
	return c, nil
}
