package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/logging"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/scheduler"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/state"
)

var inspectFlags struct {
	last    int
	jsonOut bool
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect stored scheduler snapshots and provenance",
}

var inspectSnapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored scheduler snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runInspectSnapshots,
}

var inspectDecisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "List recent provenance_log rows, newest first",
	Args:  cobra.NoArgs,
	RunE:  runInspectDecisions,
}

var inspectStatsCmd = &cobra.Command{
	Use:   "stats [version-id]",
	Short: "Show scheduler statistics of the active or a given snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInspectStats,
}

var inspectRollbackCmd = &cobra.Command{
	Use:   "rollback <version-id>",
	Short: "Make an earlier snapshot the active one",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectRollback,
}

func init() {
	pf := inspectCmd.PersistentFlags()
	pf.IntVar(&inspectFlags.last, "last", 20, "show N most recent rows")
	pf.BoolVar(&inspectFlags.jsonOut, "json", false, "output as JSON instead of a table")

	inspectCmd.AddCommand(inspectSnapshotsCmd, inspectDecisionsCmd, inspectStatsCmd, inspectRollbackCmd)
}

func openStore() (*state.Store, error) {
	return state.NewStore(app.cfg.DatabasePath)
}

// #region snapshots

type snapshotRow struct {
	VersionID   string  `json:"version_id"`
	ParentID    string  `json:"parent_id,omitempty"`
	Decisions   int     `json:"decisions"`
	CurrentRate float64 `json:"current_rate"`
	Note        string  `json:"note,omitempty"`
	CreatedAt   string  `json:"created_at"`
	Active      bool    `json:"active"`
}

func runInspectSnapshots(cmd *cobra.Command, _ []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListSnapshots(inspectFlags.last)
	if err != nil {
		return err
	}
	activeID := ""
	if active, err := store.Active(); err == nil {
		activeID = active.VersionID
	} else if !errors.Is(err, state.ErrNoActive) {
		return err
	}

	rows := make([]snapshotRow, len(records))
	for i, r := range records {
		rows[i] = snapshotRow{
			VersionID:   r.VersionID,
			ParentID:    r.ParentID,
			Decisions:   r.Decisions(),
			CurrentRate: r.Snapshot.CurrentRate,
			Note:        r.Note,
			CreatedAt:   r.CreatedAt.Format("2006-01-02T15:04:05Z"),
			Active:      r.VersionID == activeID,
		}
	}

	out := cmd.OutOrStdout()
	if inspectFlags.jsonOut {
		return printJSON(out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no snapshots found")
		return nil
	}
	t := newTable(out, "Scheduler snapshots")
	t.AppendHeader(table.Row{"", "Version", "Parent", "Decisions", "Rate", "Note", "Created"})
	for _, r := range rows {
		mark := ""
		if r.Active {
			mark = "*"
		}
		t.AppendRow(table.Row{mark, shortID(r.VersionID), shortID(r.ParentID), r.Decisions,
			fmt.Sprintf("%.2f", r.CurrentRate), r.Note, r.CreatedAt})
	}
	t.SetColumnConfigs(rightAlign(4, 5))
	t.Render()
	return nil
}

// #endregion snapshots

// #region decisions

func runInspectDecisions(cmd *cobra.Command, _ []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := logging.RecentDecisions(store.DB(), inspectFlags.last)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if inspectFlags.jsonOut {
		return printJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no decisions found")
		return nil
	}
	t := newTable(out, "Provenance log")
	t.AppendHeader(table.Row{"Run", "Decision", "Risk", "Triggers", "Evidence", "Created"})
	for _, e := range entries {
		refs := 0
		if e.EvidenceRefs != "" {
			refs = len(strings.Split(e.EvidenceRefs, ","))
		}
		t.AppendRow(table.Row{shortID(e.RunID), e.Decision, e.Reason, e.TriggerType, refs,
			e.CreatedAt.Format("2006-01-02T15:04:05Z")})
	}
	t.SetColumnConfigs(rightAlign(5))
	t.Render()
	return nil
}

// #endregion decisions

// #region stats

func runInspectStats(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var rec state.SnapshotRecord
	if len(args) == 1 {
		rec, err = store.GetSnapshot(args[0])
	} else {
		rec, err = store.Active()
	}
	if err != nil {
		return err
	}

	sched := scheduler.New(rec.Snapshot.Config)
	if err := sched.ImportState(rec.Snapshot); err != nil {
		return err
	}
	stats := sched.Stats()

	out := cmd.OutOrStdout()
	if inspectFlags.jsonOut {
		return printJSON(out, stats)
	}
	t := newTable(out, "Scheduler stats "+shortID(rec.VersionID))
	t.AppendRows([]table.Row{
		{"executions", stats.TotalExecutions},
		{"surges", stats.SurgeCount},
		{"surge rate", fmt.Sprintf("%.3f", stats.SurgeRate)},
		{"average rate", fmt.Sprintf("%.3f", stats.AverageRate)},
		{"current rate", fmt.Sprintf("%.3f", stats.CurrentRate)},
	})
	t.SetColumnConfigs(rightAlign(2))
	t.Render()

	if len(stats.TriggerFrequency) > 0 {
		types := make([]string, 0, len(stats.TriggerFrequency))
		for tt := range stats.TriggerFrequency {
			types = append(types, string(tt))
		}
		sort.Strings(types)
		ft := newTable(out, "Trigger frequency")
		ft.AppendHeader(table.Row{"Trigger", "Count"})
		for _, tt := range types {
			ft.AppendRow(table.Row{tt, stats.TriggerFrequency[scheduler.TriggerType(tt)]})
		}
		ft.SetColumnConfigs(rightAlign(2))
		ft.Render()
	}
	return nil
}

// #endregion stats

// #region rollback

func runInspectRollback(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Rollback(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "active snapshot is now %s\n", args[0])
	return nil
}

// #endregion rollback
