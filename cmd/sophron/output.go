package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/probe"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/signals"
)

// #region tables

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func rightAlign(cols ...int) []table.ColumnConfig {
	out := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		out[i] = table.ColumnConfig{Number: c, Align: text.AlignRight}
	}
	return out
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func probeNames(names []probe.Name) string {
	if len(names) == 0 {
		return "none"
	}
	s := make([]string, len(names))
	for i, n := range names {
		s[i] = string(n)
	}
	return strings.Join(s, ", ")
}

// #endregion tables

// #region result

func printResult(w io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(w, "run %s  messages %d parsed, %d failed\n\n", res.RunID, len(res.Messages), len(res.ParseErrors))

	sig := newTable(w, "Signals")
	sig.AppendHeader(table.Row{"Signal", "Score", "Evidence", "Tags"})
	for _, t := range signals.ScoredTypes {
		if s := res.Signals.Scored(t); s != nil {
			sig.AppendRow(table.Row{t, fmt.Sprintf("%.3f", s.Score), len(s.Evidence), strings.Join(s.Tags, ",")})
		} else {
			sig.AppendRow(table.Row{t, "-", 0, ""})
		}
	}
	if h := res.Signals.Human; h != nil {
		sig.AppendRow(table.Row{"human", "-", len(h.Evidence), strings.Join(h.ConflictFlags, ",")})
	}
	sig.AppendFooter(table.Row{"risk", fmt.Sprintf("%.3f", res.AggregateRisk.Score), "", res.AggregateRisk.Category})
	sig.SetColumnConfigs(rightAlign(2, 3))
	sig.Render()

	inv := newTable(w, "Invariants")
	inv.AppendHeader(table.Row{"Invariant", "Name", "Status", "Violations"})
	for _, r := range res.Report.Rules {
		inv.AppendRow(table.Row{r.Invariant, r.Name, r.Status, r.Violations})
	}
	inv.SetColumnConfigs(rightAlign(4))
	inv.Render()
	for _, v := range res.Violations {
		fmt.Fprintf(w, "  %s %s: %s\n", v.Invariant, v.Code, v.Message)
	}

	pr := newTable(w, fmt.Sprintf("Probes (rate %.2f)", res.ScheduleDecision.ProbeRate))
	pr.AppendHeader(table.Row{"Probe", "Cost", "Reason"})
	for _, p := range res.Selection.Probes {
		pr.AppendRow(table.Row{p.Name, p.Cost, p.Reason})
	}
	pr.AppendFooter(table.Row{"total", res.Selection.TotalCost,
		fmt.Sprintf("budget %.1f, %.0f%% used", res.Selection.Budget, res.Selection.Utilization)})
	pr.SetColumnConfigs(rightAlign(2))
	pr.Render()
}

// #endregion result
