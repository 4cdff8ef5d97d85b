package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/logging"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/signals"
)

// #region summary

// Summary renders the result as plain text, one fact per line.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s\n", r.RunID)
	fmt.Fprintf(&b, "messages: %d parsed, %d failed\n", len(r.Messages), len(r.ParseErrors))
	for _, rc := range r.Redundancy {
		status := "ok"
		if !rc.Satisfied {
			status = "insufficient"
		}
		fmt.Fprintf(&b, "redundancy %s: %d/%d sources %s\n", rc.MessageID, rc.Sources, rc.Required, status)
	}

	for _, t := range signals.ScoredTypes {
		if s := r.Signals.Scored(t); s != nil {
			fmt.Fprintf(&b, "signal %s: %.3f (%d evidence)\n", t, s.Score, len(s.Evidence))
		} else {
			fmt.Fprintf(&b, "signal %s: not derived\n", t)
		}
	}
	if h := r.Signals.Human; h != nil {
		fmt.Fprintf(&b, "signal human: %d conflicts\n", len(h.ConflictFlags))
	} else {
		b.WriteString("signal human: not derived\n")
	}
	fmt.Fprintf(&b, "aggregate risk: %.3f (%s)\n", r.AggregateRisk.Score, r.AggregateRisk.Category)

	for _, rule := range r.Report.Rules {
		fmt.Fprintf(&b, "%s %s: %s", rule.Invariant, rule.Name, rule.Status)
		if rule.Violations > 0 {
			fmt.Fprintf(&b, " (%d)", rule.Violations)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "probe rate: %.2f", r.ScheduleDecision.ProbeRate)
	if r.ScheduleDecision.SurgeActivated {
		b.WriteString(" surge")
	}
	b.WriteString("\n")
	if types := r.triggerTypes(); len(types) > 0 {
		fmt.Fprintf(&b, "triggers: %s\n", strings.Join(types, ", "))
	}

	names := make([]string, len(r.Selection.Probes))
	for i, p := range r.Selection.Probes {
		names[i] = string(p.Name)
	}
	if len(names) == 0 {
		names = []string{"none"}
	}
	fmt.Fprintf(&b, "probes: %s (cost %.1f of %.1f, %.0f%%)\n",
		strings.Join(names, ", "), r.Selection.TotalCost, r.Selection.Budget, r.Selection.Utilization)
	return b.String()
}

func (r *Result) triggerTypes() []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range r.ScheduleDecision.Triggers {
		if !seen[string(t.Type)] {
			seen[string(t.Type)] = true
			out = append(out, string(t.Type))
		}
	}
	return out
}

// #endregion

// #region provenance

// Provenance builds the provenance_log row for this run.
func (r *Result) Provenance() logging.ProvenanceEntry {
	decision := logging.DecisionPass
	if !r.Validation.Valid {
		decision = logging.DecisionFail
	}
	trigger := logging.TriggerNone
	if types := r.triggerTypes(); len(types) > 0 {
		trigger = strings.Join(types, ",")
	}
	signalsJSON, err := json.Marshal(r.Signals)
	if err != nil {
		signalsJSON = nil
	}
	return logging.ProvenanceEntry{
		RunID:        r.RunID,
		ContextHash:  r.ContextHash,
		TriggerType:  trigger,
		SignalsJSON:  string(signalsJSON),
		EvidenceRefs: strings.Join(r.Signals.EvidenceRefs(), ","),
		Decision:     decision,
		Reason:       r.AggregateRisk.Category,
		CreatedAt:    r.CreatedAt,
	}
}

// #endregion
