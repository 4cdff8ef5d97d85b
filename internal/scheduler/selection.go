package scheduler

import (
	"sort"
	"strings"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/probe"
)

// #region catalog
// CatalogEntry declares a probe's cost, priority and the triggers that make it
// eligible. Baseline probes have no triggers and are always eligible.
type CatalogEntry struct {
	Name     probe.Name
	Priority int
	Cost     float64
	Triggers []TriggerType
}

// Baselines are funded before any triggered probe.
var Baselines = []CatalogEntry{
	{Name: probe.CohortAnalysis, Priority: 100, Cost: 10},
	{Name: probe.MetricTracking, Priority: 100, Cost: 5},
}

// Catalog lists the trigger-activated probes.
var Catalog = []CatalogEntry{
	{Name: probe.MorseProbe, Priority: 90, Cost: 15, Triggers: []TriggerType{TriggerModelVersionChange, TriggerPreviousViolations, TriggerHighRiskScore}},
	{Name: probe.ConsistencyTrap, Priority: 85, Cost: 12, Triggers: []TriggerType{TriggerModelVersionChange, TriggerPreviousViolations, TriggerHighRiskScore}},
	{Name: probe.ToolDenial, Priority: 80, Cost: 10, Triggers: []TriggerType{TriggerNewToolPermissions, TriggerEnvironmentChange, TriggerHighRiskScore}},
	{Name: probe.HaltRequest, Priority: 75, Cost: 8, Triggers: []TriggerType{TriggerNewToolPermissions, TriggerHighRiskScore, TriggerModelVersionChange}},
	{Name: probe.EmbeddingDrift, Priority: 70, Cost: 10, Triggers: []TriggerType{TriggerCohortDrift, TriggerModelVersionChange, TriggerEnvironmentChange}},
	{Name: probe.RewardAnalysis, Priority: 65, Cost: 12, Triggers: []TriggerType{TriggerMetricDelta, TriggerPreviousViolations}},
	{Name: probe.ConflictAudit, Priority: 60, Cost: 8, Triggers: []TriggerType{TriggerPreviousViolations, TriggerHighRiskScore, TriggerEnvironmentChange}},
}

// ReasonBaseline marks baseline probes in a Selection.
const ReasonBaseline = "baseline"

// #endregion catalog

// #region select
// SelectProbes spends totalBudget × decision.ProbeRate on probes: baselines
// first, each one that fits, then eligible catalog probes by descending
// priority. Catalog selection stops at the first eligible probe that no longer
// fits.
func SelectProbes(totalBudget float64, decision Decision) Selection {
	budget := totalBudget * decision.ProbeRate
	if budget < 0 {
		budget = 0
	}
	sel := Selection{Probes: []SelectedProbe{}, Budget: budget, Remaining: budget}

	for _, entry := range Baselines {
		if entry.Cost > sel.Remaining {
			continue
		}
		sel.fund(SelectedProbe{Name: entry.Name, Cost: entry.Cost, Reason: ReasonBaseline})
	}

	for _, entry := range byPriority(Catalog) {
		active := activeTriggers(entry, decision)
		if len(active) == 0 {
			continue
		}
		if entry.Cost > sel.Remaining {
			break
		}
		sel.fund(SelectedProbe{
			Name:     entry.Name,
			Cost:     entry.Cost,
			Reason:   "triggered by " + joinTriggers(active),
			Triggers: active,
		})
	}
	return finish(sel)
}

func (s *Selection) fund(p SelectedProbe) {
	s.Probes = append(s.Probes, p)
	s.TotalCost += p.Cost
	s.Remaining -= p.Cost
}

func finish(s Selection) Selection {
	if s.Budget > 0 {
		s.Utilization = 100 * s.TotalCost / s.Budget
	}
	return s
}

// Names returns the selected probe names in funding order.
func (s Selection) Names() []probe.Name {
	out := make([]probe.Name, len(s.Probes))
	for i, p := range s.Probes {
		out[i] = p.Name
	}
	return out
}

func byPriority(entries []CatalogEntry) []CatalogEntry {
	out := append([]CatalogEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func activeTriggers(entry CatalogEntry, d Decision) []TriggerType {
	var out []TriggerType
	for _, t := range entry.Triggers {
		if d.Active(t) {
			out = append(out, t)
		}
	}
	return out
}

func joinTriggers(ts []TriggerType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// #endregion select
