package replay

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/probe"
)

// #region types
// ReplayResult captures the outcome of replaying one recorded run.
type ReplayResult struct {
	RunID      string
	Category   string
	Valid      bool
	Surge      bool
	Probes     []probe.Name
	Mismatches []string

	// Analysis is the full orchestrator output for the run.
	Analysis *orchestrator.Result
}

// Passed reports whether every expected field matched.
func (r ReplayResult) Passed() bool {
	return len(r.Mismatches) == 0
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalRuns  int
	Passed     int
	Mismatched int
	Surges     int
	Invalid    int
}

// #endregion types

// #region replay
// Replay feeds every run of f through one orchestrator, so scheduler history
// accumulates across runs the way it does in production. Invariant violations
// are outcomes to compare, not errors; only a pipeline failure aborts.
func Replay(ctx context.Context, f *Fixture, opts ...orchestrator.Option) ([]ReplayResult, error) {
	cfg, err := f.Config.ToConfig()
	if err != nil {
		return nil, fmt.Errorf("fixture config: %w", err)
	}
	cfg.Invariant.FailOnViolation = false
	orch := orchestrator.New(cfg, opts...)

	results := make([]ReplayResult, 0, len(f.Runs))
	for _, run := range f.Runs {
		res, err := orch.Analyze(ctx, run.ToInput())
		if err != nil {
			return results, fmt.Errorf("run %s: %w", run.RunID, err)
		}
		rr := ReplayResult{
			RunID:    run.RunID,
			Category: res.AggregateRisk.Category,
			Valid:    res.Validation.Valid,
			Surge:    res.ScheduleDecision.SurgeActivated,
			Probes:   res.Selection.Names(),
			Analysis: res,
		}
		rr.Mismatches = compare(run.Expected, rr)
		results = append(results, rr)
	}
	return results, nil
}

func compare(exp FixtureExpected, got ReplayResult) []string {
	var out []string
	if exp.RiskCategory != "" && exp.RiskCategory != got.Category {
		out = append(out, fmt.Sprintf("risk_category: expected %s, got %s", exp.RiskCategory, got.Category))
	}
	if exp.Valid != nil && *exp.Valid != got.Valid {
		out = append(out, fmt.Sprintf("valid: expected %v, got %v", *exp.Valid, got.Valid))
	}
	if exp.Surge != nil && *exp.Surge != got.Surge {
		out = append(out, fmt.Sprintf("surge: expected %v, got %v", *exp.Surge, got.Surge))
	}
	if exp.Probes != nil && !sameNames(exp.Probes, got.Probes) {
		out = append(out, fmt.Sprintf("probes: expected %v, got %v", exp.Probes, got.Probes))
	}
	return out
}

func sameNames(a, b []probe.Name) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalRuns: len(results)}
	for _, r := range results {
		if r.Passed() {
			s.Passed++
		} else {
			s.Mismatched++
		}
		if r.Surge {
			s.Surges++
		}
		if !r.Valid {
			s.Invalid++
		}
	}
	return s
}

// #endregion replay
