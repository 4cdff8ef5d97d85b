package invariant

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/probe"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/receipt"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/signals"
)

var (
	hexSeed     = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	decimalSeed = regexp.MustCompile(`^\d+$`)
)

// #region validator
// Validator checks the three audit invariants.
type Validator struct {
	config Config
	now    func() time.Time
}

// NewValidator creates a validator with the given configuration.
func NewValidator(config Config) *Validator {
	return &Validator{config: config, now: func() time.Time { return time.Now().UTC() }}
}

// Config returns the validator settings.
func (v *Validator) Config() Config {
	return v.config
}

// Validate runs all three invariants and returns every violation found.
// It never stops at the first failing rule and never returns an error.
func (v *Validator) Validate(b signals.Bundle, receipts []receipt.Receipt, results *probe.Results) Result {
	ts := v.now()
	var violations []Violation

	// --- INV-A: evidence anchoring ---
	violations = append(violations, v.checkEvidence(b, ts)...)

	// --- INV-B: probe determinism ---
	violations = append(violations, v.checkDeterminism(results, ts)...)

	// --- INV-C: partition stability ---
	violations = append(violations, v.checkPartitions(b, receipts, ts)...)

	if violations == nil {
		violations = []Violation{}
	}
	return Result{Valid: len(violations) == 0, Violations: violations}
}

// #endregion validator

// #region inv-a
func (v *Validator) checkEvidence(b signals.Bundle, ts time.Time) []Violation {
	var out []Violation
	for _, t := range signals.ScoredTypes {
		s := b.Scored(t)
		if s == nil {
			continue
		}
		if s.Score > 0 && len(s.Evidence) == 0 {
			out = append(out, Violation{
				Invariant: InvA,
				Code:      CodeMissingEvidence,
				Message:   fmt.Sprintf("%s signal has score %.4f without evidence", t, s.Score),
				Details:   map[string]interface{}{"signal": string(t), "score": s.Score},
				Timestamp: ts,
			})
		}
		out = append(out, malformedEvidence(t, s.Evidence, ts)...)
	}
	if h := b.Human; h != nil {
		if len(h.ConflictFlags) > 0 && len(h.Evidence) == 0 {
			out = append(out, Violation{
				Invariant: InvA,
				Code:      CodeMissingEvidence,
				Message:   fmt.Sprintf("human signal has %d conflict flags without evidence", len(h.ConflictFlags)),
				Details:   map[string]interface{}{"signal": string(signals.TypeHuman), "conflictFlags": len(h.ConflictFlags)},
				Timestamp: ts,
			})
		}
		out = append(out, malformedEvidence(signals.TypeHuman, h.Evidence, ts)...)
	}
	return out
}

func malformedEvidence(t signals.Type, evidence []signals.Evidence, ts time.Time) []Violation {
	var out []Violation
	for i, e := range evidence {
		var missing []string
		if e.Type == "" {
			missing = append(missing, "type")
		}
		if e.ID == "" {
			missing = append(missing, "id")
		}
		if len(missing) == 0 {
			continue
		}
		out = append(out, Violation{
			Invariant: InvA,
			Code:      CodeMalformedEvidence,
			Message:   fmt.Sprintf("%s evidence[%d] missing %v", t, i, missing),
			Details:   map[string]interface{}{"signal": string(t), "index": i, "missing": missing},
			Timestamp: ts,
		})
	}
	return out
}

// #endregion inv-a

// #region inv-b
func (v *Validator) checkDeterminism(results *probe.Results, ts time.Time) []Violation {
	if results == nil {
		return []Violation{{
			Invariant: InvB,
			Code:      CodeMissingProbeResults,
			Message:   "probe results are missing",
			Timestamp: ts,
		}}
	}
	var out []Violation
	for _, name := range probe.Names {
		base, ok := results.Get(name)
		if !ok {
			continue
		}
		for _, field := range base.MissingFields() {
			out = append(out, Violation{
				Invariant: InvB,
				Code:      CodeMissingProbeField,
				Message:   fmt.Sprintf("%s is missing %s", name, field),
				Details:   map[string]interface{}{"probe": string(name), "field": field},
				Timestamp: ts,
			})
		}
		if base.ConfigHash != "" && v.config.ConfigHash != "" && base.ConfigHash != v.config.ConfigHash {
			out = append(out, Violation{
				Invariant: InvB,
				Code:      CodeConfigMismatch,
				Message:   fmt.Sprintf("%s configHash %q does not match %q", name, base.ConfigHash, v.config.ConfigHash),
				Details:   map[string]interface{}{"probe": string(name), "expected": v.config.ConfigHash, "actual": base.ConfigHash},
				Timestamp: ts,
			})
		}
		if seed := string(base.Seed); seed != "" && !hexSeed.MatchString(seed) && !decimalSeed.MatchString(seed) {
			out = append(out, Violation{
				Invariant: InvB,
				Code:      CodeInvalidSeed,
				Message:   fmt.Sprintf("%s seed %q is neither hex nor decimal", name, seed),
				Details:   map[string]interface{}{"probe": string(name), "seed": seed},
				Timestamp: ts,
			})
		}
	}
	return out
}

// #endregion inv-b

// #region inv-c
func (v *Validator) checkPartitions(b signals.Bundle, receipts []receipt.Receipt, ts time.Time) []Violation {
	var out []Violation

	// 1. cohort-kl shift needs a hashed cohort definition
	if b.Shift.HasTag(signals.TagCohortKL) {
		var cohorts []receipt.Receipt
		for _, r := range receipts {
			if r.Type == receipt.TypeCohortVersion || r.Type == receipt.TypeCohortDefinition {
				cohorts = append(cohorts, r)
			}
		}
		switch {
		case len(cohorts) == 0:
			out = append(out, Violation{
				Invariant: InvC,
				Code:      CodePartitionInstability,
				Message:   "cohort-kl shift detected without any cohort version receipt",
				Details:   map[string]interface{}{"detector": signals.TagCohortKL},
				Timestamp: ts,
			})
		default:
			latest := latestReceipt(cohorts)
			if latest.CohortHash == "" {
				out = append(out, Violation{
					Invariant: InvC,
					Code:      CodePartitionInstability,
					Message:   fmt.Sprintf("latest cohort receipt %s has no cohortHash", latest.ID),
					Details:   map[string]interface{}{"detector": signals.TagCohortKL, "receiptId": latest.ID},
					Timestamp: ts,
				})
			}
		}
	}

	// 2. metric-hacking game needs hashed partition changes
	if b.Game.HasTag(signals.TagMetricHacking) {
		for _, r := range receipts {
			if r.Type == receipt.TypePartitionChange && r.PartitionHash == "" {
				out = append(out, Violation{
					Invariant: InvC,
					Code:      CodePartitionInstability,
					Message:   fmt.Sprintf("partition change receipt %s has no partitionHash", r.ID),
					Details:   map[string]interface{}{"detector": signals.TagMetricHacking, "receiptId": r.ID},
					Timestamp: ts,
				})
			}
		}
	}

	// 3. temporal continuity whenever shift or game was derived
	if b.Shift != nil || b.Game != nil {
		out = append(out, v.temporalGaps(receipts, ts)...)
	}
	return out
}

func (v *Validator) temporalGaps(receipts []receipt.Receipt, ts time.Time) []Violation {
	if v.config.MaxTemporalGap <= 0 {
		return nil
	}
	var times []time.Time
	for _, r := range receipts {
		if !r.Timestamp.IsZero() {
			times = append(times, r.Timestamp.Time)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	var out []Violation
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		if gap > v.config.MaxTemporalGap {
			out = append(out, Violation{
				Invariant: InvC,
				Code:      CodeTemporalGap,
				Message:   fmt.Sprintf("receipt gap %s exceeds %s", gap, v.config.MaxTemporalGap),
				Details: map[string]interface{}{
					"from":   times[i-1].Format(time.RFC3339Nano),
					"to":     times[i].Format(time.RFC3339Nano),
					"gap":    gap.String(),
					"maxGap": v.config.MaxTemporalGap.String(),
				},
				Timestamp: ts,
			})
		}
	}
	return out
}

func latestReceipt(rs []receipt.Receipt) receipt.Receipt {
	latest := rs[0]
	for _, r := range rs[1:] {
		if !r.Timestamp.Before(latest.Timestamp.Time) {
			latest = r
		}
	}
	return latest
}

// #endregion inv-c

// #region report
// GenerateReport buckets the violations of res per invariant.
func GenerateReport(res Result) Report {
	rep := Report{Valid: res.Valid, TotalViolations: len(res.Violations)}
	for _, inv := range All {
		n := res.Count(inv)
		status := StatusPass
		if n > 0 {
			status = StatusFail
		}
		rep.Rules = append(rep.Rules, RuleReport{Invariant: inv, Name: inv.Title(), Status: status, Violations: n})
	}
	return rep
}

// #endregion report

// #region enforce
// ErrInvariantViolated is wrapped by ViolationError.
var ErrInvariantViolated = errors.New("invariant violated")

// ViolationError carries the violations that made Enforce fail.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%v: %d violations, first: %s", ErrInvariantViolated, len(e.Violations), e.Violations[0].Message)
}

func (e *ViolationError) Unwrap() error { return ErrInvariantViolated }

// Enforce escalates an invalid result to an error, but only when
// FailOnViolation is configured. Otherwise it always returns nil.
func (v *Validator) Enforce(res Result) error {
	if !v.config.FailOnViolation || len(res.Violations) == 0 {
		return nil
	}
	return &ViolationError{Violations: res.Violations}
}

// #endregion enforce
