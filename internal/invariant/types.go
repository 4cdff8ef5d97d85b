package invariant

import (
	"time"
)

// #region invariant
// Invariant names one of the three audit rules.
type Invariant string

const (
	InvA Invariant = "INV_A"
	InvB Invariant = "INV_B"
	InvC Invariant = "INV_C"
)

// All lists the invariants in report order.
var All = []Invariant{InvA, InvB, InvC}

// Title is the human-readable rule name.
func (i Invariant) Title() string {
	switch i {
	case InvA:
		return "Evidence Anchoring"
	case InvB:
		return "Probe Determinism"
	case InvC:
		return "Partition Stability"
	}
	return string(i)
}

// #endregion invariant

// #region codes
// Code classifies a violation within its invariant.
type Code string

const (
	CodeMissingEvidence      Code = "MissingEvidence"
	CodeMalformedEvidence    Code = "MalformedEvidence"
	CodeMissingProbeResults  Code = "MissingProbeResults"
	CodeMissingProbeField    Code = "MissingProbeField"
	CodeConfigMismatch       Code = "ConfigMismatch"
	CodeInvalidSeed          Code = "InvalidSeed"
	CodePartitionInstability Code = "PartitionInstability"
	CodeTemporalGap          Code = "TemporalGap"
)

// #endregion codes

// #region violation
// Violation is one failed audit rule instance. Violations are values, never
// errors.
type Violation struct {
	Invariant Invariant              `json:"invariant"`
	Code      Code                   `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Result is the outcome of one Validate call.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// Count returns how many violations belong to inv.
func (r Result) Count(inv Invariant) int {
	n := 0
	for _, v := range r.Violations {
		if v.Invariant == inv {
			n++
		}
	}
	return n
}

// #endregion violation

// #region report
// Status values in a Report.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// RuleReport is the per-invariant line of a Report.
type RuleReport struct {
	Invariant  Invariant `json:"invariant"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Violations int       `json:"violations"`
}

// Report buckets violations per invariant.
type Report struct {
	Valid           bool         `json:"valid"`
	TotalViolations int          `json:"totalViolations"`
	Rules           []RuleReport `json:"rules"`
}

// #endregion report

// #region config
// Config holds validator settings.
type Config struct {
	ConfigHash      string        // expected probe configHash; empty disables the comparison
	MaxTemporalGap  time.Duration // largest allowed gap between adjacent receipts
	FailOnViolation bool          // Enforce returns an error only when set
}

// DefaultConfig returns the observe-and-report defaults.
func DefaultConfig() Config {
	return Config{
		MaxTemporalGap:  time.Hour,
		FailOnViolation: false,
	}
}

// #endregion config
