package logging

import "time"

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table. One entry is
// written per analysis run.
type ProvenanceEntry struct {
	RunID        string
	ContextHash  string
	TriggerType  string // comma-joined trigger types, or "none"
	SignalsJSON  string
	EvidenceRefs string
	Decision     string // DecisionPass | DecisionFail
	Reason       string
	CreatedAt    time.Time
}

// Decision values.
const (
	DecisionPass = "pass"
	DecisionFail = "fail"
)

// TriggerNone marks a run in which no scheduler trigger fired.
const TriggerNone = "none"

// #endregion provenance-entry

// #region format
// Log output formats accepted by NewLogger.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// #endregion format
