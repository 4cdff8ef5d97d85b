package probe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// #region names
// Name is one of the nine known probe names.
type Name string

const (
	CohortAnalysis  Name = "cohortAnalysis"
	EmbeddingDrift  Name = "embeddingDrift"
	MetricTracking  Name = "metricTracking"
	RewardAnalysis  Name = "rewardAnalysis"
	MorseProbe      Name = "morseProbe"
	ConsistencyTrap Name = "consistencyTrap"
	ToolDenial      Name = "toolDenial"
	HaltRequest     Name = "haltRequest"
	ConflictAudit   Name = "conflictAudit"
)

// Names lists every known probe in a fixed order.
var Names = []Name{
	CohortAnalysis, EmbeddingDrift, MetricTracking, RewardAnalysis,
	MorseProbe, ConsistencyTrap, ToolDenial, HaltRequest, ConflictAudit,
}

// #endregion names

// #region base
// Base is the replayability record every probe result must carry.
type Base struct {
	ID            string          `json:"id,omitempty"`
	Seed          Seed            `json:"seed,omitempty"`
	ConfigHash    string          `json:"configHash,omitempty"`
	InputSnapshot json.RawMessage `json:"inputSnapshot,omitempty"`
}

// Required base field names, as they appear on the wire.
const (
	FieldID            = "id"
	FieldSeed          = "seed"
	FieldConfigHash    = "configHash"
	FieldInputSnapshot = "inputSnapshot"
)

// MissingFields returns the wire names of absent base fields in fixed order.
func (b Base) MissingFields() []string {
	var missing []string
	if b.ID == "" {
		missing = append(missing, FieldID)
	}
	if b.Seed == "" {
		missing = append(missing, FieldSeed)
	}
	if b.ConfigHash == "" {
		missing = append(missing, FieldConfigHash)
	}
	snap := bytes.TrimSpace(b.InputSnapshot)
	if len(snap) == 0 || bytes.Equal(snap, []byte("null")) {
		missing = append(missing, FieldInputSnapshot)
	}
	return missing
}

// Seed is a probe seed. Numbers are kept in their decimal text form so the
// format check sees exactly what the producer sent.
type Seed string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seed) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*s = ""
	case b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		*s = Seed(str)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		*s = Seed(n.String())
	}
	return nil
}

// #endregion base

// #region variants
// CohortAnalysisResult reports divergence between cohorts.
type CohortAnalysisResult struct {
	Base
	KLDivergence float64 `json:"klDivergence"`
}

// EmbeddingDriftResult reports representation drift.
type EmbeddingDriftResult struct {
	Base
	Score float64 `json:"score"`
}

// SuspiciousPattern is one flagged metric pattern.
type SuspiciousPattern struct {
	Pattern    string  `json:"pattern,omitempty"`
	Metric     string  `json:"metric,omitempty"`
	Confidence float64 `json:"confidence"`
}

// MetricTrackingResult reports metric gaming patterns.
type MetricTrackingResult struct {
	Base
	SuspiciousPatterns []SuspiciousPattern `json:"suspiciousPatterns,omitempty"`
}

// Artifact is one reward-hacking artifact.
type Artifact struct {
	Type     string   `json:"type,omitempty"`
	Severity Severity `json:"severity"`
}

// RewardAnalysisResult reports reward artifacts.
type RewardAnalysisResult struct {
	Base
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// MorseProbeResult reports covert-channel inconsistency.
type MorseProbeResult struct {
	Base
	Inconsistency float64 `json:"inconsistency"`
}

// ConsistencyTrapResult reports whether a consistency trap fired.
type ConsistencyTrapResult struct {
	Base
	TrapTriggered bool     `json:"trapTriggered"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

// ToolDenialResult reports resistance to a denied tool.
type ToolDenialResult struct {
	Base
	Resistance float64 `json:"resistance"`
}

// HaltRequestResult reports whether a halt request was honoured.
type HaltRequestResult struct {
	Base
	Complied bool `json:"complied"`
}

// Conflict is one detected human-interest conflict.
type Conflict struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	ReceiptID   string `json:"receiptId,omitempty"`
}

// Label is the flag text used for the conflict.
func (c Conflict) Label() string {
	switch {
	case c.Type != "" && c.Description != "":
		return c.Type + ": " + c.Description
	case c.Type != "":
		return c.Type
	case c.Description != "":
		return c.Description
	}
	return "unspecified-conflict"
}

// ConflictAuditResult reports detected conflicts.
type ConflictAuditResult struct {
	Base
	Detected []Conflict `json:"detected,omitempty"`
}

// #endregion variants

// #region severity
// Severity accepts a number in [0,1] or one of low/medium/high/critical.
type Severity float64

var severityWords = map[string]Severity{
	"low":      0.25,
	"medium":   0.5,
	"high":     0.75,
	"critical": 1.0,
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Severity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = 0
		return nil
	}
	if b[0] == '"' {
		var word string
		if err := json.Unmarshal(b, &word); err != nil {
			return fmt.Errorf("severity: %w", err)
		}
		if v, ok := severityWords[strings.ToLower(word)]; ok {
			*s = v
			return nil
		}
		f, err := strconv.ParseFloat(word, 64)
		if err != nil {
			return fmt.Errorf("severity %q: unknown level", word)
		}
		*s = Severity(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("severity: %w", err)
	}
	*s = Severity(f)
	return nil
}

// #endregion severity
