package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// #region snapshot
// Snapshot is an immutable copy of the full scheduler state.
type Snapshot struct {
	Config      Config     `json:"config"`
	CurrentRate float64    `json:"currentRate"`
	History     []Decision `json:"history"`
}

// ErrInvalidState is wrapped by every StateError.
var ErrInvalidState = errors.New("invalid scheduler state")

// StateError reports why a snapshot was rejected by ImportState.
type StateError struct {
	Field  string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidState, e.Field, e.Reason)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// ExportState returns a deep copy of the scheduler state.
func (s *Scheduler) ExportState() Snapshot {
	return Snapshot{
		Config:      s.config,
		CurrentRate: s.currentRate,
		History:     s.History(),
	}
}

// ImportState replaces the scheduler state with snap. A malformed snapshot
// is rejected with a StateError and leaves the scheduler untouched.
func (s *Scheduler) ImportState(snap Snapshot) error {
	if err := snap.validate(); err != nil {
		return err
	}
	h := newRing(HistoryCapacity)
	for _, d := range snap.History {
		h.push(copyDecision(d))
	}
	s.config = snap.Config
	s.currentRate = snap.CurrentRate
	s.history = h
	return nil
}

func (snap Snapshot) validate() error {
	rates := []struct {
		field string
		v     float64
	}{
		{"config.baselineRate", snap.Config.BaselineRate},
		{"config.surgeRate", snap.Config.SurgeRate},
		{"currentRate", snap.CurrentRate},
	}
	for _, r := range rates {
		if math.IsNaN(r.v) || r.v < 0 || r.v > 1 {
			return &StateError{Field: r.field, Reason: fmt.Sprintf("rate %v outside [0,1]", r.v)}
		}
	}
	if snap.Config.DriftThreshold < 0 || snap.Config.MetricDeltaThreshold < 0 {
		return &StateError{Field: "config", Reason: "negative threshold"}
	}
	if len(snap.History) > HistoryCapacity {
		return &StateError{Field: "history", Reason: fmt.Sprintf("%d decisions exceeds capacity %d", len(snap.History), HistoryCapacity)}
	}
	for i, d := range snap.History {
		field := fmt.Sprintf("history[%d]", i)
		if math.IsNaN(d.ProbeRate) || d.ProbeRate < 0 || d.ProbeRate > 1 {
			return &StateError{Field: field, Reason: fmt.Sprintf("probe rate %v outside [0,1]", d.ProbeRate)}
		}
		if d.Timestamp.IsZero() {
			return &StateError{Field: field, Reason: "missing timestamp"}
		}
		if d.SurgeActivated != (len(d.Triggers) > 0) {
			return &StateError{Field: field, Reason: "surgeActivated disagrees with triggers"}
		}
		for j, t := range d.Triggers {
			if !knownTrigger(t.Type) {
				return &StateError{Field: fmt.Sprintf("%s.triggers[%d]", field, j), Reason: fmt.Sprintf("unknown trigger %q", t.Type)}
			}
			if !t.Severity.valid() {
				return &StateError{Field: fmt.Sprintf("%s.triggers[%d]", field, j), Reason: fmt.Sprintf("unknown severity %q", t.Severity)}
			}
		}
	}
	return nil
}

func knownTrigger(t TriggerType) bool {
	switch t {
	case TriggerModelVersionChange, TriggerNewToolPermissions, TriggerCohortDrift, TriggerMetricDelta,
		TriggerPreviousViolations, TriggerHighRiskScore, TriggerEnvironmentChange:
		return true
	}
	return false
}

// #endregion snapshot

// #region encoding
// MarshalSnapshot encodes snap for storage.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

// UnmarshalSnapshot decodes a stored snapshot. Undecodable input is a
// StateError.
func UnmarshalSnapshot(b []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, &StateError{Field: "snapshot", Reason: err.Error()}
	}
	if err := snap.validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// #endregion encoding

// #region copy
func copyDecision(d Decision) Decision {
	out := d
	if d.Triggers != nil {
		out.Triggers = make([]Trigger, len(d.Triggers))
		for i, t := range d.Triggers {
			out.Triggers[i] = copyTrigger(t)
		}
	}
	return out
}

func copyTrigger(t Trigger) Trigger {
	out := t
	if t.Details != nil {
		out.Details = make(map[string]interface{}, len(t.Details))
		for k, v := range t.Details {
			if vs, ok := v.([]interface{}); ok {
				v = append([]interface{}(nil), vs...)
			}
			out.Details[k] = v
		}
	}
	return out
}

// #endregion copy
