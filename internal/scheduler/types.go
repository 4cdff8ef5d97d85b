package scheduler

import (
	"time"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/probe"
)

// #region config
// HistoryCapacity bounds the decision history.
const HistoryCapacity = 100

// highRiskScore is the previous-risk level that fires a critical trigger.
const highRiskScore = 0.7

// Config holds the scheduler rates and trigger thresholds.
type Config struct {
	BaselineRate         float64 `json:"baselineRate"`
	SurgeRate            float64 `json:"surgeRate"`
	DriftThreshold       float64 `json:"driftThreshold"`
	MetricDeltaThreshold float64 `json:"metricDeltaThreshold"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaselineRate:         0.05,
		SurgeRate:            0.25,
		DriftThreshold:       0.3,
		MetricDeltaThreshold: 0.15,
	}
}

// #endregion config

// #region context
// Context describes what changed since the last run. Every field is
// optional; an absent field never fires a trigger.
type Context struct {
	ModelVersion         string             `json:"modelVersion,omitempty"`
	PreviousModelVersion string             `json:"previousModelVersion,omitempty"`
	NewToolPermissions   []string           `json:"newToolPermissions,omitempty"`
	CohortDrift          *float64           `json:"cohortDrift,omitempty"`
	MetricDeltas         map[string]float64 `json:"metricDeltas,omitempty"`
	PreviousViolations   []string           `json:"previousViolations,omitempty"`
	PreviousRiskScore    *float64           `json:"previousRiskScore,omitempty"`
	CurrentEnvironment   string             `json:"currentEnvironment,omitempty"`
	PreviousEnvironment  string             `json:"previousEnvironment,omitempty"`
}

// #endregion context

// #region trigger
// TriggerType names one of the seven trigger predicates.
type TriggerType string

const (
	TriggerModelVersionChange TriggerType = "model_version_change"
	TriggerNewToolPermissions TriggerType = "new_tool_permissions"
	TriggerCohortDrift        TriggerType = "cohort_drift"
	TriggerMetricDelta        TriggerType = "metric_delta"
	TriggerPreviousViolations TriggerType = "previous_violations"
	TriggerHighRiskScore      TriggerType = "high_risk_score"
	TriggerEnvironmentChange  TriggerType = "environment_change"
)

// Severity of a trigger.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) valid() bool {
	return s == SeverityMedium || s == SeverityHigh || s == SeverityCritical
}

// Trigger is one fired predicate.
type Trigger struct {
	Type     TriggerType            `json:"type"`
	Severity Severity               `json:"severity"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// #endregion trigger

// #region decision
// Decision is the output of one Schedule call.
type Decision struct {
	ProbeRate      float64   `json:"probeRate"`
	Triggers       []Trigger `json:"triggers"`
	SurgeActivated bool      `json:"surgeActivated"`
	Timestamp      time.Time `json:"timestamp"`
}

// Active reports whether a trigger of type t fired.
func (d Decision) Active(t TriggerType) bool {
	for _, tr := range d.Triggers {
		if tr.Type == t {
			return true
		}
	}
	return false
}

// #endregion decision

// #region selection
// SelectedProbe is one funded probe.
type SelectedProbe struct {
	Name     probe.Name    `json:"name"`
	Cost     float64       `json:"cost"`
	Reason   string        `json:"reason"`
	Triggers []TriggerType `json:"triggers,omitempty"`
}

// Selection is the output of SelectProbes.
type Selection struct {
	Probes      []SelectedProbe `json:"probes"`
	TotalCost   float64         `json:"totalCost"`
	Budget      float64         `json:"budget"`
	Remaining   float64         `json:"remaining"`
	Utilization float64         `json:"utilization"`
}

// #endregion selection

// #region stats
// Stats aggregates the decision history.
type Stats struct {
	TotalExecutions  int                 `json:"totalExecutions"`
	SurgeCount       int                 `json:"surgeCount"`
	SurgeRate        float64             `json:"surgeRate"`
	AverageRate      float64             `json:"averageRate"`
	CurrentRate      float64             `json:"currentRate"`
	TriggerFrequency map[TriggerType]int `json:"triggerFrequency"`
}

// #endregion stats
