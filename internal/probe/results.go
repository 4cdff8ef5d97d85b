package probe

import (
	"encoding/json"
	"fmt"
	"io"
)

// #region results
// Results holds at most one result per known probe. A nil field means the
// probe did not run. Unknown top-level keys are ignored on decode.
type Results struct {
	CohortAnalysis  *CohortAnalysisResult  `json:"cohortAnalysis,omitempty"`
	EmbeddingDrift  *EmbeddingDriftResult  `json:"embeddingDrift,omitempty"`
	MetricTracking  *MetricTrackingResult  `json:"metricTracking,omitempty"`
	RewardAnalysis  *RewardAnalysisResult  `json:"rewardAnalysis,omitempty"`
	MorseProbe      *MorseProbeResult      `json:"morseProbe,omitempty"`
	ConsistencyTrap *ConsistencyTrapResult `json:"consistencyTrap,omitempty"`
	ToolDenial      *ToolDenialResult      `json:"toolDenial,omitempty"`
	HaltRequest     *HaltRequestResult     `json:"haltRequest,omitempty"`
	ConflictAudit   *ConflictAuditResult   `json:"conflictAudit,omitempty"`
}

// Get returns the base record for name and whether that probe is present.
func (r *Results) Get(name Name) (Base, bool) {
	if r == nil {
		return Base{}, false
	}
	switch name {
	case CohortAnalysis:
		if r.CohortAnalysis != nil {
			return r.CohortAnalysis.Base, true
		}
	case EmbeddingDrift:
		if r.EmbeddingDrift != nil {
			return r.EmbeddingDrift.Base, true
		}
	case MetricTracking:
		if r.MetricTracking != nil {
			return r.MetricTracking.Base, true
		}
	case RewardAnalysis:
		if r.RewardAnalysis != nil {
			return r.RewardAnalysis.Base, true
		}
	case MorseProbe:
		if r.MorseProbe != nil {
			return r.MorseProbe.Base, true
		}
	case ConsistencyTrap:
		if r.ConsistencyTrap != nil {
			return r.ConsistencyTrap.Base, true
		}
	case ToolDenial:
		if r.ToolDenial != nil {
			return r.ToolDenial.Base, true
		}
	case HaltRequest:
		if r.HaltRequest != nil {
			return r.HaltRequest.Base, true
		}
	case ConflictAudit:
		if r.ConflictAudit != nil {
			return r.ConflictAudit.Base, true
		}
	}
	return Base{}, false
}

// Present lists the names of probes that ran, in Names order.
func (r *Results) Present() []Name {
	var out []Name
	for _, n := range Names {
		if _, ok := r.Get(n); ok {
			out = append(out, n)
		}
	}
	return out
}

// #endregion results

// #region decode
// Decode reads a probe results object from r. JSON null yields nil Results.
func Decode(rd io.Reader) (*Results, error) {
	var res *Results
	if err := json.NewDecoder(rd).Decode(&res); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode probe results: %w", err)
	}
	return res, nil
}

// #endregion decode
