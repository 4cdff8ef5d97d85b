package signals

import (
	"errors"
	"fmt"
)

// #region construction-error
// ErrMissingEvidence is wrapped by every EvidenceConstructionError.
var ErrMissingEvidence = errors.New("signal has no evidence")

// EvidenceConstructionError reports an attempt to build a non-zero signal
// without evidence. It indicates a derivation bug, not bad input.
type EvidenceConstructionError struct {
	Signal Type
	Score  float64
	Flags  int
}

func (e *EvidenceConstructionError) Error() string {
	if e.Signal == TypeHuman {
		return fmt.Sprintf("build %s signal: %d conflict flags: %v", e.Signal, e.Flags, ErrMissingEvidence)
	}
	return fmt.Sprintf("build %s signal: score %.4f: %v", e.Signal, e.Score, ErrMissingEvidence)
}

func (e *EvidenceConstructionError) Unwrap() error { return ErrMissingEvidence }

// #endregion construction-error

// #region constructors
// NewScoredSignal builds a scored signal. A score above zero requires at
// least one evidence entry. Scores are clamped to [0, 1].
func NewScoredSignal(t Type, score float64, tags []string, evidence []Evidence) (*ScoredSignal, error) {
	score = clamp(score)
	if score > 0 && len(evidence) == 0 {
		return nil, &EvidenceConstructionError{Signal: t, Score: score}
	}
	return &ScoredSignal{
		Score:    score,
		Tags:     append([]string{}, tags...),
		Evidence: append([]Evidence{}, evidence...),
	}, nil
}

// NewHumanSignal builds the human signal. Any conflict flag requires at
// least one evidence entry.
func NewHumanSignal(flags []string, evidence []Evidence) (*HumanSignal, error) {
	if len(flags) > 0 && len(evidence) == 0 {
		return nil, &EvidenceConstructionError{Signal: TypeHuman, Flags: len(flags)}
	}
	return &HumanSignal{
		ConflictFlags: append([]string{}, flags...),
		Evidence:      append([]Evidence{}, evidence...),
	}, nil
}

// #endregion constructors

// #region helpers
// clamp restricts v to [0, 1]. NaN maps to 0.
func clamp(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
