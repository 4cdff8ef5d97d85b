package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/probe"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/receipt"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/scheduler"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string        `json:"description"`
	Config      FixtureConfig `json:"config"`
	Runs        []FixtureRun  `json:"runs"`
}

// FixtureConfig overrides the orchestrator defaults. Zero fields keep the
// default.
type FixtureConfig struct {
	BaselineProbeRate    float64 `json:"baseline_probe_rate,omitempty"`
	SurgeProbeRate       float64 `json:"surge_probe_rate,omitempty"`
	ShiftThreshold       float64 `json:"shift_threshold,omitempty"`
	DriftThreshold       float64 `json:"drift_threshold,omitempty"`
	DeceptThreshold      float64 `json:"decept_threshold,omitempty"`
	MetricDeltaThreshold float64 `json:"metric_delta_threshold,omitempty"`
	MaxTemporalGap       string  `json:"max_temporal_gap,omitempty"`
	ConfigHash           string  `json:"config_hash,omitempty"`
	ProbeBudget          float64 `json:"probe_budget,omitempty"`
}

// FixtureRun is one recorded analysis input plus its expected outcome.
type FixtureRun struct {
	RunID        string            `json:"run_id"`
	Receipts     []receipt.Receipt `json:"receipts"`
	ProbeResults *probe.Results    `json:"probe_results"`
	Context      scheduler.Context `json:"context"`
	Budget       *float64          `json:"budget,omitempty"`
	Expected     FixtureExpected   `json:"expected"`
}

// FixtureExpected lists the outcome fields a run is checked against. Unset
// fields are not checked.
type FixtureExpected struct {
	RiskCategory string       `json:"risk_category,omitempty"`
	Valid        *bool        `json:"valid,omitempty"`
	Surge        *bool        `json:"surge,omitempty"`
	Probes       []probe.Name `json:"probes,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToConfig applies the overrides to the orchestrator defaults.
func (fc FixtureConfig) ToConfig() (orchestrator.Config, error) {
	cfg := orchestrator.DefaultConfig()
	setIf(&cfg.Scheduler.BaselineRate, fc.BaselineProbeRate)
	setIf(&cfg.Scheduler.SurgeRate, fc.SurgeProbeRate)
	setIf(&cfg.Deriver.ShiftThreshold, fc.ShiftThreshold)
	setIf(&cfg.Deriver.DriftThreshold, fc.DriftThreshold)
	setIf(&cfg.Scheduler.DriftThreshold, fc.DriftThreshold)
	setIf(&cfg.Deriver.DeceptThreshold, fc.DeceptThreshold)
	setIf(&cfg.Scheduler.MetricDeltaThreshold, fc.MetricDeltaThreshold)
	setIf(&cfg.ProbeBudget, fc.ProbeBudget)
	cfg.Invariant.ConfigHash = fc.ConfigHash
	if fc.MaxTemporalGap != "" {
		gap, err := time.ParseDuration(fc.MaxTemporalGap)
		if err != nil {
			return orchestrator.Config{}, fmt.Errorf("max_temporal_gap: %w", err)
		}
		cfg.Invariant.MaxTemporalGap = gap
	}
	return cfg, nil
}

// ToInput converts a recorded run into orchestrator input.
func (fr FixtureRun) ToInput() orchestrator.Input {
	return orchestrator.Input{
		Receipts:     fr.Receipts,
		ProbeResults: fr.ProbeResults,
		Context:      fr.Context,
		Budget:       fr.Budget,
	}
}

func setIf(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// #endregion fixture-loader
