package orchestrator

// #region imports
import (
	"time"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/invariant"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/message"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/probe"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/receipt"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/scheduler"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/signals"
)

// #endregion

// #region config

// Config wires the four components.
type Config struct {
	Deriver     signals.DeriverConfig
	Invariant   invariant.Config
	Scheduler   scheduler.Config
	ProbeBudget float64 // used when Input.Budget is nil
}

// DefaultConfig returns the component defaults and a budget of 100.
func DefaultConfig() Config {
	return Config{
		Deriver:     signals.DefaultDeriverConfig(),
		Invariant:   invariant.DefaultConfig(),
		Scheduler:   scheduler.DefaultConfig(),
		ProbeBudget: 100,
	}
}

// #endregion

// #region input

// Input is everything one analysis run consumes.
type Input struct {
	Receipts     []receipt.Receipt `json:"receipts"`
	ProbeResults *probe.Results    `json:"probeResults"`
	Context      scheduler.Context `json:"context"`
	Budget       *float64          `json:"budget,omitempty"`
}

// #endregion

// #region result

// RedundancyCheck is the RED-level verdict for one distinct message.
// Satisfied counts distinct receipt sources; CrossMessage counts distinct raw
// renderings of the same identifier.
type RedundancyCheck struct {
	MessageID    string `json:"messageId"`
	Required     int    `json:"required"`
	Sources      int    `json:"sources"`
	Satisfied    bool   `json:"satisfied"`
	Renderings   int    `json:"renderings"`
	CrossMessage bool   `json:"crossMessage"`
}

// Result is the combined output of one analysis run.
type Result struct {
	RunID            string                `json:"runId"`
	ContextHash      string                `json:"contextHash"`
	Messages         []message.Parsed      `json:"parsedMessages"`
	ParseErrors      []message.BatchError  `json:"parseErrors"`
	Redundancy       []RedundancyCheck     `json:"redundancy"`
	Signals          signals.Bundle        `json:"signals"`
	AggregateRisk    signals.AggregateRisk `json:"aggregateRisk"`
	Validation       invariant.Result      `json:"validation"`
	Violations       []invariant.Violation `json:"violations"`
	Report           invariant.Report      `json:"report"`
	ScheduleDecision scheduler.Decision    `json:"scheduleDecision"`
	Selection        scheduler.Selection   `json:"selection"`
	CreatedAt        time.Time             `json:"createdAt"`
}

// #endregion
