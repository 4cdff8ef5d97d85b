package orchestrator

// #region imports
import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/invariant"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/logging"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/message"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/metrics"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/scheduler"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/signals"
)

// #endregion

// #region orchestrator-struct

// Orchestrator sequences Parser → SignalDeriver → InvariantValidator →
// Scheduler. It owns one scheduler and serializes access to it, so a single
// Orchestrator may be shared between goroutines.
type Orchestrator struct {
	config    Config
	deriver   *signals.Deriver
	validator *invariant.Validator

	mu    sync.Mutex
	sched *scheduler.Scheduler

	logger  *zap.Logger
	metrics *metrics.Metrics
	db      *sql.DB
	now     func() time.Time
	newID   func() string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(l) }
}

// WithMetrics records every run on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithProvenanceDB writes one provenance_log row per run to db.
func WithProvenanceDB(db *sql.DB) Option {
	return func(o *Orchestrator) { o.db = db }
}

// WithScheduler replaces the scheduler built from Config.Scheduler, e.g. one
// restored from a stored snapshot.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sched = s
		}
	}
}

// #endregion

// #region constructor

// New creates a fully wired orchestrator.
func New(config Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:    config,
		deriver:   signals.NewDeriver(config.Deriver),
		validator: invariant.NewValidator(config.Invariant),
		sched:     scheduler.New(config.Scheduler),
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// #endregion

// #region analyze

// Analyze runs the full pipeline over in. Parse failures are collected in the
// result and never abort the run. When the validator is configured to fail on
// violations, the complete result is returned together with the
// *invariant.ViolationError.
func (o *Orchestrator) Analyze(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := o.now()
	runID := o.newID()
	log := o.logger.With(zap.String("run_id", runID))

	// 1. Extract and parse embedded messages
	batch := message.ParseBatch(message.ExtractFromReceipts(in.Receipts))
	for _, be := range batch.Errors {
		log.Debug("message parse failed",
			zap.Int("index", be.Index),
			zap.String("receipt_id", be.Provenance.ReceiptID),
			zap.Error(be.Err))
	}

	// 2. Derive signals
	bundle, err := o.deriver.Derive(in.Receipts, in.ProbeResults)
	if err != nil {
		log.Error("signal derivation failed", zap.Error(err))
		return nil, fmt.Errorf("derive signals: %w", err)
	}
	risk := signals.ComputeAggregateRisk(bundle)

	// 3. Validate invariants
	validation := o.validator.Validate(bundle, in.Receipts, in.ProbeResults)
	report := invariant.GenerateReport(validation)

	// 4. Schedule and select probes
	budget := o.config.ProbeBudget
	if in.Budget != nil {
		budget = *in.Budget
	}
	decision := o.Schedule(in.Context)
	selection := scheduler.SelectProbes(budget, decision)

	res := &Result{
		RunID:            runID,
		ContextHash:      hashContext(in.Context),
		Messages:         batch.Results,
		ParseErrors:      batch.Errors,
		Redundancy:       redundancyChecks(batch),
		Signals:          bundle,
		AggregateRisk:    risk,
		Validation:       validation,
		Violations:       validation.Violations,
		Report:           report,
		ScheduleDecision: decision,
		Selection:        selection,
		CreatedAt:        start,
	}

	o.metrics.Observe(metrics.Run{
		ParseErrors:   len(batch.Errors),
		Violations:    violationCounts(validation),
		Surge:         decision.SurgeActivated,
		ProbeRate:     decision.ProbeRate,
		AggregateRisk: risk.Score,
		RiskCategory:  risk.Category,
		Duration:      o.now().Sub(start),
	})

	log.Info("analysis complete",
		zap.Int("messages", len(batch.Results)),
		zap.Int("parse_errors", len(batch.Errors)),
		zap.Float64("risk", risk.Score),
		zap.String("category", risk.Category),
		zap.Bool("valid", validation.Valid),
		zap.Int("violations", len(validation.Violations)),
		zap.Float64("probe_rate", decision.ProbeRate),
		zap.Int("triggers", len(decision.Triggers)),
		zap.Int("probes", len(selection.Probes)))
	for _, v := range validation.Violations {
		log.Warn("invariant violation",
			zap.String("invariant", string(v.Invariant)),
			zap.String("code", string(v.Code)),
			zap.String("message", v.Message))
	}

	if o.db != nil {
		if err := logging.LogDecision(o.db, res.Provenance()); err != nil {
			return res, fmt.Errorf("record provenance: %w", err)
		}
	}

	if err := o.validator.Enforce(validation); err != nil {
		return res, err
	}
	return res, nil
}

// #endregion

// #region scheduler-access

// Config returns the configuration the orchestrator was built with.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Schedule runs one scheduling decision under the scheduler lock.
func (o *Orchestrator) Schedule(c scheduler.Context) scheduler.Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sched.Schedule(c)
}

// Stats returns the scheduler history statistics.
func (o *Orchestrator) Stats() scheduler.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sched.Stats()
}

// ExportState snapshots the scheduler.
func (o *Orchestrator) ExportState() scheduler.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sched.ExportState()
}

// ImportState replaces the scheduler state.
func (o *Orchestrator) ImportState(snap scheduler.Snapshot) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sched.ImportState(snap)
}

// #endregion

// #region helpers

func redundancyChecks(batch message.BatchResult) []RedundancyCheck {
	out := []RedundancyCheck{}
	seen := make(map[string]bool)
	for _, p := range batch.Results {
		msg := p.Message
		if seen[msg.Digest()] {
			continue
		}
		seen[msg.Digest()] = true
		level := msg.Markers().RedundancyLevel
		if level == nil {
			continue
		}
		sources := batch.SourcesFor(msg)
		group := sameIdentity(batch, msg)
		out = append(out, RedundancyCheck{
			MessageID:    msg.ID(),
			Required:     *level,
			Sources:      len(sources),
			Satisfied:    msg.ValidateRedundancy(sources),
			Renderings:   renderings(group),
			CrossMessage: message.ValidateCrossMessageRedundancy(group, *level),
		})
	}
	return out
}

func sameIdentity(batch message.BatchResult, msg *message.ParsedMessage) []*message.ParsedMessage {
	var out []*message.ParsedMessage
	for _, m := range batch.Messages() {
		if m.Digest() == msg.Digest() {
			out = append(out, m)
		}
	}
	return out
}

func renderings(group []*message.ParsedMessage) int {
	raws := make(map[string]struct{}, len(group))
	for _, m := range group {
		raws[m.Raw()] = struct{}{}
	}
	return len(raws)
}

func violationCounts(res invariant.Result) map[string]int {
	out := make(map[string]int, len(invariant.All))
	for _, inv := range invariant.All {
		out[string(inv)] = res.Count(inv)
	}
	return out
}

func hashContext(c scheduler.Context) string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// #endregion
