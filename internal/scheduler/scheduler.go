package scheduler

import (
	"math"
	"sort"
	"time"
)

// #region scheduler
// Scheduler decides how much probing budget to spend per run. It owns a
// bounded decision history and is not safe for concurrent Schedule calls;
// guard one instance with a single-writer lock or shard per tenant.
type Scheduler struct {
	config      Config
	currentRate float64
	history     ring
	now         func() time.Time
}

// New creates a scheduler starting at the baseline rate.
func New(config Config) *Scheduler {
	return &Scheduler{
		config:      config,
		currentRate: config.BaselineRate,
		history:     newRing(HistoryCapacity),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// CurrentRate is the rate chosen by the most recent decision.
func (s *Scheduler) CurrentRate() float64 {
	return s.currentRate
}

// #endregion scheduler

// #region schedule
// Schedule evaluates the seven trigger predicates against c and records the
// resulting decision.
func (s *Scheduler) Schedule(c Context) Decision {
	triggers := s.triggers(c)

	rate := s.config.BaselineRate
	if len(triggers) > 0 {
		rate = s.config.SurgeRate
	}
	d := Decision{
		ProbeRate:      rate,
		Triggers:       triggers,
		SurgeActivated: len(triggers) > 0,
		Timestamp:      s.now(),
	}

	s.currentRate = rate
	s.history.push(d)
	return d
}

func (s *Scheduler) triggers(c Context) []Trigger {
	out := []Trigger{}

	// 1. Model version change
	if c.ModelVersion != "" && c.PreviousModelVersion != "" && c.ModelVersion != c.PreviousModelVersion {
		out = append(out, Trigger{
			Type:     TriggerModelVersionChange,
			Severity: SeverityHigh,
			Details:  map[string]interface{}{"from": c.PreviousModelVersion, "to": c.ModelVersion},
		})
	}

	// 2. New tool permissions
	if len(c.NewToolPermissions) > 0 {
		out = append(out, Trigger{
			Type:     TriggerNewToolPermissions,
			Severity: SeverityMedium,
			Details:  map[string]interface{}{"permissions": jsonStrings(c.NewToolPermissions)},
		})
	}

	// 3. Cohort drift
	if c.CohortDrift != nil && *c.CohortDrift > s.config.DriftThreshold {
		out = append(out, Trigger{
			Type:     TriggerCohortDrift,
			Severity: SeverityHigh,
			Details:  map[string]interface{}{"drift": *c.CohortDrift, "threshold": s.config.DriftThreshold},
		})
	}

	// 4. Metric deltas, one trigger per offending metric in name order
	names := make([]string, 0, len(c.MetricDeltas))
	for k := range c.MetricDeltas {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		delta := c.MetricDeltas[k]
		if math.Abs(delta) > s.config.MetricDeltaThreshold {
			out = append(out, Trigger{
				Type:     TriggerMetricDelta,
				Severity: SeverityMedium,
				Details:  map[string]interface{}{"metric": k, "delta": delta, "threshold": s.config.MetricDeltaThreshold},
			})
		}
	}

	// 5. Previous violations
	if len(c.PreviousViolations) > 0 {
		out = append(out, Trigger{
			Type:     TriggerPreviousViolations,
			Severity: SeverityHigh,
			Details:  map[string]interface{}{"count": float64(len(c.PreviousViolations))},
		})
	}

	// 6. High previous risk
	if c.PreviousRiskScore != nil && *c.PreviousRiskScore > highRiskScore {
		out = append(out, Trigger{
			Type:     TriggerHighRiskScore,
			Severity: SeverityCritical,
			Details:  map[string]interface{}{"score": *c.PreviousRiskScore, "threshold": highRiskScore},
		})
	}

	// 7. Environment change
	if c.CurrentEnvironment != "" && c.PreviousEnvironment != "" && c.CurrentEnvironment != c.PreviousEnvironment {
		out = append(out, Trigger{
			Type:     TriggerEnvironmentChange,
			Severity: SeverityMedium,
			Details:  map[string]interface{}{"from": c.PreviousEnvironment, "to": c.CurrentEnvironment},
		})
	}

	return out
}

// jsonStrings keeps trigger details in the shapes encoding/json decodes to, so
// a stored snapshot restores value-equal.
func jsonStrings(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// #endregion schedule

// #region stats
// Stats aggregates the retained decision history.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		CurrentRate:      s.currentRate,
		TriggerFrequency: map[TriggerType]int{},
	}
	var rateSum float64
	for _, d := range s.history.items() {
		st.TotalExecutions++
		rateSum += d.ProbeRate
		if d.SurgeActivated {
			st.SurgeCount++
		}
		for _, t := range d.Triggers {
			st.TriggerFrequency[t.Type]++
		}
	}
	if st.TotalExecutions > 0 {
		st.SurgeRate = float64(st.SurgeCount) / float64(st.TotalExecutions)
		st.AverageRate = rateSum / float64(st.TotalExecutions)
	}
	return st
}

// History returns a copy of the retained decisions, oldest first.
func (s *Scheduler) History() []Decision {
	items := s.history.items()
	out := make([]Decision, len(items))
	for i, d := range items {
		out[i] = copyDecision(d)
	}
	return out
}

// #endregion stats

// #region ring
// ring is a fixed-capacity FIFO; pushing onto a full ring evicts the oldest.
type ring struct {
	buf   []Decision
	start int
	size  int
}

func newRing(capacity int) ring {
	return ring{buf: make([]Decision, capacity)}
}

func (r *ring) push(d Decision) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = d
		r.size++
		return
	}
	r.buf[r.start] = d
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []Decision {
	out := make([]Decision, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// #endregion ring
