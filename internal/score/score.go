// Package score turns finalized aggregates into capped 0-100 risk scores.
// What counts as suspicious lives in the replaceable rule set; how scores
// combine is the fixed accumulate-and-clamp below.
package score

import "github.com/civicwatch/expense-audit/internal/model"

// SubjectRule is one heuristic over a subject aggregate.
type SubjectRule struct {
	Label     string
	Weight    float64
	Predicate func(agg *model.SubjectAggregate) bool
}

// CounterpartyRule is one heuristic over a counterparty aggregate.
type CounterpartyRule struct {
	Label     string
	Weight    float64
	Predicate func(agg *model.CounterpartyAggregate) bool
}

// TierThresholds maps a capped score to its classification tier.
type TierThresholds struct {
	Suspect  float64
	HighRisk float64
	Critical float64
}

// DefaultTierThresholds returns the standard tier breakpoints.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{Suspect: 40, HighRisk: 60, Critical: 80}
}

// Tier is the step function from score to tier.
func (t TierThresholds) Tier(score float64) model.Tier {
	switch {
	case score >= t.Critical:
		return model.TierCritical
	case score >= t.HighRisk:
		return model.TierHighRisk
	case score >= t.Suspect:
		return model.TierSuspect
	default:
		return model.TierNormal
	}
}

// Engine evaluates rule sets in their fixed order.
type Engine struct {
	subjectRules      []SubjectRule
	counterpartyRules []CounterpartyRule
	tiers             TierThresholds
}

// NewEngine creates a scoring engine over the given rule sets.
func NewEngine(subjectRules []SubjectRule, counterpartyRules []CounterpartyRule, tiers TierThresholds) *Engine {
	return &Engine{
		subjectRules:      subjectRules,
		counterpartyRules: counterpartyRules,
		tiers:             tiers,
	}
}

// ScoreSubject evaluates the subject rule set against one finalized
// aggregate. Matched weights accumulate and clamp at 100; adding a matching
// rule can never lower the score.
func (e *Engine) ScoreSubject(agg *model.SubjectAggregate) model.ScoredSubject {
	var total float64
	var triggered []string
	for _, r := range e.subjectRules {
		if r.Weight <= 0 {
			continue
		}
		if r.Predicate(agg) {
			total += r.Weight
			triggered = append(triggered, r.Label)
		}
	}
	if total > 100 {
		total = 100
	}
	agg.TriggeredLabels = triggered
	return model.ScoredSubject{
		Aggregate:      agg,
		Score:          total,
		Tier:           e.tiers.Tier(total),
		TriggeredRules: triggered,
	}
}

// ScoreCounterparty evaluates the counterparty rule set.
func (e *Engine) ScoreCounterparty(agg *model.CounterpartyAggregate) model.ScoredCounterparty {
	var total float64
	var triggered []string
	for _, r := range e.counterpartyRules {
		if r.Weight <= 0 {
			continue
		}
		if r.Predicate(agg) {
			total += r.Weight
			triggered = append(triggered, r.Label)
		}
	}
	if total > 100 {
		total = 100
	}
	agg.TriggeredLabels = triggered
	return model.ScoredCounterparty{
		Aggregate:      agg,
		Score:          total,
		Tier:           e.tiers.Tier(total),
		TriggeredRules: triggered,
	}
}
