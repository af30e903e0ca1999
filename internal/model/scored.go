package model

// Tier is the discrete risk classification derived from a score.
type Tier string

const (
	TierNormal   Tier = "normal"
	TierSuspect  Tier = "suspect"
	TierHighRisk Tier = "high_risk"
	TierCritical Tier = "critical"
)

// Dimension tags which family of entity a scored result or ranking covers.
type Dimension string

const (
	DimensionSubject      Dimension = "subject"
	DimensionCounterparty Dimension = "counterparty"
)

// ScoredSubject pairs a finalized subject aggregate with its risk score.
type ScoredSubject struct {
	Aggregate      *SubjectAggregate `json:"aggregate"`
	Score          float64           `json:"score"`
	Tier           Tier              `json:"tier"`
	TriggeredRules []string          `json:"triggered_rules,omitempty"`
}

// ScoredCounterparty pairs a finalized counterparty aggregate with its score.
type ScoredCounterparty struct {
	Aggregate      *CounterpartyAggregate `json:"aggregate"`
	Score          float64                `json:"score"`
	Tier           Tier                   `json:"tier"`
	TriggeredRules []string               `json:"triggered_rules,omitempty"`
}
