package model

import "time"

// RankingEntry is one row of a ranking list.
type RankingEntry struct {
	Rank        int            `json:"rank"`
	EntityID    string         `json:"entity_id"`
	DisplayName string         `json:"display_name"`
	Metric      float64        `json:"metric"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RankingList is an ordered, capped slice of ranked entities for one
// dimension/sub-dimension combination. TotalItems is the untruncated count.
type RankingList struct {
	ID           string         `json:"id"`
	Dimension    Dimension      `json:"dimension"`
	SubDimension string         `json:"sub_dimension"`
	Entries      []RankingEntry `json:"entries"`
	TotalItems   int            `json:"total_items"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// ConcentrationLevel buckets a concentration index.
type ConcentrationLevel string

const (
	ConcentrationLow    ConcentrationLevel = "low"
	ConcentrationMedium ConcentrationLevel = "medium"
	ConcentrationHigh   ConcentrationLevel = "high"
)

// GlobalStatistics is the single per-run snapshot derived from the full
// (non-truncated) scored set.
type GlobalStatistics struct {
	SubjectCount       int                `json:"subject_count"`
	CounterpartyCount  int                `json:"counterparty_count"`
	RecordCount        int                `json:"record_count"`
	TotalVolume        float64            `json:"total_volume"`
	Quartiles          [3]float64         `json:"quartiles"`
	ConcentrationIndex float64            `json:"concentration_index"`
	Concentration      ConcentrationLevel `json:"concentration"`
	RankingIDs         []string           `json:"ranking_ids"`
	GeneratedAt        time.Time          `json:"generated_at"`
}
