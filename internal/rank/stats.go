package rank

import (
	"sort"

	"github.com/civicwatch/expense-audit/internal/model"
)

// Concentration index breakpoints (sum of squared participation shares).
const (
	concentrationMedium = 0.15
	concentrationHigh   = 0.25
)

// GlobalStats derives the single per-run statistics snapshot from the full,
// non-truncated scored set. The ranking lists hold the detail; the snapshot
// only references their ids.
func (b *Builder) GlobalStats(subjects []model.ScoredSubject, counterparties []model.ScoredCounterparty, recordCount int, rankings []model.RankingList) model.GlobalStatistics {
	totals := make([]float64, 0, len(subjects))
	var volume float64
	for _, s := range subjects {
		totals = append(totals, s.Aggregate.Total)
		volume += s.Aggregate.Total
	}

	ids := make([]string, 0, len(rankings))
	for _, r := range rankings {
		ids = append(ids, r.ID)
	}

	index := concentrationIndex(totals, volume)
	return model.GlobalStatistics{
		SubjectCount:       len(subjects),
		CounterpartyCount:  len(counterparties),
		RecordCount:        recordCount,
		TotalVolume:        volume,
		Quartiles:          quartiles(totals),
		ConcentrationIndex: index,
		Concentration:      classifyConcentration(index),
		RankingIDs:         ids,
		GeneratedAt:        b.nowFunc(),
	}
}

// quartiles returns the 25/50/75 percentiles of values sorted ascending,
// using sorted[floor(p*n)].
func quartiles(values []float64) [3]float64 {
	if len(values) == 0 {
		return [3]float64{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	at := func(p float64) float64 {
		i := int(p * float64(n))
		if i >= n {
			i = n - 1
		}
		return sorted[i]
	}
	return [3]float64{at(0.25), at(0.5), at(0.75)}
}

// concentrationIndex is the sum of squared participation shares over all
// entities.
func concentrationIndex(values []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	var index float64
	for _, v := range values {
		share := v / total
		index += share * share
	}
	return index
}

func classifyConcentration(index float64) model.ConcentrationLevel {
	switch {
	case index >= concentrationHigh:
		return model.ConcentrationHigh
	case index >= concentrationMedium:
		return model.ConcentrationMedium
	default:
		return model.ConcentrationLow
	}
}
