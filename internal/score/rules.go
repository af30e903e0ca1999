package score

import (
	"math"

	"github.com/civicwatch/expense-audit/internal/model"
)

// Params holds every tunable threshold and weight of the default rule set.
// The zero value is unusable; start from DefaultParams and overlay a rules
// file when configured.
type Params struct {
	// Subject rules.
	HighVolumeTotal        float64 `yaml:"high_volume_total"`
	VeryHighVolumeTotal    float64 `yaml:"very_high_volume_total"`
	ConcentrationRatio     float64 `yaml:"concentration_ratio"`
	SingleTransactionMax   float64 `yaml:"single_transaction_max"`
	DiversityFloorCount    int     `yaml:"diversity_floor_count"`
	DiversityFloorMaxCats  int     `yaml:"diversity_floor_max_categories"`
	EndOfPeriodShare       float64 `yaml:"end_of_period_share"`
	EndOfPeriodMinTotal    float64 `yaml:"end_of_period_min_total"`
	RoundShare             float64 `yaml:"round_share"`
	RoundMinCount          int     `yaml:"round_min_count"`
	MonthlyLimit           float64 `yaml:"monthly_limit"`
	LimitProximityFraction float64 `yaml:"limit_proximity_fraction"`
	LimitProximityMonths   int     `yaml:"limit_proximity_months"`

	// Counterparty rules.
	CounterpartyHighTotal float64 `yaml:"counterparty_high_total"`
	FewSubjectsMax        int     `yaml:"few_subjects_max"`
	FewSubjectsMinTotal   float64 `yaml:"few_subjects_min_total"`
	CounterpartySingleMax float64 `yaml:"counterparty_single_max"`
	CounterpartyConcRatio float64 `yaml:"counterparty_concentration_ratio"`

	// Label -> weight. Setting a label's weight to 0 disables the rule.
	Weights map[string]float64 `yaml:"weights"`
}

// Rule labels. These appear in triggered-rule lists and persisted documents,
// so they are stable identifiers, not display strings.
const (
	LabelHighVolume           = "high_volume"
	LabelVeryHighVolume       = "very_high_volume"
	LabelConcentratedSpend    = "concentrated_spend"
	LabelSingleLargeTx        = "single_large_transaction"
	LabelLowCategoryDiversity = "low_category_diversity"
	LabelEndOfPeriodRush      = "end_of_period_rush"
	LabelRoundAmounts         = "round_amount_pattern"
	LabelLimitClustering      = "limit_proximity_clustering"

	LabelCPHighVolume    = "counterparty_high_volume"
	LabelCPFewSubjects   = "few_subjects_high_value"
	LabelCPSingleLargeTx = "counterparty_single_large_transaction"
	LabelCPConcentrated  = "counterparty_concentrated_spend"
)

// DefaultParams returns the tuned defaults for the standard rule set.
func DefaultParams() Params {
	return Params{
		HighVolumeTotal:        200000,
		VeryHighVolumeTotal:    500000,
		ConcentrationRatio:     20000,
		SingleTransactionMax:   10000,
		DiversityFloorCount:    10,
		DiversityFloorMaxCats:  2,
		EndOfPeriodShare:       0.3,
		EndOfPeriodMinTotal:    50000,
		RoundShare:             0.75,
		RoundMinCount:          5,
		MonthlyLimit:           45000,
		LimitProximityFraction: 0.05,
		LimitProximityMonths:   2,

		CounterpartyHighTotal: 500000,
		FewSubjectsMax:        1,
		FewSubjectsMinTotal:   50000,
		CounterpartySingleMax: 50000,
		CounterpartyConcRatio: 100000,

		Weights: map[string]float64{
			LabelHighVolume:           15,
			LabelVeryHighVolume:       15,
			LabelConcentratedSpend:    25,
			LabelSingleLargeTx:        30,
			LabelLowCategoryDiversity: 10,
			LabelEndOfPeriodRush:      15,
			LabelRoundAmounts:         20,
			LabelLimitClustering:      25,

			LabelCPHighVolume:    20,
			LabelCPFewSubjects:   35,
			LabelCPSingleLargeTx: 25,
			LabelCPConcentrated:  20,
		},
	}
}

func (p Params) weight(label string) float64 {
	return p.Weights[label]
}

// SubjectRules builds the ordered subject rule set from params.
func SubjectRules(p Params) []SubjectRule {
	return []SubjectRule{
		{
			Label:  LabelHighVolume,
			Weight: p.weight(LabelHighVolume),
			Predicate: func(a *model.SubjectAggregate) bool {
				return a.Total >= p.HighVolumeTotal
			},
		},
		{
			Label:  LabelVeryHighVolume,
			Weight: p.weight(LabelVeryHighVolume),
			Predicate: func(a *model.SubjectAggregate) bool {
				return a.Total >= p.VeryHighVolumeTotal
			},
		},
		{
			// Volume divided by distinct counterparties: large spend routed
			// through few suppliers.
			Label:  LabelConcentratedSpend,
			Weight: p.weight(LabelConcentratedSpend),
			Predicate: func(a *model.SubjectAggregate) bool {
				if a.DistinctPartners == 0 {
					return false
				}
				return a.Total/float64(a.DistinctPartners) >= p.ConcentrationRatio
			},
		},
		{
			Label:  LabelSingleLargeTx,
			Weight: p.weight(LabelSingleLargeTx),
			Predicate: func(a *model.SubjectAggregate) bool {
				return a.MaxAmount() >= p.SingleTransactionMax
			},
		},
		{
			Label:  LabelLowCategoryDiversity,
			Weight: p.weight(LabelLowCategoryDiversity),
			Predicate: func(a *model.SubjectAggregate) bool {
				return a.Count >= p.DiversityFloorCount && len(a.ByCategory) <= p.DiversityFloorMaxCats
			},
		},
		{
			// Share of a year's spend landing in its final month.
			Label:  LabelEndOfPeriodRush,
			Weight: p.weight(LabelEndOfPeriodRush),
			Predicate: func(a *model.SubjectAggregate) bool {
				for year, yearTotal := range a.ByYear {
					if yearTotal < p.EndOfPeriodMinTotal {
						continue
					}
					december := a.ByYearMonth[model.PeriodKey(year, 12)]
					if december/yearTotal >= p.EndOfPeriodShare {
						return true
					}
				}
				return false
			},
		},
		{
			Label:  LabelRoundAmounts,
			Weight: p.weight(LabelRoundAmounts),
			Predicate: func(a *model.SubjectAggregate) bool {
				if a.Count < p.RoundMinCount {
					return false
				}
				round := 0
				for _, v := range a.Samples {
					if isRoundAmount(v) {
						round++
					}
				}
				return float64(round)/float64(len(a.Samples)) >= p.RoundShare
			},
		},
		{
			// Months whose spend clusters just under the declared limit.
			Label:  LabelLimitClustering,
			Weight: p.weight(LabelLimitClustering),
			Predicate: func(a *model.SubjectAggregate) bool {
				if p.MonthlyLimit <= 0 {
					return false
				}
				lower := p.MonthlyLimit * (1 - p.LimitProximityFraction)
				months := 0
				for _, monthTotal := range a.ByYearMonth {
					if monthTotal >= lower && monthTotal <= p.MonthlyLimit {
						months++
					}
				}
				return months >= p.LimitProximityMonths
			},
		},
	}
}

// CounterpartyRules builds the ordered counterparty rule set from params.
func CounterpartyRules(p Params) []CounterpartyRule {
	return []CounterpartyRule{
		{
			Label:  LabelCPHighVolume,
			Weight: p.weight(LabelCPHighVolume),
			Predicate: func(a *model.CounterpartyAggregate) bool {
				return a.Total >= p.CounterpartyHighTotal
			},
		},
		{
			// Shell-counterparty pattern: nearly all volume from one or two
			// subjects.
			Label:  LabelCPFewSubjects,
			Weight: p.weight(LabelCPFewSubjects),
			Predicate: func(a *model.CounterpartyAggregate) bool {
				return a.DistinctSubjects <= p.FewSubjectsMax && a.Total >= p.FewSubjectsMinTotal
			},
		},
		{
			Label:  LabelCPSingleLargeTx,
			Weight: p.weight(LabelCPSingleLargeTx),
			Predicate: func(a *model.CounterpartyAggregate) bool {
				return a.MaxAmount() >= p.CounterpartySingleMax
			},
		},
		{
			// Volume divided by distinct subjects, the symmetric
			// concentration ratio.
			Label:  LabelCPConcentrated,
			Weight: p.weight(LabelCPConcentrated),
			Predicate: func(a *model.CounterpartyAggregate) bool {
				if a.DistinctSubjects == 0 {
					return false
				}
				return a.Total/float64(a.DistinctSubjects) >= p.CounterpartyConcRatio
			},
		},
	}
}

// isRoundAmount reports whether v is a whole multiple of 100.
func isRoundAmount(v float64) bool {
	if v <= 0 {
		return false
	}
	_, frac := math.Modf(v)
	if frac > 1e-9 && frac < 1-1e-9 {
		return false
	}
	cents := int64(math.Round(v * 100))
	return cents%10000 == 0
}
