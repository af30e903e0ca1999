package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/expense-audit/internal/model"
)

func triggered(t *testing.T, agg *model.SubjectAggregate) []string {
	t.Helper()
	e := NewEngine(SubjectRules(DefaultParams()), nil, DefaultTierThresholds())
	return e.ScoreSubject(agg).TriggeredRules
}

func TestRule_SingleLargeTransaction(t *testing.T) {
	// A modest spender with one 60k transaction.
	agg := subjectAgg(
		srec("cp1", "Fuel", 2025, 1, 250),
		srec("cp2", "Meals", 2025, 2, 60000),
		srec("cp3", "Office", 2025, 3, 130),
	)
	labels := triggered(t, agg)
	assert.Contains(t, labels, LabelSingleLargeTx)
	assert.NotContains(t, labels, LabelHighVolume)
}

func TestRule_RoundAmountPattern(t *testing.T) {
	// Twelve identical 900.00 payments, all in one category.
	var records []model.ValidatedRecord
	for m := 1; m <= 12; m++ {
		records = append(records, srec("cp1", "Consulting", 2025, m, 900))
	}
	agg := subjectAgg(records...)

	labels := triggered(t, agg)
	assert.Contains(t, labels, LabelRoundAmounts)
	assert.Contains(t, labels, LabelLowCategoryDiversity)
}

func TestRule_RoundAmountRequiresShare(t *testing.T) {
	// Mostly non-round amounts stay clean.
	var records []model.ValidatedRecord
	for m := 1; m <= 12; m++ {
		records = append(records, srec("cp1", "Fuel", 2025, m, 137.42+float64(m)))
	}
	records = append(records, srec("cp1", "Fuel", 2025, 1, 500))

	labels := triggered(t, subjectAgg(records...))
	assert.NotContains(t, labels, LabelRoundAmounts)
}

func TestRule_HighVolumeLadder(t *testing.T) {
	mk := func(total float64) *model.SubjectAggregate {
		agg := model.NewSubjectAggregate(model.Subject{ID: "s1"})
		// Spread below the single-transaction threshold across many partners
		// so only the volume rules can fire.
		n := int(total / 5000)
		for i := 0; i < n; i++ {
			agg.Add(srec("cp"+string(rune('a'+i%26))+string(rune('a'+i/26)), "Cat"+string(rune('a'+i%5)), 2025, i%12+1, 5000))
		}
		agg.Finalize()
		return agg
	}

	low := triggered(t, mk(100000))
	assert.NotContains(t, low, LabelHighVolume)

	mid := triggered(t, mk(250000))
	assert.Contains(t, mid, LabelHighVolume)
	assert.NotContains(t, mid, LabelVeryHighVolume)

	high := triggered(t, mk(600000))
	assert.Contains(t, high, LabelHighVolume)
	assert.Contains(t, high, LabelVeryHighVolume)
}

func TestRule_ConcentratedSpend(t *testing.T) {
	// 90k through two suppliers: 45k per partner exceeds the 20k ratio.
	agg := subjectAgg(
		srec("cp1", "Fuel", 2025, 1, 9000),
		srec("cp1", "Fuel", 2025, 2, 9000),
		srec("cp1", "Fuel", 2025, 3, 9000),
		srec("cp1", "Fuel", 2025, 4, 9000),
		srec("cp1", "Fuel", 2025, 5, 9000),
		srec("cp2", "Meals", 2025, 1, 9000),
		srec("cp2", "Meals", 2025, 2, 9000),
		srec("cp2", "Meals", 2025, 3, 9000),
		srec("cp2", "Meals", 2025, 4, 9000),
		srec("cp2", "Meals", 2025, 5, 9000),
	)
	assert.Contains(t, triggered(t, agg), LabelConcentratedSpend)
}

func TestRule_EndOfPeriodRush(t *testing.T) {
	agg := subjectAgg(
		srec("cp1", "Fuel", 2025, 3, 20000),
		srec("cp2", "Meals", 2025, 7, 15000),
		srec("cp3", "Office", 2025, 12, 30000),
	)
	// 30k of 65k lands in December: 46% > 30%.
	assert.Contains(t, triggered(t, agg), LabelEndOfPeriodRush)
}

func TestRule_LimitProximityClustering(t *testing.T) {
	// Two months clustered in [42750, 45000] with a 45000 limit.
	agg := subjectAgg(
		srec("cp1", "Fuel", 2025, 1, 44500),
		srec("cp2", "Fuel", 2025, 2, 43000),
		srec("cp3", "Fuel", 2025, 3, 12000),
	)
	assert.Contains(t, triggered(t, agg), LabelLimitClustering)

	disabled := DefaultParams()
	disabled.MonthlyLimit = 0
	e := NewEngine(SubjectRules(disabled), nil, DefaultTierThresholds())
	assert.NotContains(t, e.ScoreSubject(agg).TriggeredRules, LabelLimitClustering)
}

func TestRule_FewSubjectsHighValue(t *testing.T) {
	e := NewEngine(nil, CounterpartyRules(DefaultParams()), DefaultTierThresholds())

	exclusive := model.NewCounterpartyAggregate("cp1", "Solo Ltda")
	for m := 1; m <= 6; m++ {
		exclusive.Add(model.ValidatedRecord{SubjectID: "s1", CounterpartyID: "cp1", Year: 2025, Month: m, Amount: 10000})
	}
	exclusive.Finalize()
	assert.Contains(t, e.ScoreCounterparty(exclusive).TriggeredRules, LabelCPFewSubjects)

	// The same volume split across two subjects stays under the rule.
	shared := model.NewCounterpartyAggregate("cp2", "Duo Ltda")
	for m := 1; m <= 3; m++ {
		shared.Add(model.ValidatedRecord{SubjectID: "s1", CounterpartyID: "cp2", Year: 2025, Month: m, Amount: 10000})
		shared.Add(model.ValidatedRecord{SubjectID: "s2", CounterpartyID: "cp2", Year: 2025, Month: m, Amount: 10000})
	}
	shared.Finalize()
	assert.NotContains(t, e.ScoreCounterparty(shared).TriggeredRules, LabelCPFewSubjects)
}

func TestIsRoundAmount(t *testing.T) {
	round := []float64{100, 900, 5000, 1200}
	for _, v := range round {
		assert.True(t, isRoundAmount(v), "%.2f", v)
	}
	notRound := []float64{0, -100, 99.99, 150, 137.42, 100.01}
	for _, v := range notRound {
		assert.False(t, isRoundAmount(v), "%.2f", v)
	}
}

func TestDefaultParams_WeightsCoverAllLabels(t *testing.T) {
	p := DefaultParams()
	for _, r := range SubjectRules(p) {
		require.Positive(t, r.Weight, "subject rule %s has no weight", r.Label)
	}
	for _, r := range CounterpartyRules(p) {
		require.Positive(t, r.Weight, "counterparty rule %s has no weight", r.Label)
	}
}
