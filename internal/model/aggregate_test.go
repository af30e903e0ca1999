package model

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(subject, counterparty, category string, year, month int, amount float64) ValidatedRecord {
	return ValidatedRecord{
		SubjectID:      subject,
		CounterpartyID: counterparty,
		Category:       category,
		Year:           year,
		Month:          month,
		Amount:         amount,
		Date:           time.Date(year, time.Month(month), 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestSubjectAggregate_Add(t *testing.T) {
	agg := NewSubjectAggregate(Subject{ID: "s1", Name: "Alice"})
	agg.Add(rec("s1", "cp1", "Fuel", 2025, 1, 100))
	agg.Add(rec("s1", "cp2", "Fuel", 2025, 2, 50))
	agg.Add(rec("s1", "cp1", "Meals", 2024, 12, 25))
	agg.Finalize()

	assert.Equal(t, 175.0, agg.Total)
	assert.Equal(t, 3, agg.Count)
	assert.Equal(t, 2, agg.DistinctPartners)
	assert.Equal(t, 150.0, agg.ByCategory["Fuel"])
	assert.Equal(t, 25.0, agg.ByCategory["Meals"])
	assert.Equal(t, 150.0, agg.ByYear[2025])
	assert.Equal(t, 100.0, agg.ByYearMonth["2025-01"])
	assert.Equal(t, 150.0, agg.ByCategoryYear[CategoryYearKey("Fuel", 2025)])
}

// Folding the same records in any order produces the same aggregate.
func TestSubjectAggregate_OrderIndependent(t *testing.T) {
	records := make([]ValidatedRecord, 50)
	for i := range records {
		records[i] = rec("s1", "cp", "Fuel", 2025, i%12+1, float64(i+1)*10)
	}

	build := func(rs []ValidatedRecord) *SubjectAggregate {
		agg := NewSubjectAggregate(Subject{ID: "s1"})
		for _, r := range rs {
			agg.Add(r)
		}
		agg.Finalize()
		return agg
	}

	a := build(records)

	shuffled := make([]ValidatedRecord, len(records))
	copy(shuffled, records)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	b := build(shuffled)

	assert.Equal(t, a.Total, b.Total)
	assert.Equal(t, a.Count, b.Count)
	assert.Equal(t, a.ByYearMonth, b.ByYearMonth)
	assert.Equal(t, a.Samples, b.Samples, "samples are sorted at finalize")
	assert.Equal(t, a.MedianAmount(), b.MedianAmount())
}

func TestSubjectAggregate_AddAfterFinalizePanics(t *testing.T) {
	agg := NewSubjectAggregate(Subject{ID: "s1"})
	agg.Finalize()
	assert.Panics(t, func() { agg.Add(rec("s1", "cp", "Fuel", 2025, 1, 1)) })
}

func TestSubjectAggregate_MaxAndMedian(t *testing.T) {
	agg := NewSubjectAggregate(Subject{ID: "s1"})
	for _, v := range []float64{30, 10, 50, 20, 40} {
		agg.Add(rec("s1", "cp", "Fuel", 2025, 1, v))
	}
	assert.Equal(t, 50.0, agg.MaxAmount(), "max works before finalize")
	agg.Finalize()
	assert.Equal(t, 50.0, agg.MaxAmount())
	assert.Equal(t, 30.0, agg.MedianAmount())

	empty := NewSubjectAggregate(Subject{ID: "s2"})
	empty.Finalize()
	assert.Equal(t, 0.0, empty.MaxAmount())
	assert.Equal(t, 0.0, empty.MedianAmount())
}

func TestSubjectAggregate_MedianEvenCount(t *testing.T) {
	agg := NewSubjectAggregate(Subject{ID: "s1"})
	for _, v := range []float64{10, 20, 30, 40} {
		agg.Add(rec("s1", "cp", "Fuel", 2025, 1, v))
	}
	agg.Finalize()
	assert.Equal(t, 25.0, agg.MedianAmount())
}

func TestCounterpartyAggregate_TopSubjects(t *testing.T) {
	agg := NewCounterpartyAggregate("cp1", "Posto Central")
	agg.Add(rec("s1", "cp1", "Fuel", 2025, 1, 300))
	agg.Add(rec("s2", "cp1", "Fuel", 2025, 1, 100))
	agg.Add(rec("s3", "cp1", "Fuel", 2025, 1, 200))
	agg.Add(rec("s1", "cp1", "Fuel", 2025, 2, 50))
	agg.Finalize()

	assert.Equal(t, 3, agg.DistinctSubjects)

	top := agg.TopSubjects(2)
	require.Len(t, top, 2)
	assert.Equal(t, SubjectShare{SubjectID: "s1", Total: 350}, top[0])
	assert.Equal(t, SubjectShare{SubjectID: "s3", Total: 200}, top[1])

	all := agg.TopSubjects(0)
	assert.Len(t, all, 3)
}

func TestPeriodKeys(t *testing.T) {
	assert.Equal(t, "2025-03", PeriodKey(2025, 3))
	assert.Equal(t, "0999-12", PeriodKey(999, 12))
	assert.Equal(t, "Fuel|2025", CategoryYearKey("Fuel", 2025))

	r := rec("s", "c", "Fuel", 2025, 3, 1)
	assert.Equal(t, "2025-03", r.YearMonth())
}
