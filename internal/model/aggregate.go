package model

import (
	"fmt"
	"sort"
)

// PeriodKey formats a year-month period as YYYY-MM.
func PeriodKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// SubjectAggregate accumulates one subject's validated records. It is owned
// by a single worker during the fold; Finalize freezes it for scoring.
type SubjectAggregate struct {
	SubjectID   string `json:"subject_id"`
	SubjectName string `json:"subject_name"`
	Party       string `json:"party,omitempty"`
	Region      string `json:"region,omitempty"`

	Total            float64            `json:"total"`
	Count            int                `json:"count"`
	Counterparties   map[string]bool    `json:"-"`
	ByCategory       map[string]float64 `json:"by_category"`
	ByYear           map[int]float64    `json:"by_year"`
	ByYearMonth      map[string]float64 `json:"by_year_month"`
	ByCategoryYear   map[string]float64 `json:"by_category_year"`
	Samples          []float64          `json:"-"`
	TriggeredLabels  []string           `json:"triggered_labels,omitempty"`
	DistinctPartners int                `json:"distinct_counterparties"`

	finalized bool
}

// NewSubjectAggregate returns an empty aggregate for the given subject.
func NewSubjectAggregate(s Subject) *SubjectAggregate {
	return &SubjectAggregate{
		SubjectID:      s.ID,
		SubjectName:    s.Name,
		Party:          s.Party,
		Region:         s.Region,
		Counterparties: make(map[string]bool),
		ByCategory:     make(map[string]float64),
		ByYear:         make(map[int]float64),
		ByYearMonth:    make(map[string]float64),
		ByCategoryYear: make(map[string]float64),
	}
}

// CategoryYearKey formats the category-by-year breakdown key.
func CategoryYearKey(category string, year int) string {
	return fmt.Sprintf("%s|%d", category, year)
}

// Add folds one validated record into the aggregate. Purely additive.
func (a *SubjectAggregate) Add(r ValidatedRecord) {
	if a.finalized {
		panic("aggregate: add after finalize")
	}
	a.Total += r.Amount
	a.Count++
	a.Counterparties[r.CounterpartyID] = true
	a.ByCategory[r.Category] += r.Amount
	a.ByYear[r.Year] += r.Amount
	a.ByYearMonth[r.YearMonth()] += r.Amount
	a.ByCategoryYear[CategoryYearKey(r.Category, r.Year)] += r.Amount
	a.Samples = append(a.Samples, r.Amount)
}

// Finalize sorts the amount samples and freezes the aggregate.
func (a *SubjectAggregate) Finalize() {
	if a.finalized {
		return
	}
	sort.Float64s(a.Samples)
	a.DistinctPartners = len(a.Counterparties)
	a.finalized = true
}

// Finalized reports whether Finalize has run.
func (a *SubjectAggregate) Finalized() bool { return a.finalized }

// MaxAmount returns the largest single transaction, or 0 when empty.
func (a *SubjectAggregate) MaxAmount() float64 {
	if len(a.Samples) == 0 {
		return 0
	}
	if a.finalized {
		return a.Samples[len(a.Samples)-1]
	}
	max := a.Samples[0]
	for _, v := range a.Samples[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// MedianAmount returns the median transaction amount. Valid after Finalize.
func (a *SubjectAggregate) MedianAmount() float64 {
	n := len(a.Samples)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return a.Samples[n/2]
	}
	return (a.Samples[n/2-1] + a.Samples[n/2]) / 2
}

// CounterpartyAggregate accumulates spend flowing to one counterparty,
// symmetric to SubjectAggregate but additionally tracking the subjects it
// serves and a per-subject total breakdown.
type CounterpartyAggregate struct {
	CounterpartyID   string `json:"counterparty_id"`
	CounterpartyName string `json:"counterparty_name"`

	Total           float64            `json:"total"`
	Count           int                `json:"count"`
	Subjects        map[string]bool    `json:"-"`
	BySubject       map[string]float64 `json:"by_subject"`
	ByCategory      map[string]float64 `json:"by_category"`
	ByYear          map[int]float64    `json:"by_year"`
	ByYearMonth     map[string]float64 `json:"by_year_month"`
	Samples         []float64          `json:"-"`
	TriggeredLabels []string           `json:"triggered_labels,omitempty"`
	DistinctSubjects int               `json:"distinct_subjects"`

	finalized bool
}

// NewCounterpartyAggregate returns an empty aggregate for a counterparty.
func NewCounterpartyAggregate(id, name string) *CounterpartyAggregate {
	return &CounterpartyAggregate{
		CounterpartyID:   id,
		CounterpartyName: name,
		Subjects:         make(map[string]bool),
		BySubject:        make(map[string]float64),
		ByCategory:       make(map[string]float64),
		ByYear:           make(map[int]float64),
		ByYearMonth:      make(map[string]float64),
	}
}

// Add folds one validated record into the aggregate.
func (a *CounterpartyAggregate) Add(r ValidatedRecord) {
	if a.finalized {
		panic("aggregate: add after finalize")
	}
	a.Total += r.Amount
	a.Count++
	a.Subjects[r.SubjectID] = true
	a.BySubject[r.SubjectID] += r.Amount
	a.ByCategory[r.Category] += r.Amount
	a.ByYear[r.Year] += r.Amount
	a.ByYearMonth[r.YearMonth()] += r.Amount
	a.Samples = append(a.Samples, r.Amount)
}

// Finalize sorts samples and freezes the aggregate.
func (a *CounterpartyAggregate) Finalize() {
	if a.finalized {
		return
	}
	sort.Float64s(a.Samples)
	a.DistinctSubjects = len(a.Subjects)
	a.finalized = true
}

// Finalized reports whether Finalize has run.
func (a *CounterpartyAggregate) Finalized() bool { return a.finalized }

// MaxAmount returns the largest single transaction, or 0 when empty.
func (a *CounterpartyAggregate) MaxAmount() float64 {
	if len(a.Samples) == 0 {
		return 0
	}
	if a.finalized {
		return a.Samples[len(a.Samples)-1]
	}
	max := a.Samples[0]
	for _, v := range a.Samples[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// TopSubjects returns up to n (subject id, total) pairs sorted by spend
// descending, for the "top subjects by spend" breakdown.
func (a *CounterpartyAggregate) TopSubjects(n int) []SubjectShare {
	shares := make([]SubjectShare, 0, len(a.BySubject))
	for id, total := range a.BySubject {
		shares = append(shares, SubjectShare{SubjectID: id, Total: total})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].Total > shares[j].Total })
	if n > 0 && len(shares) > n {
		shares = shares[:n]
	}
	return shares
}

// SubjectShare is one entry of a counterparty's per-subject breakdown.
type SubjectShare struct {
	SubjectID string  `json:"subject_id"`
	Total     float64 `json:"total"`
}
