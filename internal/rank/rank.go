// Package rank derives ordered, capped ranking lists and global statistics
// from the full scored set.
package rank

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/civicwatch/expense-audit/internal/model"
)

// Builder constructs ranking lists with a fixed maximum length.
type Builder struct {
	maxLength int
	nowFunc   func() time.Time
}

// NewBuilder creates a builder; maxLength bounds every list (default 500).
func NewBuilder(maxLength int) *Builder {
	if maxLength <= 0 {
		maxLength = 500
	}
	return &Builder{maxLength: maxLength, nowFunc: time.Now}
}

// candidate is one entity considered for a ranking list.
type candidate struct {
	id       string
	name     string
	metric   float64
	metadata map[string]any
}

// BuildSubjectRankings produces the subject lists: overall, per year, per
// category, and per category-and-year.
func (b *Builder) BuildSubjectRankings(scored []model.ScoredSubject) []model.RankingList {
	var lists []model.RankingList

	overall := make([]candidate, 0, len(scored))
	years := map[int]bool{}
	categories := map[string]bool{}
	for _, s := range scored {
		overall = append(overall, candidate{
			id:     s.Aggregate.SubjectID,
			name:   s.Aggregate.SubjectName,
			metric: s.Aggregate.Total,
			metadata: map[string]any{
				"score": s.Score,
				"tier":  string(s.Tier),
				"count": s.Aggregate.Count,
			},
		})
		for y := range s.Aggregate.ByYear {
			years[y] = true
		}
		for c := range s.Aggregate.ByCategory {
			categories[c] = true
		}
	}
	lists = append(lists, b.assemble("subject_overall", model.DimensionSubject, "overall", overall))

	for _, year := range sortedYears(years) {
		var cands []candidate
		for _, s := range scored {
			if v := s.Aggregate.ByYear[year]; v > 0 {
				cands = append(cands, candidate{
					id:     s.Aggregate.SubjectID,
					name:   s.Aggregate.SubjectName,
					metric: v,
				})
			}
		}
		sub := fmt.Sprintf("year_%d", year)
		lists = append(lists, b.assemble("subject_"+sub, model.DimensionSubject, sub, cands))
	}

	for _, category := range sortedKeys(categories) {
		var cands []candidate
		for _, s := range scored {
			if v := s.Aggregate.ByCategory[category]; v > 0 {
				cands = append(cands, candidate{
					id:     s.Aggregate.SubjectID,
					name:   s.Aggregate.SubjectName,
					metric: v,
				})
			}
		}
		sub := "category_" + slug(category)
		lists = append(lists, b.assemble("subject_"+sub, model.DimensionSubject, sub, cands))

		for _, year := range sortedYears(years) {
			key := model.CategoryYearKey(category, year)
			var yearCands []candidate
			for _, s := range scored {
				if v := s.Aggregate.ByCategoryYear[key]; v > 0 {
					yearCands = append(yearCands, candidate{
						id:     s.Aggregate.SubjectID,
						name:   s.Aggregate.SubjectName,
						metric: v,
					})
				}
			}
			if len(yearCands) == 0 {
				continue
			}
			sub := fmt.Sprintf("category_%s_year_%d", slug(category), year)
			lists = append(lists, b.assemble("subject_"+sub, model.DimensionSubject, sub, yearCands))
		}
	}

	return lists
}

// BuildCounterpartyRankings produces the counterparty lists: overall and per
// year.
func (b *Builder) BuildCounterpartyRankings(scored []model.ScoredCounterparty) []model.RankingList {
	var lists []model.RankingList

	overall := make([]candidate, 0, len(scored))
	years := map[int]bool{}
	for _, s := range scored {
		overall = append(overall, candidate{
			id:     s.Aggregate.CounterpartyID,
			name:   s.Aggregate.CounterpartyName,
			metric: s.Aggregate.Total,
			metadata: map[string]any{
				"score":             s.Score,
				"tier":              string(s.Tier),
				"distinct_subjects": s.Aggregate.DistinctSubjects,
			},
		})
		for y := range s.Aggregate.ByYear {
			years[y] = true
		}
	}
	lists = append(lists, b.assemble("counterparty_overall", model.DimensionCounterparty, "overall", overall))

	for _, year := range sortedYears(years) {
		var cands []candidate
		for _, s := range scored {
			if v := s.Aggregate.ByYear[year]; v > 0 {
				cands = append(cands, candidate{
					id:     s.Aggregate.CounterpartyID,
					name:   s.Aggregate.CounterpartyName,
					metric: v,
				})
			}
		}
		sub := fmt.Sprintf("year_%d", year)
		lists = append(lists, b.assemble("counterparty_"+sub, model.DimensionCounterparty, sub, cands))
	}

	return lists
}

// assemble sorts candidates descending by metric (stable sort, ties keep their
// natural iteration order), assigns 1-based ranks and truncates.
func (b *Builder) assemble(id string, dim model.Dimension, sub string, cands []candidate) model.RankingList {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].metric > cands[j].metric })

	total := len(cands)
	if total > b.maxLength {
		cands = cands[:b.maxLength]
	}

	entries := make([]model.RankingEntry, len(cands))
	for i, c := range cands {
		entries[i] = model.RankingEntry{
			Rank:        i + 1,
			EntityID:    c.id,
			DisplayName: c.name,
			Metric:      c.metric,
			Metadata:    c.metadata,
		}
	}

	return model.RankingList{
		ID:           id,
		Dimension:    dim,
		SubDimension: sub,
		Entries:      entries,
		TotalItems:   total,
		GeneratedAt:  b.nowFunc(),
	}
}

func sortedYears(set map[int]bool) []int {
	years := make([]int, 0, len(set))
	for y := range set {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return strings.Trim(sb.String(), "_")
}
