// Package aggregate folds validated records into per-subject and
// per-counterparty running aggregates. Aggregation is purely additive: an
// aggregate is only ever incremented, never recomputed from scratch.
package aggregate

import (
	"hash/fnv"
	"sync"

	"github.com/civicwatch/expense-audit/internal/model"
	"github.com/civicwatch/expense-audit/internal/validate"
)

const counterpartyShards = 16

// Engine owns the two aggregate maps. Subject aggregates are single-writer:
// each subject's records are folded by exactly one worker. Counterparty
// aggregates are shared across subject workers and guarded by sharded locks
// keyed by counterparty id, so two workers never interleave writes to the
// same aggregate.
type Engine struct {
	mu             sync.Mutex
	subjects       map[string]*model.SubjectAggregate
	counterparties map[string]*model.CounterpartyAggregate
	recordCount    int

	shards [counterpartyShards]sync.Mutex
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{
		subjects:       make(map[string]*model.SubjectAggregate),
		counterparties: make(map[string]*model.CounterpartyAggregate),
	}
}

// FoldSubject folds one subject's validated records, in order, into that
// subject's aggregate and into the counterparty aggregates they touch. It is
// the single writer for the subject's aggregate; callers run it from exactly
// one goroutine per subject.
func (e *Engine) FoldSubject(subject model.Subject, records []model.ValidatedRecord) *model.SubjectAggregate {
	agg := e.subjectAggregate(subject)

	for _, r := range records {
		agg.Add(r)
		e.foldCounterparty(r)
	}

	e.mu.Lock()
	e.recordCount += len(records)
	e.mu.Unlock()

	return agg
}

func (e *Engine) subjectAggregate(subject model.Subject) *model.SubjectAggregate {
	e.mu.Lock()
	defer e.mu.Unlock()
	agg, ok := e.subjects[subject.ID]
	if !ok {
		agg = model.NewSubjectAggregate(subject)
		e.subjects[subject.ID] = agg
	}
	return agg
}

func (e *Engine) foldCounterparty(r model.ValidatedRecord) {
	key := r.CounterpartyID
	if key == "" {
		key = validate.NormalizeKey(r.CounterpartyName)
	}

	e.mu.Lock()
	agg, ok := e.counterparties[key]
	if !ok {
		agg = model.NewCounterpartyAggregate(key, r.CounterpartyName)
		e.counterparties[key] = agg
	}
	e.mu.Unlock()

	shard := &e.shards[shardFor(key)]
	shard.Lock()
	agg.Add(r)
	shard.Unlock()
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % counterpartyShards
}

// Finalize freezes every aggregate (sorting samples, fixing distinct counts)
// and returns both families. Call once, after all folds have settled.
func (e *Engine) Finalize() ([]*model.SubjectAggregate, []*model.CounterpartyAggregate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subjects := make([]*model.SubjectAggregate, 0, len(e.subjects))
	for _, agg := range e.subjects {
		agg.Finalize()
		subjects = append(subjects, agg)
	}
	counterparties := make([]*model.CounterpartyAggregate, 0, len(e.counterparties))
	for _, agg := range e.counterparties {
		agg.Finalize()
		counterparties = append(counterparties, agg)
	}
	return subjects, counterparties
}

// RecordCount returns the number of records folded so far.
func (e *Engine) RecordCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recordCount
}
