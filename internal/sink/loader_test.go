package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/expense-audit/internal/resilience"
)

// fakeStore records committed batches and can fail selected paths.
type fakeStore struct {
	mu       sync.Mutex
	batches  [][]Op
	failPath string
	err      error
}

func (f *fakeStore) CommitBatch(_ context.Context, ops []Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, op := range ops {
		if f.failPath != "" && op.Path == f.failPath {
			return fmt.Errorf("constraint violation on %s", op.Path)
		}
	}
	f.batches = append(f.batches, ops)
	return nil
}

func (f *fakeStore) Get(_ context.Context, path string) (Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found Doc
	for _, batch := range f.batches {
		for _, op := range batch {
			if op.Path != path {
				continue
			}
			if !op.Merge || found == nil {
				found = Doc{}
			}
			for k, v := range op.Fields {
				found[k] = v
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

func (f *fakeStore) ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []Op
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func TestLoader_CommitSmallBatch(t *testing.T) {
	st := &fakeStore{}
	l := NewLoader(st, LoaderOptions{})

	l.Set("a", Doc{"v": 1})
	l.Merge("b", Doc{"v": 2})
	l.Update("c", Doc{"v": 3})
	assert.Equal(t, 3, l.PendingOps())

	report, err := l.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successes)
	assert.Equal(t, 0, report.Failures)
	assert.Equal(t, 0, l.PendingOps())

	ops := st.ops()
	require.Len(t, ops, 3)
	assert.False(t, ops[0].Merge)
	assert.True(t, ops[1].Merge)
	assert.True(t, ops[2].UpdateOnly)
}

func TestLoader_BatchRollover(t *testing.T) {
	st := &fakeStore{}
	l := NewLoader(st, LoaderOptions{MaxBatchWidth: 10, MaxInflight: 1})

	for i := 0; i < 25; i++ {
		l.Merge(fmt.Sprintf("doc/%d", i), Doc{"i": i})
	}

	report, err := l.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Successes, "25 ops at width 10 commit as 3 batches")
	assert.Len(t, st.ops(), 25)
	for _, b := range st.batches {
		assert.LessOrEqual(t, len(b), 10)
	}
}

func TestLoader_FailedBatchReportedNotRaised(t *testing.T) {
	st := &fakeStore{failPath: "doc/7"}
	l := NewLoader(st, LoaderOptions{MaxBatchWidth: 5, MaxInflight: 1})

	for i := 0; i < 15; i++ {
		l.Merge(fmt.Sprintf("doc/%d", i), Doc{"i": i})
	}

	report, err := l.Commit(context.Background())
	require.NoError(t, err, "ordinary batch failures must not abort the commit")
	assert.Equal(t, 2, report.Successes)
	assert.Equal(t, 1, report.Failures)
	require.Len(t, report.Details, 1)
	assert.Equal(t, 5, report.Details[0].Ops)
	assert.Contains(t, report.Details[0].Error, "constraint violation")

	// The other batches still landed.
	assert.Len(t, st.ops(), 10)
}

func TestLoader_UnavailableAborts(t *testing.T) {
	st := &fakeStore{err: &UnavailableError{Err: errors.New("connection refused")}}
	l := NewLoader(st, LoaderOptions{MaxBatchWidth: 2, MaxInflight: 1})

	for i := 0; i < 6; i++ {
		l.Merge(fmt.Sprintf("doc/%d", i), Doc{"i": i})
	}

	_, err := l.Commit(context.Background())
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestLoader_CircuitOpensOnRepeatedFailure(t *testing.T) {
	st := &fakeStore{err: errors.New("disk full")}
	l := NewLoader(st, LoaderOptions{MaxBatchWidth: 1, MaxInflight: 1, FailureThreshold: 3})

	for i := 0; i < 10; i++ {
		l.Merge(fmt.Sprintf("doc/%d", i), Doc{"i": i})
	}

	report, err := l.Commit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.GreaterOrEqual(t, report.Failures, 3, "threshold failures recorded before the trip")
}

func TestLoader_SetSharded_SmallStaysSingle(t *testing.T) {
	st := &fakeStore{}
	l := NewLoader(st, LoaderOptions{})

	items := []any{map[string]any{"id": 1}, map[string]any{"id": 2}}
	require.NoError(t, l.SetSharded("expenses/1", "records", Doc{"subject_id": "1"}, items))

	_, err := l.Commit(context.Background())
	require.NoError(t, err)

	ops := st.ops()
	require.Len(t, ops, 1)
	assert.Equal(t, "expenses/1", ops[0].Path)
	assert.NotContains(t, ops[0].Fields, "totalShards")
}

// Oversized entities split into a primary plus overflow shards whose items,
// concatenated in shard order, reproduce the original list exactly.
func TestLoader_SetSharded_RoundTrip(t *testing.T) {
	st := &fakeStore{}
	l := NewLoader(st, LoaderOptions{MaxDocBytes: 2048})

	var items []any
	for i := 0; i < 100; i++ {
		items = append(items, map[string]any{
			"document_id": fmt.Sprintf("doc-%03d", i),
			"amount":      float64(i) * 1.5,
			"category":    "Fuel and lubricants for official vehicles",
		})
	}
	require.NoError(t, l.SetSharded("expenses/42", "records", Doc{"subject_id": "42"}, items))

	_, err := l.Commit(context.Background())
	require.NoError(t, err)

	ops := st.ops()
	require.Greater(t, len(ops), 1, "100 items at a 2KB ceiling must shard")

	type shard struct {
		index int
		items []any
	}
	var shards []shard
	var totalShards int
	for _, op := range ops {
		idx, ok := op.Fields["shardIndex"].(int)
		require.True(t, ok, "every shard op carries shardIndex")
		totalShards = op.Fields["totalShards"].(int)
		shards = append(shards, shard{index: idx, items: op.Fields["records"].([]any)})

		if idx == 1 {
			assert.Equal(t, "expenses/42", op.Path)
			assert.Equal(t, "42", op.Fields["subject_id"])
			assert.NotContains(t, op.Fields, "parentKey")
		} else {
			assert.Equal(t, fmt.Sprintf("expenses/42_shard_%d", idx), op.Path)
			assert.Equal(t, "expenses/42", op.Fields["parentKey"])
		}
	}
	assert.Len(t, shards, totalShards)

	// Shard indexes are contiguous 1..totalShards.
	sort.Slice(shards, func(i, j int) bool { return shards[i].index < shards[j].index })
	var rebuilt []any
	for i, s := range shards {
		assert.Equal(t, i+1, s.index)
		rebuilt = append(rebuilt, s.items...)
	}
	assert.Equal(t, items, rebuilt)
}

func TestLoader_SetSharded_SingleItemTooLarge(t *testing.T) {
	l := NewLoader(&fakeStore{}, LoaderOptions{MaxDocBytes: 1024})

	huge := map[string]any{"blob": strings.Repeat("x", 4096)}
	err := l.SetSharded("expenses/1", "records", Doc{}, []any{huge})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds document ceiling")
}
