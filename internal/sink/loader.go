package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicwatch/expense-audit/internal/resilience"
)

// LoaderOptions configures batching and sharding.
type LoaderOptions struct {
	// MaxBatchWidth is the most ops buffered into one commit. Default 400.
	MaxBatchWidth int
	// MaxDocBytes is the serialized-size ceiling per document. Default 900KB,
	// a safety margin under the store's ~1MB limit.
	MaxDocBytes int
	// MaxInflight bounds concurrent batch commits. Default 2.
	MaxInflight int
	// FailureThreshold trips the sink circuit breaker. Default 5.
	FailureThreshold int
}

// CommitReport is the outcome of a Commit across all batches. A failed batch
// is reported here, never raised, unless the sink itself became unreachable.
type CommitReport struct {
	Successes int
	Failures  int
	Details   []BatchError
}

// Loader buffers document writes, shards oversized entities, and commits
// through the store in bounded batches with merge semantics.
type Loader struct {
	store   Store
	opts    LoaderOptions
	breaker *resilience.CircuitBreaker

	mu      sync.Mutex
	pending []Op
	batches [][]Op
}

// NewLoader creates a loader over the given store.
func NewLoader(st Store, opts LoaderOptions) *Loader {
	if opts.MaxBatchWidth <= 0 {
		opts.MaxBatchWidth = 400
	}
	if opts.MaxDocBytes <= 0 {
		opts.MaxDocBytes = 900 * 1024
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 2
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: opts.FailureThreshold,
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.S().Warnw("sink circuit state change", "from", from, "to", to)
		},
	})
	return &Loader{store: st, opts: opts, breaker: breaker}
}

// Set buffers a full-document replace.
func (l *Loader) Set(path string, fields Doc) {
	l.add(Op{Path: path, Fields: fields})
}

// Merge buffers a field-level merge write. Absent documents are created.
func (l *Loader) Merge(path string, fields Doc) {
	l.add(Op{Path: path, Fields: fields, Merge: true})
}

// Update buffers a merge write that fails when the document does not exist.
func (l *Loader) Update(path string, fields Doc) {
	l.add(Op{Path: path, Fields: fields, Merge: true, UpdateOnly: true})
}

func (l *Loader) add(ops ...Op) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range ops {
		l.pending = append(l.pending, op)
		if len(l.pending) >= l.opts.MaxBatchWidth {
			l.batches = append(l.batches, l.pending)
			l.pending = nil
		}
	}
}

// SetSharded buffers an entity whose items list may exceed the document size
// ceiling. Small entities become one merge write carrying meta plus items.
// Oversized ones are split: the primary document keeps meta, the first run of
// items, totalShards and shardIndex 1; each overflow shard k lives at
// path_shard_k with parentKey back to the primary. Concatenating items in
// shard-index order reproduces the original list exactly.
func (l *Loader) SetSharded(path, itemsField string, meta Doc, items []any) error {
	single := cloneDoc(meta)
	single[itemsField] = items
	if size, err := docSize(single); err != nil {
		return eris.Wrapf(err, "sink: size %s", path)
	} else if size <= l.opts.MaxDocBytes {
		l.Merge(path, single)
		return nil
	}

	chunks, err := l.splitItems(path, meta, items)
	if err != nil {
		return err
	}

	primary := cloneDoc(meta)
	primary[itemsField] = chunks[0]
	primary["totalShards"] = len(chunks)
	primary["shardIndex"] = 1
	l.Merge(path, primary)

	for i, chunk := range chunks[1:] {
		shard := Doc{
			itemsField:    chunk,
			"totalShards": len(chunks),
			"shardIndex":  i + 2,
			"parentKey":   path,
		}
		l.Merge(fmt.Sprintf("%s_shard_%d", path, i+2), shard)
	}
	return nil
}

// splitItems packs items greedily into chunks whose serialized size stays
// under the ceiling, reserving room for meta and the shard envelope fields.
func (l *Loader) splitItems(path string, meta Doc, items []any) ([][]any, error) {
	metaSize, err := docSize(meta)
	if err != nil {
		return nil, eris.Wrapf(err, "sink: size meta %s", path)
	}
	// Shard envelope fields are small; 256 bytes is plenty of slack.
	budget := l.opts.MaxDocBytes - metaSize - 256
	if budget <= 0 {
		return nil, eris.Errorf("sink: metadata alone exceeds document ceiling for %s", path)
	}

	var (
		chunks  [][]any
		current []any
		used    int
	)
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, eris.Wrapf(err, "sink: marshal item for %s", path)
		}
		cost := len(raw) + 1
		if cost > budget {
			return nil, eris.Errorf("sink: single item exceeds document ceiling for %s", path)
		}
		if used+cost > budget && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			used = 0
		}
		current = append(current, item)
		used += cost
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	if len(chunks) == 0 {
		chunks = append(chunks, []any{})
	}
	return chunks, nil
}

// Commit flushes all buffered batches. Batch failures are recorded in the
// report and the remaining batches still commit; only an unreachable store
// (or a tripped circuit) aborts with an error. Bounded concurrency keeps at
// most MaxInflight commits running.
func (l *Loader) Commit(ctx context.Context) (CommitReport, error) {
	l.mu.Lock()
	batches := l.batches
	if len(l.pending) > 0 {
		batches = append(batches, l.pending)
	}
	l.batches = nil
	l.pending = nil
	l.mu.Unlock()

	var (
		report   CommitReport
		mu       sync.Mutex
		fatalErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.MaxInflight)
	for i, batch := range batches {
		g.Go(func() error {
			err := l.breaker.Execute(gctx, func(ctx context.Context) error {
				return l.store.CommitBatch(ctx, batch)
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Successes++
				return nil
			case isFatalSinkError(err):
				report.Failures++
				if fatalErr == nil {
					fatalErr = err
				}
				return err
			default:
				report.Failures++
				report.Details = append(report.Details, BatchError{
					BatchIndex: i,
					Ops:        len(batch),
					FirstPath:  batch[0].Path,
					Error:      err.Error(),
				})
				zap.S().Warnw("sink batch failed",
					"batch", i, "ops", len(batch), "first_path", batch[0].Path, "error", err)
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		if fatalErr != nil {
			return report, fatalErr
		}
		return report, err
	}
	return report, nil
}

// PendingOps reports how many ops are buffered but not yet committed.
func (l *Loader) PendingOps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.pending)
	for _, b := range l.batches {
		n += len(b)
	}
	return n
}

func isFatalSinkError(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable) || errors.Is(err, resilience.ErrCircuitOpen)
}

func docSize(d Doc) (int, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return 0, err
	}
	return len(raw), nil
}

func cloneDoc(d Doc) Doc {
	out := make(Doc, len(d)+4)
	for k, v := range d {
		out[k] = v
	}
	return out
}
