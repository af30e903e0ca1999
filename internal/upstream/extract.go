package upstream

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Extractor drives the Client across pages of collection endpoints and
// across a bounded-concurrency pool of subjects.
type Extractor struct {
	client     *Client
	pageSize   int
	maxPages   int
	batchWidth int
	batchPause time.Duration

	truncations atomic.Int64
}

// ExtractorOptions configures pagination and fan-out.
type ExtractorOptions struct {
	PageSize   int
	MaxPages   int
	BatchWidth int
	BatchPause time.Duration
}

// NewExtractor creates an extractor over the given client.
func NewExtractor(client *Client, opts ExtractorOptions) *Extractor {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 200
	}
	if opts.BatchWidth <= 0 {
		opts.BatchWidth = 3
	}
	if opts.BatchPause <= 0 {
		opts.BatchPause = 2 * time.Second
	}
	return &Extractor{
		client:     client,
		pageSize:   opts.PageSize,
		maxPages:   opts.MaxPages,
		batchWidth: opts.BatchWidth,
		batchPause: opts.BatchPause,
	}
}

// ExtractAll walks endpoint page by page until a page comes back empty or
// the maxPages safety cap is hit. The cap is a warning, not an error:
// partial data is still usable.
func ExtractAll[T any](ctx context.Context, e *Extractor, endpoint string, base url.Values) ([]T, error) {
	var items []T

	for page := 1; ; page++ {
		if page > e.maxPages {
			e.truncations.Add(1)
			zap.L().Warn("pagination safety cap reached, stopping early",
				zap.String("endpoint", endpoint),
				zap.Int("max_pages", e.maxPages),
				zap.Int("items", len(items)),
			)
			return items, nil
		}

		params := url.Values{}
		for k, vs := range base {
			params[k] = vs
		}
		params.Set("page", strconv.Itoa(page))
		params.Set("pageSize", strconv.Itoa(e.pageSize))

		data, found, err := e.client.Get(ctx, endpoint, params)
		if err != nil {
			return items, err
		}
		if !found {
			return items, nil
		}

		var pageItems []T
		if err := json.Unmarshal(data, &pageItems); err != nil {
			return items, eris.Wrapf(err, "upstream: decode page %d of %s", page, endpoint)
		}
		if len(pageItems) == 0 {
			return items, nil
		}
		items = append(items, pageItems...)
	}
}

// Truncations reports how many paginated walks have stopped at the maxPages
// cap since the extractor was created. Callers count the delta across a run
// into their warning totals.
func (e *Extractor) Truncations() int {
	return int(e.truncations.Load())
}

// SubjectResult is the outcome of one subject's extraction.
type SubjectResult[T any] struct {
	Value T
	Err   error
}

// ExtractSubjects fans perSubject out over subjectIDs in batches of the
// configured width. Within a batch all fetches run concurrently; the
// extractor waits for the whole batch to settle before pausing and starting
// the next. A failed subject is recorded, not fatal.
func ExtractSubjects[T any](ctx context.Context, e *Extractor, subjectIDs []string, perSubject func(ctx context.Context, subjectID string) (T, error)) map[string]SubjectResult[T] {
	results := make(map[string]SubjectResult[T], len(subjectIDs))

	for start := 0; start < len(subjectIDs); start += e.batchWidth {
		end := start + e.batchWidth
		if end > len(subjectIDs) {
			end = len(subjectIDs)
		}
		batch := subjectIDs[start:end]

		batchResults := make([]SubjectResult[T], len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.batchWidth)
		for i, id := range batch {
			g.Go(func() error {
				val, err := perSubject(gctx, id)
				batchResults[i] = SubjectResult[T]{Value: val, Err: err}
				if err != nil {
					zap.L().Warn("subject extraction failed",
						zap.String("subject_id", id),
						zap.Error(err),
					)
				}
				return nil // individual failures never abort the batch
			})
		}
		_ = g.Wait()

		for i, id := range batch {
			results[id] = batchResults[i]
		}

		if ctx.Err() != nil {
			// Cancellation: report what settled, skip remaining subjects.
			for _, id := range subjectIDs[end:] {
				results[id] = SubjectResult[T]{Err: ctx.Err()}
			}
			return results
		}

		if end < len(subjectIDs) {
			timer := time.NewTimer(e.batchPause)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	return results
}

// YearMonth identifies one calendar month.
type YearMonth struct {
	Year  int
	Month int
}

// IncrementalWindow returns the months to query for an incremental run and
// the precise lower date bound for client-side filtering. The upstream only
// filters by whole month, so the window always covers the current, previous
// and second-previous month around the reference date; records older than
// reference minus months are filtered out by the caller.
func IncrementalWindow(reference time.Time, months int) ([]YearMonth, time.Time) {
	if months <= 0 {
		months = 2
	}
	lowerBound := reference.AddDate(0, -months, 0)

	// Month arithmetic on year/month pairs; AddDate would normalize
	// end-of-month dates into the wrong month.
	year, month := reference.Year(), int(reference.Month())
	window := make([]YearMonth, 0, 3)
	for i := 0; i < 3; i++ {
		m := month - i
		y := year
		for m < 1 {
			m += 12
			y--
		}
		window = append(window, YearMonth{Year: y, Month: m})
	}
	return window, lowerBound
}
