// Package pipeline orchestrates a full audit run: extract expense records
// from the upstream API, validate and fold them into aggregates, score and
// rank the results, and load everything into the document sink. The run is a
// linear state machine; whatever state it ends in, the caller gets a complete
// cumulative accounting.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicwatch/expense-audit/internal/aggregate"
	"github.com/civicwatch/expense-audit/internal/config"
	"github.com/civicwatch/expense-audit/internal/export"
	"github.com/civicwatch/expense-audit/internal/model"
	"github.com/civicwatch/expense-audit/internal/rank"
	"github.com/civicwatch/expense-audit/internal/score"
	"github.com/civicwatch/expense-audit/internal/sink"
	"github.com/civicwatch/expense-audit/internal/upstream"
	"github.com/civicwatch/expense-audit/internal/validate"
)

// Options are the per-run parameters; persistent configuration lives in
// config.Config.
type Options struct {
	// Legislature selects the legislature to audit; empty means the
	// upstream's current one.
	Legislature string
	// SubjectIDs restricts the run to the given subjects. Empty means all.
	SubjectIDs []string
	// RecordLimit caps records kept per subject, 0 for no cap. Useful for
	// smoke runs against the live API.
	RecordLimit int
	// Months selects an incremental window of recent months instead of a
	// full historical walk. 0 means full.
	Months int
	// ReferenceDate anchors the incremental window. Zero means now.
	ReferenceDate time.Time
	// XLSXPath, when set, writes a spreadsheet snapshot of the rankings and
	// statistics after the transform stage.
	XLSXPath string
}

// Reporter receives progress events. Implementations must be fast; they run
// on the orchestrator goroutine.
type Reporter func(model.Progress)

// Pipeline wires the stages together for one or more runs.
type Pipeline struct {
	cfg       *config.Config
	api       *upstream.API
	extractor *upstream.Extractor
	validator *validate.Validator
	scorer    *score.Engine
	ranker    *rank.Builder
	loader    *sink.Loader
	reporter  Reporter

	nowFunc func() time.Time
}

// New assembles a pipeline from its stage collaborators.
func New(cfg *config.Config, api *upstream.API, extractor *upstream.Extractor, scorer *score.Engine, loader *sink.Loader, reporter Reporter) *Pipeline {
	if reporter == nil {
		reporter = func(model.Progress) {}
	}
	return &Pipeline{
		cfg:       cfg,
		api:       api,
		extractor: extractor,
		validator: validate.New(),
		scorer:    scorer,
		ranker:    rank.NewBuilder(cfg.Ranking.MaxLength),
		loader:    loader,
		reporter:  reporter,
		nowFunc:   time.Now,
	}
}

// subjectBatch carries one subject's records through the stages: raw out of
// extraction, validated after transform.
type subjectBatch struct {
	subject   model.Subject
	records   []model.RawRecord
	validated []model.ValidatedRecord
}

// Run executes the full state machine. The returned result is always
// populated, including on failure; the error is non-nil only when the run
// ended in the failed state.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*model.RunResult, error) {
	result := &model.RunResult{
		RunID:     uuid.NewString(),
		State:     model.RunStateIdle,
		StartedAt: p.nowFunc(),
	}
	log := zap.L().With(zap.String("run_id", result.RunID))

	fail := func(err error) (*model.RunResult, error) {
		result.State = model.RunStateFailed
		result.Failures++
		result.FinishedAt = p.nowFunc()
		p.report(result, 100, fmt.Sprintf("run failed: %v", err))
		return result, err
	}

	// Extract.
	result.State = model.RunStateExtracting
	p.report(result, 0, "listing subjects")

	subjects, err := p.listSubjects(ctx, opts)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: list subjects"))
	}
	log.Info("subjects listed", zap.Int("count", len(subjects)))
	p.report(result, 5, fmt.Sprintf("extracting expenses for %d subjects", len(subjects)))

	window, lowerBound := p.window(opts)
	truncated := p.extractor.Truncations()
	batches := p.extract(ctx, subjects, window, lowerBound, opts.RecordLimit, result)
	if n := p.extractor.Truncations() - truncated; n > 0 {
		result.Warnings += n
		log.Warn("pagination caps hit during extraction", zap.Int("walks", n))
	}
	p.report(result, 40, fmt.Sprintf("extracted %d subjects, %d failed", len(batches), len(result.SubjectFailures)))

	// A cancelled run still transforms and flushes whatever settled.
	flushCtx := ctx
	if ctx.Err() != nil {
		log.Warn("run cancelled, flushing completed subjects", zap.Int("completed", len(batches)))
		flushCtx = context.WithoutCancel(ctx)
	}

	// Transform.
	result.State = model.RunStateTransforming
	p.report(result, 45, "validating and aggregating")

	engine := aggregate.NewEngine()
	p.transform(batches, engine, result)

	subjectAggs, counterpartyAggs := engine.Finalize()

	scoredSubjects := make([]model.ScoredSubject, 0, len(subjectAggs))
	for _, agg := range subjectAggs {
		scoredSubjects = append(scoredSubjects, p.scorer.ScoreSubject(agg))
	}
	scoredCounterparties := make([]model.ScoredCounterparty, 0, len(counterpartyAggs))
	for _, agg := range counterpartyAggs {
		scoredCounterparties = append(scoredCounterparties, p.scorer.ScoreCounterparty(agg))
	}
	p.report(result, 60, fmt.Sprintf("scored %d subjects, %d counterparties", len(scoredSubjects), len(scoredCounterparties)))

	rankings := p.ranker.BuildSubjectRankings(scoredSubjects)
	rankings = append(rankings, p.ranker.BuildCounterpartyRankings(scoredCounterparties)...)
	stats := p.ranker.GlobalStats(scoredSubjects, scoredCounterparties, engine.RecordCount(), rankings)
	result.RankingsBuilt = len(rankings)
	p.report(result, 70, fmt.Sprintf("built %d ranking lists", len(rankings)))

	if opts.XLSXPath != "" {
		if err := export.WriteRankingsXLSX(opts.XLSXPath, rankings, stats); err != nil {
			// The sink remains the system of record; a snapshot failure is
			// only a warning.
			result.Warnings++
			log.Warn("xlsx snapshot failed", zap.String("path", opts.XLSXPath), zap.Error(err))
		}
	}

	// Load.
	result.State = model.RunStateLoading
	p.report(result, 75, "loading documents")

	if err := p.stage(batches, scoredSubjects, scoredCounterparties, rankings, stats, result); err != nil {
		return fail(eris.Wrap(err, "pipeline: stage documents"))
	}

	report, err := p.loader.Commit(flushCtx)
	result.Successes += report.Successes
	result.Failures += report.Failures
	for _, d := range report.Details {
		log.Warn("batch commit failed",
			zap.Int("batch", d.BatchIndex),
			zap.Int("ops", d.Ops),
			zap.String("first_path", d.FirstPath),
			zap.String("error", d.Error),
		)
	}
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: commit"))
	}

	// Run metadata carries the final counters, so it commits separately
	// after the main load.
	if err := p.stageRunMetadata(result, len(subjects)); err != nil {
		return fail(err)
	}
	metaReport, err := p.loader.Commit(flushCtx)
	result.Successes += metaReport.Successes
	result.Failures += metaReport.Failures
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: commit run metadata"))
	}

	result.State = model.RunStateDone
	result.FinishedAt = p.nowFunc()
	p.report(result, 100, "done")
	log.Info("run complete",
		zap.Int("successes", result.Successes),
		zap.Int("failures", result.Failures),
		zap.Int("warnings", result.Warnings),
		zap.Int("records_written", result.RecordsWritten),
		zap.Int("rankings_built", result.RankingsBuilt),
	)
	return result, nil
}

func (p *Pipeline) report(result *model.RunResult, percent float64, message string) {
	p.reporter(model.Progress{State: result.State, Percent: percent, Message: message})
}

func (p *Pipeline) listSubjects(ctx context.Context, opts Options) ([]model.Subject, error) {
	subjects, err := p.api.ListSubjects(ctx, opts.Legislature)
	if err != nil {
		return nil, err
	}
	if len(opts.SubjectIDs) == 0 {
		return subjects, nil
	}
	keep := make(map[string]bool, len(opts.SubjectIDs))
	for _, id := range opts.SubjectIDs {
		keep[id] = true
	}
	filtered := subjects[:0]
	for _, s := range subjects {
		if keep[s.ID] {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

func (p *Pipeline) window(opts Options) ([]upstream.YearMonth, time.Time) {
	if opts.Months <= 0 {
		return nil, time.Time{}
	}
	reference := opts.ReferenceDate
	if reference.IsZero() {
		reference = p.nowFunc()
	}
	return upstream.IncrementalWindow(reference, opts.Months)
}

// subjectFetch is one subject's extraction payload: the secondary detail
// lookup plus the expense walk. A detail failure is carried separately so the
// subject still makes it through on its listed fields.
type subjectFetch struct {
	detail    model.Subject
	detailErr error
	records   []model.RawRecord
}

// extract fans expense fetches out over subjects, enriching each from the
// detail endpoint on the way. Per-subject failures are recorded on the result
// and the run continues.
func (p *Pipeline) extract(ctx context.Context, subjects []model.Subject, window []upstream.YearMonth, lowerBound time.Time, recordLimit int, result *model.RunResult) []subjectBatch {
	byID := make(map[string]model.Subject, len(subjects))
	ids := make([]string, 0, len(subjects))
	for _, s := range subjects {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	results := upstream.ExtractSubjects(ctx, p.extractor, ids, func(ctx context.Context, subjectID string) (subjectFetch, error) {
		detail, detailErr := p.api.GetSubject(ctx, subjectID)
		records, err := p.api.ListExpenses(ctx, subjectID, window)
		return subjectFetch{detail: detail, detailErr: detailErr, records: records}, err
	})

	batches := make([]subjectBatch, 0, len(subjects))
	for _, id := range ids {
		res := results[id]
		if res.Err != nil {
			result.Failures++
			result.SubjectFailures = append(result.SubjectFailures, model.SubjectFailure{
				SubjectID: id,
				Error:     res.Err.Error(),
			})
			continue
		}
		subject := byID[id]
		if res.Value.detailErr != nil {
			result.Warnings++
			zap.L().Warn("subject detail lookup failed, using listed fields",
				zap.String("subject_id", id),
				zap.Error(res.Value.detailErr),
			)
		} else {
			subject = enrichSubject(subject, res.Value.detail)
		}
		records := res.Value.records
		if !lowerBound.IsZero() {
			records = filterSince(records, lowerBound)
		}
		if recordLimit > 0 && len(records) > recordLimit {
			records = records[:recordLimit]
		}
		batches = append(batches, subjectBatch{subject: subject, records: records})
	}
	return batches
}

// enrichSubject overlays detail fields onto the listed subject. The detail
// endpoint is authoritative for whatever it fills in; blanks keep the listed
// value.
func enrichSubject(base, detail model.Subject) model.Subject {
	if detail.Name != "" {
		base.Name = detail.Name
	}
	if detail.Party != "" {
		base.Party = detail.Party
	}
	if detail.Region != "" {
		base.Region = detail.Region
	}
	if detail.Photo != "" {
		base.Photo = detail.Photo
	}
	if detail.Email != "" {
		base.Email = detail.Email
	}
	if detail.Status != "" {
		base.Status = detail.Status
	}
	return base
}

// filterSince drops records whose document date parses and falls before the
// bound. Unparseable dates are kept; validation repairs them downstream.
func filterSince(records []model.RawRecord, bound time.Time) []model.RawRecord {
	kept := records[:0]
	for _, r := range records {
		date := r.DocumentDate
		if len(date) > 10 {
			date = date[:10]
		}
		if t, err := time.Parse("2006-01-02", date); err == nil && t.Before(bound) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// transform validates every record and folds it into the aggregates. One
// worker per subject keeps subject aggregates single-writer; the worker count
// matches the extraction concurrency.
func (p *Pipeline) transform(batches []subjectBatch, engine *aggregate.Engine, result *model.RunResult) {
	var (
		mu       sync.Mutex
		warnings int
	)

	width := p.cfg.Upstream.Concurrency
	if width <= 0 {
		width = 3
	}
	g := new(errgroup.Group)
	g.SetLimit(width)
	for i := range batches {
		batch := &batches[i]
		g.Go(func() error {
			corrected := 0
			validated := make([]model.ValidatedRecord, 0, len(batch.records))
			for _, raw := range batch.records {
				v := p.validator.Validate(raw)
				if v.WasCorrected {
					corrected++
				}
				validated = append(validated, v)
			}
			engine.FoldSubject(batch.subject, validated)
			batch.validated = validated

			mu.Lock()
			warnings += corrected
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.Warnings += warnings
	result.Successes += len(batches)
}
