package pipeline

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/civicwatch/expense-audit/internal/model"
	"github.com/civicwatch/expense-audit/internal/sink"
)

// Document paths. Every entity family lives under its own prefix so a
// re-run's merge writes land on the same documents.
const (
	subjectPathPrefix      = "subjects/"
	expensePathPrefix      = "expenses/"
	counterpartyPathPrefix = "counterparties/"
	rankingPathPrefix      = "rankings/"
	statsPath              = "stats/global"
	runPathPrefix          = "runs/"
)

// stage buffers every output document into the loader. Nothing is committed
// here; Commit drives the actual batched writes.
func (p *Pipeline) stage(batches []subjectBatch, subjects []model.ScoredSubject, counterparties []model.ScoredCounterparty, rankings []model.RankingList, stats model.GlobalStatistics, result *model.RunResult) error {
	scoreBySubject := make(map[string]model.ScoredSubject, len(subjects))
	for _, s := range subjects {
		scoreBySubject[s.Aggregate.SubjectID] = s
	}

	for _, batch := range batches {
		scored, ok := scoreBySubject[batch.subject.ID]
		if !ok {
			continue
		}

		doc, err := toDoc(scored.Aggregate)
		if err != nil {
			return eris.Wrapf(err, "pipeline: encode subject %s", batch.subject.ID)
		}
		doc["score"] = scored.Score
		doc["tier"] = string(scored.Tier)
		doc["triggered_rules"] = scored.TriggeredRules
		p.loader.Merge(subjectPathPrefix+batch.subject.ID, doc)

		items := make([]any, len(batch.validated))
		for i, r := range batch.validated {
			items[i] = r
		}
		meta := sink.Doc{
			"subject_id":   batch.subject.ID,
			"subject_name": batch.subject.Name,
			"record_count": len(items),
		}
		if err := p.loader.SetSharded(expensePathPrefix+batch.subject.ID, "records", meta, items); err != nil {
			return err
		}
		result.RecordsWritten += len(batch.validated)
	}

	for _, scored := range counterparties {
		doc, err := toDoc(scored.Aggregate)
		if err != nil {
			return eris.Wrapf(err, "pipeline: encode counterparty %s", scored.Aggregate.CounterpartyID)
		}
		doc["score"] = scored.Score
		doc["tier"] = string(scored.Tier)
		doc["triggered_rules"] = scored.TriggeredRules
		doc["top_subjects"] = scored.Aggregate.TopSubjects(10)
		p.loader.Merge(counterpartyPathPrefix+scored.Aggregate.CounterpartyID, doc)
	}

	for _, list := range rankings {
		items := make([]any, len(list.Entries))
		for i, e := range list.Entries {
			items[i] = e
		}
		meta := sink.Doc{
			"id":            list.ID,
			"dimension":     string(list.Dimension),
			"sub_dimension": list.SubDimension,
			"total_items":   list.TotalItems,
			"generated_at":  list.GeneratedAt,
		}
		if err := p.loader.SetSharded(rankingPathPrefix+list.ID, "entries", meta, items); err != nil {
			return err
		}
	}

	statsDoc, err := toDoc(stats)
	if err != nil {
		return eris.Wrap(err, "pipeline: encode statistics")
	}
	p.loader.Set(statsPath, statsDoc)

	return nil
}

func (p *Pipeline) stageRunMetadata(result *model.RunResult, subjectsProcessed int) error {
	meta := model.RunMetadata{
		RunID:             result.RunID,
		Version:           p.cfg.Pipeline.Version,
		Timestamp:         p.nowFunc(),
		SubjectsProcessed: subjectsProcessed,
		RecordsWritten:    result.RecordsWritten,
		RankingsGenerated: result.RankingsBuilt,
		Successes:         result.Successes,
		Failures:          result.Failures,
		Warnings:          result.Warnings,
	}
	doc, err := toDoc(meta)
	if err != nil {
		return eris.Wrap(err, "pipeline: encode run metadata")
	}
	p.loader.Set(runPathPrefix+result.RunID, doc)
	return nil
}

// toDoc flattens any JSON-encodable value into a document. Going through the
// encoder keeps field names identical to the struct tags everywhere else.
func toDoc(v any) (sink.Doc, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc sink.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
