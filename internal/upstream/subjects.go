package upstream

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/civicwatch/expense-audit/internal/cache"
	"github.com/civicwatch/expense-audit/internal/model"
)

// subjectItem mirrors the upstream legislator schema. Optional fields drift
// between legislatures; the validator downstream tolerates gaps.
type subjectItem struct {
	ID     json.Number `json:"id"`
	Name   string      `json:"name"`
	Party  string      `json:"party"`
	Region string      `json:"region"`
	Photo  string      `json:"photo"`
	Email  string      `json:"email"`
	Status string      `json:"status"`
}

func (s subjectItem) toModel() model.Subject {
	return model.Subject{
		ID:     s.ID.String(),
		Name:   s.Name,
		Party:  s.Party,
		Region: s.Region,
		Photo:  s.Photo,
		Email:  s.Email,
		Status: s.Status,
	}
}

// expenseItem mirrors one upstream expense transaction.
type expenseItem struct {
	Year         int         `json:"year"`
	Month        int         `json:"month"`
	DocumentDate string      `json:"documentDate"`
	DocumentID   json.Number `json:"documentId"`
	NetAmount    float64     `json:"netAmount"`
	GrossAmount  float64     `json:"documentAmount"`
	SupplierID   string      `json:"supplierId"`
	SupplierName string      `json:"supplierName"`
	Category     string      `json:"category"`
}

// API wraps the extractor with the legislature endpoints the pipeline needs.
type API struct {
	extractor   *Extractor
	detailCache *cache.Cache[model.Subject]
	detailTTL   time.Duration
}

// NewAPI creates the typed upstream surface.
func NewAPI(extractor *Extractor, detailTTL time.Duration) *API {
	if detailTTL <= 0 {
		detailTTL = 24 * time.Hour
	}
	return &API{
		extractor:   extractor,
		detailCache: cache.New[model.Subject](),
		detailTTL:   detailTTL,
	}
}

// ListSubjects returns every legislator of the given legislature.
func (a *API) ListSubjects(ctx context.Context, legislature string) ([]model.Subject, error) {
	params := url.Values{}
	if legislature != "" {
		params.Set("legislature", legislature)
	}
	items, err := ExtractAll[subjectItem](ctx, a.extractor, "/legislators", params)
	if err != nil {
		return nil, eris.Wrap(err, "upstream: list legislators")
	}
	subjects := make([]model.Subject, 0, len(items))
	for _, it := range items {
		subjects = append(subjects, it.toModel())
	}
	return subjects, nil
}

// GetSubject fetches one legislator's detail record. Lookups are cached and
// de-duplicated; concurrent workers asking for the same subject share one
// upstream call.
func (a *API) GetSubject(ctx context.Context, subjectID string) (model.Subject, error) {
	return a.detailCache.Do(ctx, subjectID, a.detailTTL, func(ctx context.Context) (model.Subject, error) {
		data, found, err := a.extractor.client.Get(ctx, "/legislators/"+subjectID, nil)
		if err != nil {
			return model.Subject{}, err
		}
		if !found {
			return model.Subject{}, eris.Errorf("upstream: legislator %s not found", subjectID)
		}
		var item subjectItem
		if err := json.Unmarshal(data, &item); err != nil {
			return model.Subject{}, eris.Wrapf(err, "upstream: decode legislator %s", subjectID)
		}
		return item.toModel(), nil
	})
}

// InvalidateSubject drops a cached detail record, e.g. after an enrichment
// write changes it.
func (a *API) InvalidateSubject(subjectID string) {
	a.detailCache.Invalidate(subjectID)
}

// ListExpenses returns one subject's raw expense records, preserving
// upstream page order. A zero window fetches everything for the period
// params; a non-empty window issues one paginated walk per month.
func (a *API) ListExpenses(ctx context.Context, subjectID string, window []YearMonth) ([]model.RawRecord, error) {
	endpoint := "/legislators/" + subjectID + "/expenses"

	if len(window) == 0 {
		items, err := ExtractAll[expenseItem](ctx, a.extractor, endpoint, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "upstream: expenses for %s", subjectID)
		}
		return toRawRecords(subjectID, items), nil
	}

	var all []model.RawRecord
	for _, ym := range window {
		params := url.Values{}
		params.Set("year", strconv.Itoa(ym.Year))
		params.Set("month", strconv.Itoa(ym.Month))
		items, err := ExtractAll[expenseItem](ctx, a.extractor, endpoint, params)
		if err != nil {
			return all, eris.Wrapf(err, "upstream: expenses for %s %04d-%02d", subjectID, ym.Year, ym.Month)
		}
		all = append(all, toRawRecords(subjectID, items)...)
	}
	return all, nil
}

func toRawRecords(subjectID string, items []expenseItem) []model.RawRecord {
	records := make([]model.RawRecord, 0, len(items))
	for _, it := range items {
		records = append(records, model.RawRecord{
			SubjectID:        subjectID,
			CounterpartyID:   it.SupplierID,
			CounterpartyName: it.SupplierName,
			DocumentID:       it.DocumentID.String(),
			DocumentDate:     it.DocumentDate,
			Year:             it.Year,
			Month:            it.Month,
			NetAmount:        it.NetAmount,
			GrossAmount:      it.GrossAmount,
			Category:         it.Category,
		})
	}
	return records
}
