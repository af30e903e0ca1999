// Package validate repairs raw upstream records instead of rejecting them.
// Dropping malformed records would silently bias the aggregates, so every
// record survives validation with a quality score and a correction log.
package validate

import (
	"fmt"
	"time"

	"github.com/civicwatch/expense-audit/internal/model"
)

// Symbolic minimum used when no positive amount can be recovered. Downstream
// aggregation assumes amount > 0.
const MinimumAmount = 0.01

const (
	// Labels for fields that could not be recovered at all.
	UnidentifiedCounterparty = "unidentified"
	UnspecifiedCategory      = "unspecified"
)

const minValidYear = 2000

// step is one ordered field repair: check passes untouched records through,
// repair fixes what it can and reports the penalty it charged.
type step struct {
	field  string
	check  func(w *work) bool
	repair func(w *work) (note string, penalty float64)
}

// work carries the record being repaired through the step chain.
type work struct {
	raw model.RawRecord
	out model.ValidatedRecord
	now time.Time
}

// Validator repairs records using an ordered, data-driven step chain.
type Validator struct {
	steps   []step
	nowFunc func() time.Time
}

// New creates a validator with the standard repair chain.
func New() *Validator {
	return &Validator{
		steps: []step{
			{field: "year", check: checkYear, repair: repairYear},
			{field: "month", check: checkMonth, repair: repairMonth},
			{field: "date", check: checkDate, repair: repairDate},
			{field: "amount", check: checkAmount, repair: repairAmount},
			{field: "counterparty", check: checkCounterparty, repair: repairCounterparty},
			{field: "category", check: checkCategory, repair: repairCategory},
		},
		nowFunc: time.Now,
	}
}

// Validate is total: it never fails and never drops a record. Unrecoverable
// fields get their lowest-confidence fallback instead of a discard.
func (v *Validator) Validate(raw model.RawRecord) model.ValidatedRecord {
	w := &work{
		raw: raw,
		now: v.nowFunc(),
		out: model.ValidatedRecord{
			SubjectID:        raw.SubjectID,
			CounterpartyID:   raw.CounterpartyID,
			CounterpartyName: raw.CounterpartyName,
			DocumentID:       raw.DocumentID,
			Year:             raw.Year,
			Month:            raw.Month,
			Amount:           raw.NetAmount,
			Category:         raw.Category,
			QualityScore:     100,
		},
	}

	for _, s := range v.steps {
		if s.check(w) {
			continue
		}
		note, penalty := s.repair(w)
		w.out.QualityScore -= penalty
		w.out.Corrections = append(w.out.Corrections, note)
		w.out.WasCorrected = true
	}

	if w.out.QualityScore < 0 {
		w.out.QualityScore = 0
	}
	if w.out.QualityScore > 100 {
		w.out.QualityScore = 100
	}
	return w.out
}

// parseDocumentDate accepts the date layouts the upstream has been observed
// to emit.
func parseDocumentDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func checkYear(w *work) bool {
	return w.raw.Year >= minValidYear && w.raw.Year <= w.now.Year()
}

func repairYear(w *work) (string, float64) {
	if t, ok := parseDocumentDate(w.raw.DocumentDate); ok {
		y := t.Year()
		if y >= minValidYear && y <= w.now.Year() {
			w.out.Year = y
			return fmt.Sprintf("year %d out of range, derived %d from document date", w.raw.Year, y), 5
		}
	}
	w.out.Year = w.now.Year()
	return fmt.Sprintf("year %d unrecoverable, defaulted to current year %d", w.raw.Year, w.out.Year), 15
}

func checkMonth(w *work) bool {
	return w.raw.Month >= 1 && w.raw.Month <= 12
}

func repairMonth(w *work) (string, float64) {
	if t, ok := parseDocumentDate(w.raw.DocumentDate); ok {
		w.out.Month = int(t.Month())
		return fmt.Sprintf("month %d invalid, derived %d from document date", w.raw.Month, w.out.Month), 5
	}
	w.out.Month = int(w.now.Month())
	return fmt.Sprintf("month %d unrecoverable, defaulted to current month %d", w.raw.Month, w.out.Month), 15
}

func checkDate(w *work) bool {
	t, ok := parseDocumentDate(w.raw.DocumentDate)
	if !ok {
		return false
	}
	if t.Year() < minValidYear || t.Year() > w.now.Year()+1 {
		return false
	}
	w.out.Date = t
	return true
}

func repairDate(w *work) (string, float64) {
	// Year and month are already repaired by the earlier steps; the 15th is
	// a neutral day-of-month.
	if w.out.Year >= minValidYear && w.out.Month >= 1 && w.out.Month <= 12 {
		w.out.Date = time.Date(w.out.Year, time.Month(w.out.Month), 15, 0, 0, 0, 0, time.UTC)
		return fmt.Sprintf("document date %q unparseable, reconstructed %s from year and month",
			w.raw.DocumentDate, w.out.Date.Format("2006-01-02")), 10
	}
	w.out.Date = w.now
	return fmt.Sprintf("document date %q unrecoverable, defaulted to current date", w.raw.DocumentDate), 20
}

func checkAmount(w *work) bool {
	return w.raw.NetAmount > 0
}

func repairAmount(w *work) (string, float64) {
	if w.raw.GrossAmount > 0 {
		w.out.Amount = w.raw.GrossAmount
		return fmt.Sprintf("net amount %.2f invalid, fell back to gross amount %.2f",
			w.raw.NetAmount, w.raw.GrossAmount), 10
	}
	w.out.Amount = MinimumAmount
	return fmt.Sprintf("no positive amount available, used symbolic minimum %.2f", MinimumAmount), 25
}

func checkCounterparty(w *work) bool {
	if collapsed := CleanName(w.raw.CounterpartyName); collapsed != "" {
		w.out.CounterpartyName = collapsed
		return true
	}
	return false
}

func repairCounterparty(w *work) (string, float64) {
	if w.raw.CounterpartyID != "" {
		w.out.CounterpartyName = "supplier " + w.raw.CounterpartyID
		return "counterparty name missing, derived label from identifier", 5
	}
	w.out.CounterpartyName = UnidentifiedCounterparty
	w.out.CounterpartyID = UnidentifiedCounterparty
	return "counterparty unidentifiable, used generic label", 10
}

func checkCategory(w *work) bool {
	if collapsed := CleanName(w.raw.Category); collapsed != "" {
		w.out.Category = collapsed
		return true
	}
	return false
}

func repairCategory(w *work) (string, float64) {
	w.out.Category = UnspecifiedCategory
	return "category missing, used generic label", 5
}
