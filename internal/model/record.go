package model

import "time"

// RawRecord is one upstream expense fact, exactly as fetched. It is never
// mutated after extraction; the validator emits a corrected copy instead.
type RawRecord struct {
	SubjectID        string  `json:"subject_id"`
	CounterpartyID   string  `json:"counterparty_id"`
	CounterpartyName string  `json:"counterparty_name"`
	DocumentID       string  `json:"document_id"`
	DocumentDate     string  `json:"document_date"`
	Year             int     `json:"year"`
	Month            int     `json:"month"`
	NetAmount        float64 `json:"net_amount"`
	GrossAmount      float64 `json:"gross_amount"`
	Category         string  `json:"category"`
}

// ValidatedRecord is a RawRecord after field repair. Every downstream
// invariant holds: Amount > 0, Date parseable, Year in range.
type ValidatedRecord struct {
	SubjectID        string    `json:"subject_id"`
	CounterpartyID   string    `json:"counterparty_id"`
	CounterpartyName string    `json:"counterparty_name"`
	DocumentID       string    `json:"document_id"`
	Date             time.Time `json:"date"`
	Year             int       `json:"year"`
	Month            int       `json:"month"`
	Amount           float64   `json:"amount"`
	Category         string    `json:"category"`

	QualityScore float64  `json:"quality_score"`
	Corrections  []string `json:"corrections,omitempty"`
	WasCorrected bool     `json:"was_corrected"`
}

// YearMonth returns the record's period key in YYYY-MM form.
func (r ValidatedRecord) YearMonth() string {
	return PeriodKey(r.Year, r.Month)
}
