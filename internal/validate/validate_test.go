package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/expense-audit/internal/model"
)

// fixedNow pins the validator clock so defaulted fields are deterministic.
var fixedNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestValidator() *Validator {
	v := New()
	v.nowFunc = func() time.Time { return fixedNow }
	return v
}

func validRecord() model.RawRecord {
	return model.RawRecord{
		SubjectID:        "204534",
		CounterpartyID:   "12345678000190",
		CounterpartyName: "Posto Central Ltda",
		DocumentID:       "7001234",
		DocumentDate:     "2025-03-10",
		Year:             2025,
		Month:            3,
		NetAmount:        150.5,
		GrossAmount:      160,
		Category:         "Fuel",
	}
}

func TestValidate_CleanRecordUntouched(t *testing.T) {
	got := newTestValidator().Validate(validRecord())

	assert.False(t, got.WasCorrected)
	assert.Empty(t, got.Corrections)
	assert.Equal(t, 100.0, got.QualityScore)
	assert.Equal(t, 150.5, got.Amount)
	assert.Equal(t, 2025, got.Year)
	assert.Equal(t, 3, got.Month)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), got.Date)
}

func TestValidate_YearDerivedFromDate(t *testing.T) {
	r := validRecord()
	r.Year = 0

	got := newTestValidator().Validate(r)
	assert.Equal(t, 2025, got.Year)
	assert.True(t, got.WasCorrected)
	assert.Equal(t, 95.0, got.QualityScore)
}

func TestValidate_YearDefaultsToCurrent(t *testing.T) {
	r := validRecord()
	r.Year = 1850
	r.DocumentDate = "garbage"

	got := newTestValidator().Validate(r)
	assert.Equal(t, fixedNow.Year(), got.Year)
	// Year default (15) plus date reconstruction (10).
	assert.Equal(t, 75.0, got.QualityScore)
}

func TestValidate_MonthRepair(t *testing.T) {
	r := validRecord()
	r.Month = 13

	got := newTestValidator().Validate(r)
	assert.Equal(t, 3, got.Month, "month derived from document date")
	assert.Equal(t, 95.0, got.QualityScore)
}

func TestValidate_DateReconstructedMidMonth(t *testing.T) {
	r := validRecord()
	r.DocumentDate = "not a date"

	got := newTestValidator().Validate(r)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), got.Date)
	assert.Equal(t, 90.0, got.QualityScore)
}

func TestValidate_AmountFallsBackToGross(t *testing.T) {
	r := validRecord()
	r.NetAmount = -10

	got := newTestValidator().Validate(r)
	assert.Equal(t, 160.0, got.Amount)
	assert.Equal(t, 90.0, got.QualityScore)
}

func TestValidate_AmountSymbolicMinimum(t *testing.T) {
	r := validRecord()
	r.NetAmount = 0
	r.GrossAmount = 0

	got := newTestValidator().Validate(r)
	assert.Equal(t, MinimumAmount, got.Amount)
	assert.Greater(t, got.Amount, 0.0, "downstream requires positive amounts")
}

func TestValidate_CounterpartyFromID(t *testing.T) {
	r := validRecord()
	r.CounterpartyName = "   "

	got := newTestValidator().Validate(r)
	assert.Equal(t, "supplier 12345678000190", got.CounterpartyName)
}

func TestValidate_CounterpartyUnidentified(t *testing.T) {
	r := validRecord()
	r.CounterpartyName = ""
	r.CounterpartyID = ""

	got := newTestValidator().Validate(r)
	assert.Equal(t, UnidentifiedCounterparty, got.CounterpartyName)
	assert.Equal(t, UnidentifiedCounterparty, got.CounterpartyID)
}

func TestValidate_CategoryDefault(t *testing.T) {
	r := validRecord()
	r.Category = ""

	got := newTestValidator().Validate(r)
	assert.Equal(t, UnspecifiedCategory, got.Category)
}

func TestValidate_DateTimeLayouts(t *testing.T) {
	for _, date := range []string{
		"2025-03-10",
		"2025-03-10T14:30:00",
		"2025-03-10T14:30:00Z",
		"2025-03-10T14:30:00-03:00",
	} {
		r := validRecord()
		r.DocumentDate = date
		got := newTestValidator().Validate(r)
		assert.False(t, got.WasCorrected, "layout %q should parse", date)
	}
}

// Validation is total: no input, however broken, is dropped, and the quality
// score stays within bounds.
func TestValidate_TotalOnWorstCase(t *testing.T) {
	got := newTestValidator().Validate(model.RawRecord{SubjectID: "1"})

	require.NotZero(t, got)
	assert.Equal(t, "1", got.SubjectID)
	assert.Greater(t, got.Amount, 0.0)
	assert.GreaterOrEqual(t, got.QualityScore, 0.0)
	assert.LessOrEqual(t, got.QualityScore, 100.0)
	assert.True(t, got.WasCorrected)
	assert.NotEmpty(t, got.Corrections)
	assert.False(t, got.Date.IsZero())
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "Posto Central", CleanName("  Posto \t Central  "))
	assert.Equal(t, "", CleanName(" \t\n "))
}

func TestNormalizeKey_FoldsAccentsAndCase(t *testing.T) {
	assert.Equal(t, NormalizeKey("José da Silva"), NormalizeKey("JOSE DA SILVA"))
	assert.Equal(t, "ACOUGUE SAO JOAO", NormalizeKey("Açougue   São João"))
	assert.Equal(t, "", NormalizeKey("   "))
}
