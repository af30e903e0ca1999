package export

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/civicwatch/expense-audit/internal/model"
)

func sampleRanking() model.RankingList {
	return model.RankingList{
		ID:           "subject_overall",
		Dimension:    model.DimensionSubject,
		SubDimension: "overall",
		Entries: []model.RankingEntry{
			{Rank: 1, EntityID: "s1", DisplayName: "Alice", Metric: 300, Metadata: map[string]any{"score": 55.0, "tier": "suspect"}},
			{Rank: 2, EntityID: "s2", DisplayName: "Bob", Metric: 100},
		},
		TotalItems:  2,
		GeneratedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestWriteRankingsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	stats := model.GlobalStatistics{
		SubjectCount: 2,
		TotalVolume:  400,
		Quartiles:    [3]float64{100, 200, 300},
		GeneratedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, WriteRankingsXLSX(path, []model.RankingList{sampleRanking()}, stats))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	assert.Equal(t, "statistics", f.Sheets[0].Name)

	sheet, ok := f.Sheet["subject_overall"]
	require.True(t, ok)
	// Header plus two entries.
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "rank", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "Alice", sheet.Rows[1].Cells[2].String())
	assert.Equal(t, "suspect", sheet.Rows[1].Cells[5].String())
	assert.Equal(t, "Bob", sheet.Rows[2].Cells[2].String())
}

func TestSheetName_TruncatesLongIDsDistinctly(t *testing.T) {
	a := sheetName("subject_category_combustiveis_e_lubrificantes_year_2025")
	b := sheetName("subject_category_combustiveis_e_lubrificantes_year_2024")

	assert.LessOrEqual(t, len(a), 31)
	assert.LessOrEqual(t, len(b), 31)
	assert.NotEqual(t, a, b)

	assert.Equal(t, "short", sheetName("short"))
}
