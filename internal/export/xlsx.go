// Package export writes run outputs to spreadsheet snapshots for manual
// review. The sink stays the system of record; exports are a convenience.
package export

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/civicwatch/expense-audit/internal/model"
)

// Sheet name length is capped by the format; ids can exceed it.
const maxSheetName = 31

// WriteRankingsXLSX writes one sheet per ranking list plus a statistics
// summary sheet to path.
func WriteRankingsXLSX(path string, rankings []model.RankingList, stats model.GlobalStatistics) error {
	f := xlsx.NewFile()

	if err := addStatsSheet(f, stats); err != nil {
		return err
	}
	for _, list := range rankings {
		if err := addRankingSheet(f, list); err != nil {
			return err
		}
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func addStatsSheet(f *xlsx.File, stats model.GlobalStatistics) error {
	sheet, err := f.AddSheet("statistics")
	if err != nil {
		return eris.Wrap(err, "export: add statistics sheet")
	}

	rows := [][2]any{
		{"subjects", stats.SubjectCount},
		{"counterparties", stats.CounterpartyCount},
		{"records", stats.RecordCount},
		{"total_volume", stats.TotalVolume},
		{"q1", stats.Quartiles[0]},
		{"median", stats.Quartiles[1]},
		{"q3", stats.Quartiles[2]},
		{"concentration_index", stats.ConcentrationIndex},
		{"concentration", string(stats.Concentration)},
		{"generated_at", stats.GeneratedAt.Format("2006-01-02 15:04:05")},
	}
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetValue(r[0])
		row.AddCell().SetValue(r[1])
	}
	return nil
}

func addRankingSheet(f *xlsx.File, list model.RankingList) error {
	sheet, err := f.AddSheet(sheetName(list.ID))
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %s", list.ID)
	}

	header := sheet.AddRow()
	for _, h := range []string{"rank", "entity_id", "name", "amount", "score", "tier"} {
		header.AddCell().Value = h
	}

	for _, e := range list.Entries {
		row := sheet.AddRow()
		row.AddCell().SetInt(e.Rank)
		row.AddCell().Value = e.EntityID
		row.AddCell().Value = e.DisplayName
		row.AddCell().SetFloat(e.Metric)
		if score, ok := e.Metadata["score"].(float64); ok {
			row.AddCell().SetFloat(score)
		} else {
			row.AddCell()
		}
		if tier, ok := e.Metadata["tier"].(string); ok {
			row.AddCell().Value = tier
		}
	}
	return nil
}

// sheetName truncates an id to the format's limit, keeping the tail distinct
// when two long ids share a prefix.
func sheetName(id string) string {
	if len(id) <= maxSheetName {
		return id
	}
	suffix := fmt.Sprintf("~%x", hash(id)%0xFFFF)
	return id[:maxSheetName-len(suffix)] + suffix
}

func hash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
