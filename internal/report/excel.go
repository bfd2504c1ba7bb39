package report

import (
	"fmt"
	"time"

	"tool-factory/internal/ranker"
	"tool-factory/internal/store"

	"github.com/xuri/excelize/v2"
)

// ExportExcel writes the ranking plus per-tool daily metric rows to an
// xlsx workbook for offline analysis.
func ExportExcel(st *store.Store, ranking []ranker.ToolScore, asOf time.Time, lookbackDays int, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const rankSheet = "Ranking"
	f.SetSheetName("Sheet1", rankSheet)

	headers := []string{"Rank", "Tool", "Status", "Score", "Revenue", "Sales", "Clicks", "Conversions", "CTR", "Conversion Rate"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(rankSheet, cell, h)
	}

	for i, ts := range ranking {
		row := i + 2
		values := []interface{}{
			i + 1, ts.Tool.Slug, ts.Tool.Status,
			ts.Score, ts.Revenue, ts.Sales, ts.Clicks, ts.Conversions,
			ts.CTR, ts.ConversionRate,
		}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, row)
			f.SetCellValue(rankSheet, cell, v)
		}
	}

	const dailySheet = "Daily"
	if _, err := f.NewSheet(dailySheet); err != nil {
		return fmt.Errorf("create daily sheet: %w", err)
	}
	dailyHeaders := []string{"Tool", "Date", "Sales", "Revenue", "Clicks", "Conversions"}
	for i, h := range dailyHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(dailySheet, cell, h)
	}

	from := asOf.AddDate(0, 0, -(lookbackDays - 1))
	row := 2
	for _, ts := range ranking {
		metrics, err := st.GetMetrics(ts.Tool.ID, from, asOf)
		if err != nil {
			return err
		}
		for _, m := range metrics {
			values := []interface{}{ts.Tool.Slug, m.Date, m.Sales, m.Revenue, m.Clicks, m.Conversions}
			for j, v := range values {
				cell, _ := excelize.CoordinatesToCellName(j+1, row)
				f.SetCellValue(dailySheet, cell, v)
			}
			row++
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// FormatText renders the ranking as the analytics_report terminal output.
func FormatText(ranking []ranker.ToolScore, lookbackDays int) string {
	out := fmt.Sprintf("TOOL FACTORY ANALYTICS (last %d days)\n", lookbackDays)
	out += fmt.Sprintf("%-4s %-28s %-10s %8s %10s %7s %8s %6s\n",
		"#", "TOOL", "STATUS", "SCORE", "REVENUE", "SALES", "CLICKS", "CTR")
	for i, ts := range ranking {
		out += fmt.Sprintf("%-4d %-28s %-10s %8.3f %10.2f %7d %8d %6.2f\n",
			i+1, ts.Tool.Slug, ts.Tool.Status, ts.Score, ts.Revenue, ts.Sales, ts.Clicks, ts.CTR)
	}
	if len(ranking) == 0 {
		out += "(no tools yet)\n"
	}
	return out
}
