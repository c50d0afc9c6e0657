package variance

import "fmt"

// ExportRows formats rows into CSV-ready strings.
func ExportRows(rows []Row) [][]string {
	out := make([][]string, 0, len(rows)+1)
	header := []string{"Code", "Name", "Baseline", "Actual", "Variance", "Variance %", "Flagged"}
	out = append(out, header)
	for _, row := range rows {
		pct := fmt.Sprintf("%.2f", row.VariancePct)
		if row.BaselineZero {
			pct = "n/a"
		}
		out = append(out, []string{
			row.Code,
			row.Name,
			fmt.Sprintf("%.2f", row.Baseline),
			fmt.Sprintf("%.2f", row.Actual),
			fmt.Sprintf("%.2f", row.Variance),
			pct,
			fmt.Sprintf("%t", row.Flagged),
		})
	}
	return out
}
