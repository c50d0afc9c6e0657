package estimates

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-construction/internal/hierarchy"
	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
)

// ExportOptions controls spreadsheet rendering.
type ExportOptions struct {
	Precision int
	Language  language.Tag
}

// FormatAmount renders v with grouping separators for tag.
func FormatAmount(tag language.Tag, v float64, precision int) string {
	if precision < 0 {
		precision = 2
	}
	return message.NewPrinter(tag).Sprintf(fmt.Sprintf("%%.%df", precision), v)
}

var itemColumns = []string{"A", "B", "C", "D", "E", "F", "G", "H"}

// ExportXLSX writes doc as a workbook: an "Items" sheet with rows indented by depth and the
// adjustment summary, plus a "Budget" sheet for documents with categories.
func ExportXLSX(doc Document, w io.Writer, opts ExportOptions) error {
	if opts.Language == language.Und {
		opts.Language = language.English
	}
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Items"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("set sheet name: %w", err)
	}
	widths := []float64{12, 44, 10, 8, 14, 16, 16, 12}
	for i, col := range itemColumns {
		if err := f.SetColWidth(sheet, col, col, widths[i]); err != nil {
			return fmt.Errorf("set col width %s: %w", col, err)
		}
	}

	styles, err := newExportStyles(f, opts.Precision)
	if err != nil {
		return err
	}

	last := itemColumns[len(itemColumns)-1]
	if err := f.MergeCell(sheet, "A1", last+"1"); err != nil {
		return fmt.Errorf("merge title: %w", err)
	}
	f.SetCellValue(sheet, "A1", sanitizeCell(doc.Title))
	f.SetCellStyle(sheet, "A1", last+"1", styles.title)
	f.SetCellValue(sheet, "A2", fmt.Sprintf("%s rev %d, %s", kindLabel(doc.Kind), doc.Revision, doc.Status))

	headers := []string{"Code", "Description", "Qty", "Unit", "Rate", "Amount", "Total Cost", "Verified"}
	for i, h := range headers {
		f.SetCellValue(sheet, itemColumns[i]+"4", h)
	}
	f.SetCellStyle(sheet, "A4", last+"4", styles.header)

	tree, err := hierarchy.FromSlice(doc.Clone().Items)
	if err != nil {
		return fmt.Errorf("export rows: %w", err)
	}
	row := 5
	tree.Walk(func(it *lineitem.LineItem, level int) {
		r := fmt.Sprint(row)
		f.SetCellValue(sheet, "A"+r, sanitizeCell(it.Code))
		f.SetCellValue(sheet, "B"+r, sanitizeCell(strings.Repeat("  ", level)+it.Name))
		if it.Quantity != nil {
			f.SetCellValue(sheet, "C"+r, *it.Quantity)
		}
		f.SetCellValue(sheet, "D"+r, sanitizeCell(it.Unit))
		if it.Rate != nil {
			f.SetCellValue(sheet, "E"+r, *it.Rate)
		}
		f.SetCellValue(sheet, "F"+r, it.Amount)
		f.SetCellValue(sheet, "G"+r, it.TotalCost)
		if doc.EnableQuantityVerification && !it.IsGroup {
			f.SetCellValue(sheet, "H"+r, yesNo(it.QuantityVerified))
		}
		style := styles.item
		if it.IsGroup {
			style = styles.group
		}
		f.SetCellStyle(sheet, "A"+r, last+r, style)
		row++
	})

	row++
	summary := [][2]any{{"Base total", doc.Totals.BaseTotal}}
	for _, adj := range doc.Totals.Adjustments {
		label := fmt.Sprintf("%s (%s%%)", humanizeKind(string(adj.Kind)), FormatAmount(opts.Language, adj.Percentage, 2))
		summary = append(summary, [2]any{label, adj.Amount})
	}
	summary = append(summary, [2]any{"Grand total", doc.Totals.GrandTotal})
	if doc.Variance != nil {
		summary = append(summary, [2]any{"Variance vs " + FormatAmount(opts.Language, doc.Variance.Baseline, opts.Precision), doc.Variance.Absolute})
	}
	for _, line := range summary {
		r := fmt.Sprint(row)
		f.SetCellValue(sheet, "E"+r, line[0])
		f.SetCellStyle(sheet, "E"+r, "E"+r, styles.label)
		f.SetCellValue(sheet, "F"+r, line[1])
		f.SetCellStyle(sheet, "F"+r, "F"+r, styles.total)
		row++
	}

	if doc.Budget != nil {
		if err := writeBudgetSheet(f, doc, styles); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write excel: %w", err)
	}
	return nil
}

func writeBudgetSheet(f *excelize.File, doc Document, styles exportStyles) error {
	const sheet = "Budget"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("new budget sheet: %w", err)
	}
	cols := []string{"A", "B", "C", "D", "E", "F"}
	if err := f.SetColWidth(sheet, "A", "B", 28); err != nil {
		return fmt.Errorf("set budget width: %w", err)
	}
	headers := []string{"Category", "Description", "Budgeted", "Actual", "Variance", "Spent %"}
	for i, h := range headers {
		f.SetCellValue(sheet, cols[i]+"1", h)
	}
	f.SetCellStyle(sheet, "A1", "F1", styles.header)
	row := 2
	for _, cat := range doc.Categories {
		r := fmt.Sprint(row)
		f.SetCellValue(sheet, "A"+r, sanitizeCell(cat.Category))
		f.SetCellValue(sheet, "B"+r, sanitizeCell(cat.Description))
		f.SetCellValue(sheet, "C"+r, cat.Amount)
		f.SetCellValue(sheet, "D"+r, cat.ActualSpent)
		f.SetCellValue(sheet, "E"+r, cat.Variance)
		f.SetCellValue(sheet, "F"+r, cat.PercentageSpent)
		f.SetCellStyle(sheet, "A"+r, "F"+r, styles.item)
		row++
	}

	row++
	for i, h := range []string{"Code", "Category", "Baseline", "Actual", "Variance", "Variance %", "Flagged"} {
		f.SetCellValue(sheet, string(rune('A'+i))+fmt.Sprint(row), h)
	}
	f.SetCellStyle(sheet, "A"+fmt.Sprint(row), "G"+fmt.Sprint(row), styles.header)
	row++
	for _, v := range doc.Budget.Rows {
		r := fmt.Sprint(row)
		f.SetCellValue(sheet, "A"+r, sanitizeCell(v.Code))
		f.SetCellValue(sheet, "B"+r, sanitizeCell(v.Name))
		f.SetCellValue(sheet, "C"+r, v.Baseline)
		f.SetCellValue(sheet, "D"+r, v.Actual)
		f.SetCellValue(sheet, "E"+r, v.Variance)
		if v.BaselineZero {
			f.SetCellValue(sheet, "F"+r, "n/a")
		} else {
			f.SetCellValue(sheet, "F"+r, v.VariancePct)
		}
		f.SetCellValue(sheet, "G"+r, yesNo(v.Flagged))
		f.SetCellStyle(sheet, "A"+r, "G"+r, styles.item)
		row++
	}
	return nil
}

type exportStyles struct {
	title, header, group, item, label, total int
}

func newExportStyles(f *excelize.File, precision int) (exportStyles, error) {
	numFmt := "#,##0"
	if precision > 0 {
		numFmt += "." + strings.Repeat("0", precision)
	}
	var s exportStyles
	specs := []struct {
		dst   *int
		name  string
		style *excelize.Style
	}{
		{&s.title, "title", &excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}}},
		{&s.header, "header", &excelize.Style{
			Font:      &excelize.Font{Bold: true, Color: "#FFFFFF", Size: 11},
			Fill:      excelize.Fill{Type: "pattern", Color: []string{"#333333"}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
			Border:    thinBorders(),
		}},
		{&s.group, "group", &excelize.Style{Font: &excelize.Font{Bold: true, Size: 10}, Border: thinBorders(), CustomNumFmt: &numFmt}},
		{&s.item, "item", &excelize.Style{Font: &excelize.Font{Size: 10}, Border: thinBorders(), CustomNumFmt: &numFmt}},
		{&s.label, "label", &excelize.Style{Font: &excelize.Font{Bold: true}, Alignment: &excelize.Alignment{Horizontal: "right"}}},
		{&s.total, "total", &excelize.Style{Font: &excelize.Font{Bold: true}, CustomNumFmt: &numFmt}},
	}
	for _, spec := range specs {
		id, err := f.NewStyle(spec.style)
		if err != nil {
			return s, fmt.Errorf("create %s style: %w", spec.name, err)
		}
		*spec.dst = id
	}
	return s, nil
}

// sanitizeCell stops spreadsheet apps from evaluating user text as a formula.
func sanitizeCell(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r', '|':
		return "'" + s
	}
	return s
}

func thinBorders() []excelize.Border {
	sides := []string{"left", "top", "bottom", "right"}
	borders := make([]excelize.Border, len(sides))
	for i, side := range sides {
		borders[i] = excelize.Border{Type: side, Color: "#000000", Style: 1}
	}
	return borders
}

func kindLabel(kind Kind) string {
	switch kind {
	case KindBOQ:
		return "Bill of Quantities"
	case KindMasterBOQ:
		return "Master BOQ"
	case KindCostEstimation:
		return "Cost Estimation"
	case KindProjectBudget:
		return "Project Budget"
	case KindPreliminaryEstimate:
		return "Preliminary Estimate"
	case KindDetailedEstimate:
		return "Detailed Estimate"
	case KindWBS:
		return "Work Breakdown Structure"
	}
	return string(kind)
}

func humanizeKind(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
