package estimates

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
)

func openWorkbook(t *testing.T, doc Document) *excelize.File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, ExportXLSX(doc, &buf, ExportOptions{Precision: 2}))
	f, err := excelize.OpenReader(&buf, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestExportXLSXIndentsByLevel(t *testing.T) {
	doc := sampleBOQ()
	testCalculator().Recalculate(&doc)
	f := openWorkbook(t, doc)

	cell := func(ref string) string {
		v, err := f.GetCellValue("Items", ref)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "Tower A", cell("A1"))
	assert.Equal(t, "Description", cell("B4"))
	assert.Equal(t, "Substructure", cell("B5"))
	assert.Equal(t, "  Excavation", cell("B6"))
	assert.Equal(t, "  Concrete", cell("B7"))
	assert.Equal(t, "Preliminaries", cell("B8"))
	assert.Equal(t, "4250", cell("F5"))
	assert.Equal(t, "Grand total", cell("E11"))
	assert.Equal(t, "4750", cell("F11"))

	assert.NotContains(t, f.GetSheetList(), "Budget")
}

func TestExportXLSXBudgetSheet(t *testing.T) {
	doc := sampleBudget()
	testCalculator().Recalculate(&doc)
	f := openWorkbook(t, doc)

	require.Contains(t, f.GetSheetList(), "Budget")
	v, err := f.GetCellValue("Budget", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Materials", v)
	v, err = f.GetCellValue("Budget", "F2")
	require.NoError(t, err)
	assert.Equal(t, "110", v)
}

func TestExportXLSXEscapesFormulas(t *testing.T) {
	doc := sampleBOQ()
	doc.Title = "=HYPERLINK(\"x\")"
	doc.Items[3].Name = "+cmd"
	f := openWorkbook(t, doc)

	v, err := f.GetCellValue("Items", "A1")
	require.NoError(t, err)
	assert.Equal(t, "'=HYPERLINK(\"x\")", v)
	v, err = f.GetCellValue("Items", "B8")
	require.NoError(t, err)
	assert.Equal(t, "'+cmd", v)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1,234,567.89", FormatAmount(language.English, 1234567.891, 2))
	assert.Equal(t, "1,234,568", FormatAmount(language.English, 1234567.891, 0))
}
