package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const boqYAML = `
title: Tower A
kind: bill_of_quantities
allow_hierarchical_items: true
estimated_cost: 5000
percentages:
  contingency: 10
items:
  - id: sec
    item_code: "1"
    item_name: Substructure
    item_type: Section
    is_group: true
  - id: a
    item_code: "1.1"
    item_name: Excavation
    unit: m3
    parent_item: sec
    quantity: 100
    rate: 12.5
  - id: b
    item_code: "1.2"
    item_name: Concrete
    unit: m3
    parent_item: sec
    quantity: 20
    rate: 150
  - id: c
    item_code: "2"
    item_name: Preliminaries
    unit: ls
    quantity: 1
    rate: 500
`

const budgetYAML = `
title: Tower A budget
kind: project_budget
budget_categories:
  - category: Materials
    amount: 6000
    actual_spent: 6600
  - category: Labor
    amount: 4000
    actual_spent: 3000
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--lang", "en"}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestRollupPrintsTotals(t *testing.T) {
	path := writeFile(t, "boq.yaml", boqYAML)

	out, stderr, code := execute(t, "rollup", path)
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, out, "Tower A (bill_of_quantities, rev 1)")
	assert.Contains(t, out, "4,750.00")
	assert.Contains(t, out, "contingency (10.00%)")
	assert.Contains(t, out, "5,225.00")
	assert.Contains(t, out, "Over Budget")
}

func TestRollupJSON(t *testing.T) {
	path := writeFile(t, "boq.yaml", boqYAML)

	out, stderr, code := execute(t, "rollup", "--json", path)
	require.Equal(t, 0, code, stderr)

	var payload struct {
		Totals struct {
			BaseTotal  float64 `json:"base_total"`
			GrandTotal float64 `json:"grand_total"`
		} `json:"totals"`
		Variance struct {
			Absolute float64 `json:"absolute"`
		} `json:"variance"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.InDelta(t, 4750, payload.Totals.BaseTotal, 0.001)
	assert.InDelta(t, 5225, payload.Totals.GrandTotal, 0.001)
	assert.InDelta(t, 225, payload.Variance.Absolute, 0.001)
}

func TestRollupRejectsInvalidDocument(t *testing.T) {
	path := writeFile(t, "bad.yaml", "title: x\nkind: invoice\n")

	_, stderr, code := execute(t, "rollup", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown document kind")
}

func TestRollupRejectsNonFiniteNumbers(t *testing.T) {
	path := writeFile(t, "nan.yaml", "title: x\nitems:\n  - item_name: Slab\n    quantity: .nan\n    rate: 10\n")

	_, stderr, code := execute(t, "rollup", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "finite number")
}

func TestVarianceRejectsNonFiniteFlags(t *testing.T) {
	_, stderr, code := execute(t, "variance", "--actual", "NaN", "--baseline", "1000")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "must be finite")
}

func TestTreeIndentsChildren(t *testing.T) {
	path := writeFile(t, "boq.yaml", boqYAML)

	out, stderr, code := execute(t, "tree", path)
	require.Equal(t, 0, code, stderr)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[1], "Substructure")
	assert.Contains(t, lines[1], "4,250.00")
	assert.Contains(t, lines[2], "  Excavation")
	assert.Contains(t, lines[2], "100 m3")
	assert.Contains(t, lines[5], "5,225.00")
}

func TestVarianceFromFlags(t *testing.T) {
	out, stderr, code := execute(t, "variance", "--actual", "3800", "--baseline", "4000")
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, out, "variance: -200.00")
	assert.Contains(t, out, "percentage: -5.00%")
	assert.Contains(t, out, "Under Budget (green)")
}

func TestVarianceZeroBaseline(t *testing.T) {
	out, stderr, code := execute(t, "variance", "--actual", "100", "--baseline", "0")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "n/a (zero baseline)")
}

func TestVarianceRequiresInput(t *testing.T) {
	_, stderr, code := execute(t, "variance", "--actual", "100")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--baseline")
}

func TestVarianceBudgetCSV(t *testing.T) {
	path := writeFile(t, "budget.yaml", budgetYAML)

	out, stderr, code := execute(t, "variance", path)
	require.Equal(t, 0, code, stderr)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Code", "Name", "Baseline", "Actual", "Variance", "Variance %", "Flagged"}, records[0])
	assert.Equal(t, "Labor", records[1][0])
	assert.Equal(t, "-1000.00", records[1][4])
	assert.Equal(t, "Materials", records[2][0])
	assert.Equal(t, "10.00", records[2][5])
}

func TestVarianceFileWithoutBudget(t *testing.T) {
	path := writeFile(t, "boq.yaml", boqYAML)

	_, stderr, code := execute(t, "variance", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no budget categories")
}

func TestExportWritesWorkbook(t *testing.T) {
	path := writeFile(t, "boq.yaml", boqYAML)
	target := filepath.Join(t.TempDir(), "out", "tower.xlsx")

	out, stderr, code := execute(t, "export", path, "--out", target)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, target, strings.TrimSpace(out))

	f, err := excelize.OpenFile(target)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	title, err := f.GetCellValue("Items", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Tower A", title)
}

func TestExportDefaultsToExportDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EXPORT_DIR", dir)
	path := writeFile(t, "site-works.yaml", boqYAML)

	out, stderr, code := execute(t, "export", path)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, filepath.Join(dir, "site-works.xlsx"), strings.TrimSpace(out))
	_, err := os.Stat(filepath.Join(dir, "site-works.xlsx"))
	require.NoError(t, err)
}

func TestMigrateListDoesNotConnect(t *testing.T) {
	out, stderr, code := execute(t, "migrate", "--list")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, ".sql")
}

func TestPrecisionFlagOverridesConfig(t *testing.T) {
	out, stderr, code := execute(t, "--precision", "0", "variance", "--actual", "3800", "--baseline", "4000")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "variance: -200\n")
}

func TestUnknownLanguageFails(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--lang", "not a tag!", "variance", "--actual", "1", "--baseline", "1"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "parse language")
}

func TestQueueCLIRequiresClient(t *testing.T) {
	var q *queueCLI
	_, err := q.Enqueue(t.Context(), "boq-1", "manual")
	require.Error(t, err)
	_, err = q.Inspect()
	require.Error(t, err)
}
