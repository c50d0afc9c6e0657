package estimates

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-construction/internal/hierarchy"
	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
	"github.com/odyssey-erp/odyssey-construction/internal/rollup"
	"github.com/odyssey-erp/odyssey-construction/internal/shared"
)

func effectOf(effects []SideEffect, kind EffectKind) (SideEffect, bool) {
	for _, e := range effects {
		if e.Kind == kind {
			return e, true
		}
	}
	return SideEffect{}, false
}

func TestApplyFieldQuantityRecalculatesTotals(t *testing.T) {
	calc := testCalculator()
	doc := sampleBOQ()
	calc.Recalculate(&doc)

	out, effects, err := calc.ApplyFieldChange(doc, FieldChange{Field: "quantity", ItemID: "a", Value: 200.0})
	require.NoError(t, err)

	assert.Equal(t, 2500.0, out.Items[1].Amount)
	assert.Equal(t, 5500.0, out.Items[0].Amount)
	assert.Equal(t, 6000.0, out.Totals.GrandTotal)
	effect, ok := effectOf(effects, EffectRecalculatedTotals)
	require.True(t, ok)
	assert.Equal(t, "6000", effect.Value)

	assert.Equal(t, 100.0, *doc.Items[1].Quantity, "input document must not change")
	assert.Equal(t, 4750.0, doc.Totals.GrandTotal)
}

func TestApplyFieldAcceptsTextualNumbers(t *testing.T) {
	calc := testCalculator()
	for _, value := range []any{"40", json.Number("40"), 40} {
		out, _, err := calc.ApplyFieldChange(sampleBOQ(), FieldChange{Field: "rate", ItemID: "c", Value: value})
		require.NoError(t, err)
		assert.Equal(t, 4290.0, out.Totals.GrandTotal)
	}

	_, _, err := calc.ApplyFieldChange(sampleBOQ(), FieldChange{Field: "rate", ItemID: "c", Value: "forty"})
	assert.True(t, shared.IsValidation(err))
}

func TestApplyFieldPercentage(t *testing.T) {
	calc := testCalculator()
	doc := sampleBOQ()
	calc.Recalculate(&doc)

	out, _, err := calc.ApplyFieldChange(doc, FieldChange{Field: "contingency_percentage", Value: 10.0})
	require.NoError(t, err)
	assert.Equal(t, 10.0, out.Percentages[rollup.Contingency])
	assert.Equal(t, 5225.0, out.Totals.GrandTotal)

	same, effects, err := calc.ApplyFieldChange(out, FieldChange{Field: "profit_percentage", Value: 120.0})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Nil(t, effects)
	assert.Equal(t, 5225.0, same.Totals.GrandTotal)
	_, hasProfit := same.Percentages[rollup.Profit]
	assert.False(t, hasProfit)
}

func TestApplyFieldParentCycleLeavesDocumentUnchanged(t *testing.T) {
	calc := testCalculator()
	doc := sampleBOQ()

	out, _, err := calc.ApplyFieldChange(doc, FieldChange{Field: "parent_item", ItemID: "sec", Value: "sec"})
	var cycle *hierarchy.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, "", out.Items[0].ParentID)
	assert.True(t, out.Items[0].IsGroup)

	_, _, err = calc.ApplyFieldChange(doc, FieldChange{Field: "parent_item", ItemID: "a", Value: "c"})
	var invalid *hierarchy.InvalidParentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "sec", doc.Items[1].ParentID)
}

func TestApplyFieldParentRejectsGroupWithChildren(t *testing.T) {
	calc := testCalculator()
	doc := sampleBOQ()
	doc.Items = append(doc.Items, lineitem.LineItem{ID: "sec-2", Code: "3", Name: "Superstructure", Kind: lineitem.KindSection, IsGroup: true})
	calc.Recalculate(&doc)
	before := doc.Totals.GrandTotal

	out, _, err := calc.ApplyFieldChange(doc, FieldChange{Field: "parent_item", ItemID: "sec", Value: "sec-2"})
	var invalid *hierarchy.InvalidParentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "sec", invalid.ItemID)
	assert.True(t, out.Items[0].IsGroup)
	assert.Equal(t, "", out.Items[0].ParentID)
	assert.Equal(t, before, doc.Totals.GrandTotal)
	require.NoError(t, calc.Validate(doc))
}

func TestApplyFieldRejectsNonFiniteNumbers(t *testing.T) {
	cases := []FieldChange{
		{Field: "quantity", ItemID: "a", Value: "Inf"},
		{Field: "rate", ItemID: "c", Value: "NaN"},
		{Field: "rate", ItemID: "c", Value: math.Inf(-1)},
		{Field: "labor_cost", ItemID: "a", Value: math.NaN()},
		{Field: "alternative_rate_2", ItemID: "a", Value: "+Inf"},
		{Field: "profit_percentage", Value: "NaN"},
		{Field: "contingency_percentage", Value: math.NaN()},
		{Field: "estimated_cost", Value: "Infinity"},
	}
	for _, change := range cases {
		t.Run(change.Field, func(t *testing.T) {
			calc := testCalculator()
			doc := sampleBOQ()
			calc.Recalculate(&doc)

			_, _, err := calc.ApplyFieldChange(doc, change)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), "got %v", err)
			assert.Equal(t, 4750.0, doc.Totals.GrandTotal)
		})
	}
}

func TestValidateRejectsNonFiniteInput(t *testing.T) {
	calc := testCalculator()

	doc := sampleBOQ()
	doc.Items[3].Quantity = lineitem.Float(math.Inf(1))
	assert.True(t, shared.IsValidation(calc.Validate(doc)))

	doc = sampleBOQ()
	doc.Percentages = map[rollup.Kind]float64{rollup.Profit: math.NaN()}
	assert.True(t, shared.IsValidation(calc.Validate(doc)))

	doc = sampleBOQ()
	doc.Baseline = lineitem.Float(math.NaN())
	assert.True(t, shared.IsValidation(calc.Validate(doc)))

	budget := sampleBudget()
	budget.Categories[0].ActualSpent = math.Inf(1)
	assert.True(t, shared.IsValidation(calc.Validate(budget)))
}

func TestApplyFieldParentRequiresHierarchy(t *testing.T) {
	doc := sampleBOQ()
	doc.AllowHierarchicalItems = false
	doc.Items[1].ParentID = ""

	_, _, err := testCalculator().ApplyFieldChange(doc, FieldChange{Field: "parent_item", ItemID: "a", Value: "sec"})
	assert.True(t, shared.IsValidation(err))
}

func TestApplyFieldUnknown(t *testing.T) {
	_, _, err := testCalculator().ApplyFieldChange(sampleBOQ(), FieldChange{Field: "colour"})
	assert.True(t, errors.Is(err, ErrUnknownField))

	_, _, err = testCalculator().ApplyFieldChange(sampleBOQ(), FieldChange{Field: "quantity", Value: 1.0})
	assert.True(t, shared.IsValidation(err), "item field without an item")

	_, _, err = testCalculator().ApplyFieldChange(sampleBOQ(), FieldChange{Field: "quantity", ItemID: "zz", Value: 1.0})
	assert.True(t, errors.Is(err, hierarchy.ErrItemNotFound))
}

func TestApplyFieldBaselineReportsIndicator(t *testing.T) {
	calc := testCalculator()
	out, effects, err := calc.ApplyFieldChange(sampleBOQ(), FieldChange{Field: "estimated_cost", Value: 5000.0})
	require.NoError(t, err)
	require.NotNil(t, out.Variance)

	indicator, ok := effectOf(effects, EffectIndicator)
	require.True(t, ok)
	assert.Equal(t, "green", indicator.Message)
	assert.Equal(t, "Under Budget", indicator.Value)

	updated, ok := effectOf(effects, EffectVarianceUpdated)
	require.True(t, ok)
	assert.Equal(t, "-250", updated.Value)

	_, effects, err = calc.ApplyFieldChange(sampleBOQ(), FieldChange{Field: "estimated_cost", Value: 0.0})
	require.NoError(t, err)
	updated, _ = effectOf(effects, EffectVarianceUpdated)
	assert.Equal(t, "no baseline", updated.Message)
}

func TestApplyFieldGroupToggle(t *testing.T) {
	calc := testCalculator()

	_, _, err := calc.ApplyFieldChange(sampleBOQ(), FieldChange{Field: "is_group", ItemID: "sec", Value: false})
	assert.True(t, shared.IsValidation(err), "group with children cannot be ungrouped")

	out, effects, err := calc.ApplyFieldChange(sampleBOQ(), FieldChange{Field: "is_group", ItemID: "a", Value: true})
	require.NoError(t, err)
	assert.True(t, out.Items[1].IsGroup)
	assert.Equal(t, "", out.Items[1].ParentID)
	reset, ok := effectOf(effects, EffectFieldReset)
	require.True(t, ok)
	assert.Equal(t, "parent_item", reset.Field)
	assert.Equal(t, 3500.0, out.Totals.GrandTotal)
}

func TestApplyFieldDisableHierarchy(t *testing.T) {
	out, effects, err := testCalculator().ApplyFieldChange(sampleBOQ(), FieldChange{Field: "allow_hierarchical_items", Value: false})
	require.NoError(t, err)
	for _, it := range out.Items {
		assert.Equal(t, "", it.ParentID)
		assert.False(t, it.IsGroup)
	}
	_, ok := effectOf(effects, EffectFieldReset)
	assert.True(t, ok)
	assert.Equal(t, 4750.0, out.Totals.GrandTotal)
}

func TestApplyFieldRejectsBadValues(t *testing.T) {
	cases := []FieldChange{
		{Field: "waste_percentage", ItemID: "a", Value: 150.0},
		{Field: "material_cost", ItemID: "a", Value: -5.0},
		{Field: "title", Value: "  "},
		{Field: "status", Value: string(StatusSubmitted)},
		{Field: "expected_start_date", Value: "2025-06-01"},
		{Field: "estimation_date", Value: "2030-01-01"},
	}
	for _, change := range cases {
		t.Run(change.Field, func(t *testing.T) {
			doc := sampleBOQ()
			if change.Field == "expected_start_date" {
				end := testNow
				doc.ExpectedCompletionDate = &end
			}
			_, _, err := testCalculator().ApplyFieldChange(doc, change)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}
}

func TestApplyFieldStatusAndCosts(t *testing.T) {
	calc := testCalculator()
	out, _, err := calc.ApplyFieldChange(sampleBOQ(), FieldChange{Field: "status", Value: string(StatusInProgress)})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, out.Status)

	_, _, err = calc.ApplyFieldChange(out, FieldChange{Field: "status", Value: string(StatusApproved)})
	assert.True(t, shared.IsValidation(err))

	out, _, err = calc.ApplyFieldChange(sampleBOQ(), FieldChange{Field: "material_cost", ItemID: "a", Value: 800.0})
	require.NoError(t, err)
	out, _, err = calc.ApplyFieldChange(out, FieldChange{Field: "waste_percentage", ItemID: "a", Value: 5.0})
	require.NoError(t, err)
	assert.Equal(t, 840.0, out.Items[1].TotalCost)
	assert.Equal(t, 800.0, out.Totals.Categories.Material)
}

func TestApplyFieldCategoryAmount(t *testing.T) {
	calc := testCalculator()
	doc := sampleBudget()
	calc.Recalculate(&doc)

	out, _, err := calc.ApplyFieldChange(doc, FieldChange{Field: "category_amount", ItemID: "Labor", Value: 5000.0})
	require.NoError(t, err)
	require.NotNil(t, out.Budget)
	assert.Equal(t, 11000.0, out.Budget.TotalBudgeted)

	_, _, err = calc.ApplyFieldChange(doc, FieldChange{Field: "category_amount", ItemID: "Plant", Value: 1.0})
	assert.True(t, shared.IsValidation(err))
}
