package estimates

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-construction/internal/hierarchy"
	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
	"github.com/odyssey-erp/odyssey-construction/internal/rollup"
	"github.com/odyssey-erp/odyssey-construction/internal/shared"
	"github.com/odyssey-erp/odyssey-construction/internal/variance"
)

// Calculator derives document values. The zero value rounds to two decimals and uses the
// wall clock.
type Calculator struct {
	Precision int
	Now       func() time.Time
}

// NewCalculator returns a calculator rounding to precision decimals.
func NewCalculator(precision int) Calculator {
	return Calculator{Precision: precision, Now: time.Now}
}

func (c Calculator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Recalculate refreshes every derived value of doc: row amounts, section sums, totals,
// budget summary and variance against the baseline.
func (c Calculator) Recalculate(doc *Document) {
	if doc.Kind.BuildsRates() {
		for i := range doc.Items {
			doc.Items[i].BuildRate(c.Precision)
		}
	}
	engine := rollup.NewEngine(c.Precision)
	engine.ReturnItems = true
	adjustments := rollup.AdjustmentsFromPercentages(doc.Percentages)

	var totals rollup.Totals
	if doc.AllowHierarchicalItems {
		totals = engine.RecomputeHierarchy(doc.Items, adjustments)
	} else {
		totals = engine.Recompute(doc.Items, adjustments)
	}
	if totals.Items != nil {
		doc.Items = totals.Items
	}
	totals.Items = nil
	doc.Totals = totals

	doc.Budget = nil
	if len(doc.Categories) > 0 {
		summary := c.summarizeBudget(doc)
		doc.Budget = &summary
	}

	doc.Variance = nil
	if doc.Baseline != nil {
		v := compare(doc.Totals.GrandTotal, *doc.Baseline)
		doc.Variance = &v
	}
}

// summarizeBudget fills the per-category figures and totals of a project budget.
func (c Calculator) summarizeBudget(doc *Document) BudgetSummary {
	round := func(v float64) float64 { return lineitem.Round(v, c.Precision) }

	reference := doc.TotalBudget
	if reference <= 0 {
		for _, cat := range doc.Categories {
			reference += cat.Amount
		}
	}

	summary := BudgetSummary{}
	planned := make(map[string]variance.Balance, len(doc.Categories))
	spent := make(map[string]variance.Balance, len(doc.Categories))
	for i := range doc.Categories {
		cat := &doc.Categories[i]
		cat.PercentageOfTotal = 0
		if reference != 0 {
			cat.PercentageOfTotal = round(cat.Amount / reference * 100)
		}
		cat.Variance = round(cat.ActualSpent - cat.Amount)
		cat.Remaining = round(cat.Amount - cat.ActualSpent)
		cat.PercentageSpent = 0
		if cat.Amount != 0 {
			cat.PercentageSpent = round(cat.ActualSpent / cat.Amount * 100)
		}
		summary.TotalBudgeted += cat.Amount
		summary.TotalActual += cat.ActualSpent
		summary.TotalVariance += cat.Variance

		prev := planned[cat.Category]
		planned[cat.Category] = variance.Balance{Name: cat.Category, Amount: prev.Amount + cat.Amount}
		prevSpent := spent[cat.Category]
		spent[cat.Category] = variance.Balance{Name: cat.Category, Amount: prevSpent.Amount + cat.ActualSpent}
	}
	summary.TotalBudgeted = round(summary.TotalBudgeted)
	summary.TotalActual = round(summary.TotalActual)
	summary.TotalVariance = round(summary.TotalVariance)
	if summary.TotalBudgeted != 0 {
		summary.VariancePercentage = round(summary.TotalVariance / summary.TotalBudgeted * 100)
	}
	summary.Rows = variance.ComputeRows(planned, spent, nil, nil)
	return summary
}

// compare measures actual against baseline. A zero baseline is reported through
// BaselineZero on the result.
func compare(actual, baseline float64) variance.Variance {
	v, err := variance.Compute(actual, baseline)
	if err != nil && !errors.Is(err, variance.ErrZeroBaseline) {
		return variance.Variance{Actual: actual, Baseline: baseline}
	}
	return v
}

// Validate runs the save-time checks of a document.
func (c Calculator) Validate(doc Document) error {
	if !doc.Kind.Valid() {
		return shared.NewValidationError("kind", "unknown document kind %q", doc.Kind)
	}
	if err := shared.ValidateDateOrder("expected_start_date", doc.ExpectedStartDate, "expected_completion_date", doc.ExpectedCompletionDate); err != nil {
		return err
	}
	if err := shared.ValidateNotFuture("estimation_date", doc.EstimationDate, c.now()); err != nil {
		return err
	}
	if err := validateNumbers(doc); err != nil {
		return err
	}
	for kind := range doc.Percentages {
		if _, err := rollup.ParseKind(string(kind)); err != nil {
			return shared.NewValidationError("percentages", "%v", err)
		}
	}
	if err := rollup.ValidateAdjustments(rollup.AdjustmentsFromPercentages(doc.Percentages)); err != nil {
		return err
	}
	if doc.Kind.Leveled() && !doc.AllowHierarchicalItems {
		return shared.NewValidationError("allow_hierarchical_items", "a work breakdown structure is always hierarchical")
	}
	if doc.AllowHierarchicalItems {
		tree, err := treeOf(doc)
		if err != nil {
			return err
		}
		if err := tree.Validate(); err != nil {
			return err
		}
	} else {
		for _, it := range doc.Items {
			if it.ParentID != "" {
				return shared.NewValidationError("parent_item", "hierarchical items are disabled but %s has a parent", it.String())
			}
		}
	}
	if doc.Kind == KindCostEstimation {
		for _, it := range doc.Items {
			if it.IsGroup {
				continue
			}
			if err := it.ValidateForEstimate(); err != nil {
				return err
			}
		}
	}
	for _, cat := range doc.Categories {
		if cat.Category == "" {
			return shared.NewValidationError("budget_categories", "category name is required")
		}
		if cat.Amount < 0 || cat.ActualSpent < 0 {
			return shared.NewValidationError("budget_categories", "amounts for %s cannot be negative", cat.Category)
		}
	}
	return nil
}

// validateNumbers rejects NaN and infinite inputs before they reach the totals.
func validateNumbers(doc Document) error {
	type number struct {
		field string
		value *float64
	}
	for _, it := range doc.Items {
		numbers := []number{
			{"quantity", it.Quantity},
			{"rate", it.Rate},
			{"material_cost", &it.Costs.Material},
			{"labor_cost", &it.Costs.Labor},
			{"equipment_cost", &it.Costs.Equipment},
			{"overhead_cost", &it.Costs.Overhead},
			{"subcontractor_cost", &it.Costs.Subcontractor},
			{"waste_percentage", &it.WastePercentage},
		}
		for i, alt := range it.AlternativeRates {
			numbers = append(numbers, number{fmt.Sprintf("alternative_rate_%d", i+1), alt})
		}
		for _, n := range numbers {
			if n.value == nil {
				continue
			}
			if err := shared.ValidateFinite(n.field, *n.value); err != nil {
				return err
			}
		}
	}
	for kind, pct := range doc.Percentages {
		if err := shared.ValidatePercentage(string(kind)+"_percentage", pct); err != nil {
			return err
		}
	}
	if doc.Baseline != nil {
		if err := shared.ValidateFinite("estimated_cost", *doc.Baseline); err != nil {
			return err
		}
	}
	if err := shared.ValidateFinite("total_budget", doc.TotalBudget); err != nil {
		return err
	}
	for _, cat := range doc.Categories {
		if err := shared.ValidateFinite("budget_categories", cat.Amount); err != nil {
			return err
		}
		if err := shared.ValidateFinite("budget_categories", cat.ActualSpent); err != nil {
			return err
		}
	}
	return nil
}

// checkIntegrity is the guard run before any edited document is stored: numbers are
// finite and, for hierarchical documents, the tree is well formed.
func (c Calculator) checkIntegrity(doc Document) error {
	if err := validateNumbers(doc); err != nil {
		return err
	}
	if !doc.AllowHierarchicalItems {
		return nil
	}
	tree, err := treeOf(doc)
	if err != nil {
		return err
	}
	return tree.Validate()
}

// treeOf builds a tree over the rows of doc, so edits land in doc.Items. Work breakdown
// documents also get their levels enforced.
func treeOf(doc Document) (*hierarchy.Tree, error) {
	tree, err := hierarchy.FromSlice(doc.Items)
	if err != nil {
		return nil, err
	}
	if doc.Kind.Leveled() {
		tree.EnforceLevels()
	}
	return tree, nil
}

// VerifyQuantity marks a row's quantity as checked (or unchecked) by actor.
func (c Calculator) VerifyQuantity(doc Document, itemID, actor string, verified bool) (Document, error) {
	if !doc.EnableQuantityVerification {
		return doc, shared.NewValidationError("enable_quantity_verification", "quantity verification is not enabled for this document")
	}
	if verified && actor == "" {
		return doc, shared.NewValidationError("verified_by", "verifier is required")
	}
	idx, ok := doc.Item(itemID)
	if !ok {
		return doc, fmt.Errorf("%w: %s", hierarchy.ErrItemNotFound, itemID)
	}
	out := doc.Clone()
	item := &out.Items[idx]
	item.QuantityVerified = verified
	if verified {
		now := c.now()
		item.VerifiedBy = actor
		item.VerifiedOn = &now
	} else {
		item.VerifiedBy = ""
		item.VerifiedOn = nil
	}
	return out, nil
}

// CompareWithBudget measures an estimate's grand total against a project budget.
func CompareWithBudget(estimate, budget Document) (Comparison, error) {
	if budget.Kind != KindProjectBudget {
		return Comparison{}, shared.NewValidationError("budget", "%s is not a project budget", budget.ID)
	}
	budgetTotal := budget.TotalBudget
	if budget.Budget != nil && budget.Budget.TotalBudgeted != 0 {
		budgetTotal = budget.Budget.TotalBudgeted
	}
	if budgetTotal == 0 {
		budgetTotal = budget.Totals.GrandTotal
	}
	v := compare(estimate.Totals.GrandTotal, budgetTotal)
	return Comparison{
		EstimateID:    estimate.ID,
		BudgetID:      budget.ID,
		EstimateTotal: estimate.Totals.GrandTotal,
		BudgetTotal:   budgetTotal,
		Variance:      v,
		Status:        v.Status,
		Indicator:     v.Status.Indicator(),
	}, nil
}

// SuggestCompletion proposes closing a priced BOQ that is still being worked on.
func SuggestCompletion(doc Document) (SideEffect, bool) {
	if doc.Kind != KindBOQ && doc.Kind != KindMasterBOQ {
		return SideEffect{}, false
	}
	if doc.Status != StatusDraft && doc.Status != StatusInProgress {
		return SideEffect{}, false
	}
	if doc.Totals.GrandTotal <= 0 {
		return SideEffect{}, false
	}
	return SideEffect{
		Kind:    EffectSuggestStatus,
		Field:   "status",
		Value:   string(StatusCompleted),
		Message: "BOQ has been priced. Consider marking it as Completed.",
	}, true
}
