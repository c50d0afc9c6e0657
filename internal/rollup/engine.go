package rollup

import (
	"sort"

	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
)

// Engine holds roll-up settings. It carries no state between calls.
type Engine struct {
	// Precision is the number of currency decimals; negative disables rounding.
	Precision int
	// IncludeGroups counts group rows in the base and category totals.
	IncludeGroups bool
	// ReturnItems copies the recalculated rows into Totals.Items.
	ReturnItems bool
}

// NewEngine returns an engine rounding to precision decimals.
func NewEngine(precision int) Engine {
	return Engine{Precision: precision}
}

// Recompute is Engine.Recompute with the default precision.
func Recompute(items []lineitem.LineItem, adjustments []Adjustment) Totals {
	return NewEngine(lineitem.DefaultPrecision).Recompute(items, adjustments)
}

// Recompute derives the totals of a flat item list. Inputs are not modified.
func (e Engine) Recompute(items []lineitem.LineItem, adjustments []Adjustment) Totals {
	rows := e.recalculated(items)
	totals := Totals{}
	for _, row := range rows {
		if row.IsGroup && !e.IncludeGroups {
			continue
		}
		totals.ItemCount++
		totals.BaseTotal += row.Amount
		addCategories(&totals.Categories, row.Costs)
	}
	e.finish(&totals, adjustments)
	if e.ReturnItems {
		totals.Items = rows
	}
	return totals
}

// RecomputeHierarchy derives totals for a BOQ with sections. Each group row takes the sum
// of its direct children; the base total is the top-level priced rows plus every group.
// Rows are always returned since group amounts change.
func (e Engine) RecomputeHierarchy(items []lineitem.LineItem, adjustments []Adjustment) Totals {
	rows := e.recalculated(items)
	childSums := make(map[string]float64)
	for _, row := range rows {
		if row.ParentID != "" {
			childSums[row.ParentID] += row.Amount
		}
	}
	totals := Totals{}
	for i := range rows {
		row := &rows[i]
		switch {
		case row.IsGroup:
			row.Amount = e.round(childSums[row.ID])
			totals.BaseTotal += row.Amount
		case row.ParentID == "":
			totals.BaseTotal += row.Amount
		}
		if row.IsGroup && !e.IncludeGroups {
			continue
		}
		totals.ItemCount++
		addCategories(&totals.Categories, row.Costs)
	}
	e.finish(&totals, adjustments)
	totals.Items = rows
	return totals
}

func (e Engine) recalculated(items []lineitem.LineItem) []lineitem.LineItem {
	rows := make([]lineitem.LineItem, len(items))
	copy(rows, items)
	for i := range rows {
		rows[i].Recalculate(e.Precision)
	}
	return rows
}

func (e Engine) finish(totals *Totals, adjustments []Adjustment) {
	totals.BaseTotal = e.round(totals.BaseTotal)
	totals.Categories = CategoryTotals{
		Material:      e.round(totals.Categories.Material),
		Labor:         e.round(totals.Categories.Labor),
		Equipment:     e.round(totals.Categories.Equipment),
		Overhead:      e.round(totals.Categories.Overhead),
		Subcontractor: e.round(totals.Categories.Subcontractor),
	}
	totals.Adjustments = e.apply(totals.BaseTotal, adjustments)
	running := totals.BaseTotal
	for _, adj := range totals.Adjustments {
		totals.AdjustmentTotal += adj.Amount
		running += adj.Amount
	}
	totals.AdjustmentTotal = e.round(totals.AdjustmentTotal)
	totals.GrandTotal = e.round(running)
}

// apply walks the adjustments in canonical order, compounding on the running subtotal.
// Unknown kinds and repeated kinds after the first are ignored.
func (e Engine) apply(base float64, adjustments []Adjustment) []AppliedAdjustment {
	ordered := make([]Adjustment, 0, len(adjustments))
	seen := make(map[Kind]struct{}, len(adjustments))
	for _, adj := range adjustments {
		if rank(adj.Kind) < 0 {
			continue
		}
		if _, dup := seen[adj.Kind]; dup {
			continue
		}
		seen[adj.Kind] = struct{}{}
		ordered = append(ordered, adj)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i].Kind) < rank(ordered[j].Kind)
	})

	applied := make([]AppliedAdjustment, 0, len(ordered))
	running := base
	for _, adj := range ordered {
		amount := 0.0
		if base != 0 {
			amount = e.round(running * adj.Percentage / 100)
		}
		applied = append(applied, AppliedAdjustment{
			Kind:       adj.Kind,
			Percentage: adj.Percentage,
			Base:       running,
			Amount:     amount,
		})
		running = e.round(running + amount)
	}
	return applied
}

func (e Engine) round(v float64) float64 {
	return lineitem.Round(v, e.Precision)
}

func addCategories(dst *CategoryTotals, costs lineitem.CostComponents) {
	dst.Material += costs.Material
	dst.Labor += costs.Labor
	dst.Equipment += costs.Equipment
	dst.Overhead += costs.Overhead
	dst.Subcontractor += costs.Subcontractor
}
