package estimates

import (
	"time"

	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
	"github.com/odyssey-erp/odyssey-construction/internal/rollup"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testCalculator() Calculator {
	return Calculator{Precision: 2, Now: func() time.Time { return testNow }}
}

// sampleBOQ is a sectioned BOQ: Substructure (1250 + 3000) and a top-level 500 row.
func sampleBOQ() Document {
	return Document{
		ID:                     "boq-1",
		Kind:                   KindBOQ,
		Title:                  "Tower A",
		Status:                 StatusDraft,
		Revision:               1,
		AllowHierarchicalItems: true,
		Items: []lineitem.LineItem{
			{ID: "sec", Code: "1", Name: "Substructure", Kind: lineitem.KindSection, IsGroup: true},
			{ID: "a", Code: "1.1", Name: "Excavation", Unit: "m3", ParentID: "sec", Quantity: lineitem.Float(100), Rate: lineitem.Float(12.5)},
			{ID: "b", Code: "1.2", Name: "Concrete", Unit: "m3", ParentID: "sec", Quantity: lineitem.Float(20), Rate: lineitem.Float(150)},
			{ID: "c", Code: "2", Name: "Preliminaries", Unit: "ls", Quantity: lineitem.Float(1), Rate: lineitem.Float(500)},
		},
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}

func sampleBudget() Document {
	return Document{
		ID:       "budget-1",
		Kind:     KindProjectBudget,
		Title:    "Tower A budget",
		Status:   StatusDraft,
		Revision: 1,
		Categories: []BudgetCategory{
			{Category: "Materials", Amount: 6000, ActualSpent: 6600},
			{Category: "Labor", Amount: 4000, ActualSpent: 3000},
		},
	}
}

// samplePreliminary prices two assemblies from per-unit build-ups: 10 x 75 and 5 x 50.
func samplePreliminary() Document {
	return Document{
		ID:       "pre-1",
		Kind:     KindPreliminaryEstimate,
		Title:    "Tower A preliminary",
		Project:  "tower-a",
		Currency: "IDR",
		Status:   StatusApproved,
		Revision: 1,
		Percentages: map[rollup.Kind]float64{
			rollup.Contingency: 10,
			rollup.Escalation:  3,
			rollup.Profit:      5,
		},
		Items: []lineitem.LineItem{
			{ID: "p1", Name: "Pile caps", Unit: "m3", Category: "Foundation", Quantity: lineitem.Float(10),
				Costs: lineitem.CostComponents{Material: 40, Labor: 25, Equipment: 10}},
			{ID: "p2", Name: "Lighting", Unit: "pt", Category: "Electrical", Quantity: lineitem.Float(5),
				Costs: lineitem.CostComponents{Material: 20, Subcontractor: 30}},
		},
	}
}

// sampleWBS is a two-level breakdown: Building (level 1) holding Frame (level 2), plus a
// top-level Landscaping package.
func sampleWBS() Document {
	return Document{
		ID:                     "wbs-1",
		Kind:                   KindWBS,
		Title:                  "Tower A WBS",
		Status:                 StatusDraft,
		Revision:               1,
		AllowHierarchicalItems: true,
		Items: []lineitem.LineItem{
			{ID: "1", Code: "1", Name: "Building", IsGroup: true, Level: 1},
			{ID: "1.1", Code: "1.1", Name: "Frame", ParentID: "1", Level: 2, Quantity: lineitem.Float(1), Rate: lineitem.Float(100)},
			{ID: "2", Code: "2", Name: "Landscaping", Level: 1, Quantity: lineitem.Float(1), Rate: lineitem.Float(40)},
		},
	}
}
