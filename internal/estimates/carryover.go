package estimates

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
	"github.com/odyssey-erp/odyssey-construction/internal/rollup"
	"github.com/odyssey-erp/odyssey-construction/internal/shared"
)

const (
	// carriedMaterialWaste is the material waste allowance given to carried-over rows.
	carriedMaterialWaste = 5.0
	// carriedSubcontractorMarkup is added on top of subcontractor cost per unit.
	carriedSubcontractorMarkup = 10.0
	// defaultDivision is used for assembly categories with no CSI division.
	defaultDivision = "01 - General Requirements"
)

// carriedPercentages are the adjustments a detailed estimate inherits.
var carriedPercentages = []rollup.Kind{rollup.Contingency, rollup.Overhead, rollup.Profit}

var csiDivisions = map[string]string{
	"Foundation":            "03 - Concrete",
	"Superstructure":        "05 - Metals",
	"Exterior Enclosure":    "07 - Thermal and Moisture Protection",
	"Roofing":               "07 - Thermal and Moisture Protection",
	"Interior Construction": "09 - Finishes",
	"Stairs":                "05 - Metals",
	"Interior Finishes":     "09 - Finishes",
	"Conveying Systems":     "14 - Conveying Systems",
	"Plumbing":              "15 - Mechanical",
	"HVAC":                  "15 - Mechanical",
	"Fire Protection":       "15 - Mechanical",
	"Electrical":            "16 - Electrical",
	"Equipment":             "11 - Equipment",
	"Furnishings":           "12 - Furnishings",
	"Special Construction":  "13 - Special Construction",
	"Site Preparation":      "02 - Site Construction",
	"Site Improvements":     "02 - Site Construction",
	"Site Utilities":        "02 - Site Construction",
	"General Conditions":    defaultDivision,
}

// CSIDivision maps a preliminary assembly category to its CSI division.
func CSIDivision(category string) string {
	if division, ok := csiDivisions[category]; ok {
		return division
	}
	return defaultDivision
}

// DetailFromPreliminary starts a detailed estimate from a preliminary one. Project,
// contingency, overhead and profit carry over; every priced row becomes a detailed row
// with a material waste allowance and a subcontractor markup. Row IDs are left empty for
// the caller to assign.
func (c Calculator) DetailFromPreliminary(prelim Document, newID string) (Document, error) {
	if prelim.Kind != KindPreliminaryEstimate {
		return Document{}, shared.NewValidationError("based_on", "%s is not a preliminary estimate", prelim.ID)
	}
	if prelim.Status == StatusCancelled {
		return Document{}, fmt.Errorf("%w: %s is cancelled", ErrInvalidTransition, prelim.ID)
	}
	now := c.now()
	out := Document{
		ID:        newID,
		Kind:      KindDetailedEstimate,
		Title:     prelim.Title,
		Project:   prelim.Project,
		Currency:  prelim.Currency,
		Status:    StatusDraft,
		Revision:  1,
		BasedOn:   prelim.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, kind := range carriedPercentages {
		if pct, ok := prelim.Percentages[kind]; ok {
			if out.Percentages == nil {
				out.Percentages = make(map[rollup.Kind]float64)
			}
			out.Percentages[kind] = pct
		}
	}
	for _, it := range prelim.Items {
		if it.IsGroup {
			continue
		}
		out.Items = append(out.Items, detailedRow(it))
	}
	c.Recalculate(&out)
	return out, nil
}

func detailedRow(it lineitem.LineItem) lineitem.LineItem {
	description := it.Description
	if description == "" {
		description = it.Name
	}
	costs := it.Costs
	costs.Subcontractor += costs.Subcontractor * carriedSubcontractorMarkup / 100
	costs.Overhead = 0
	return lineitem.LineItem{
		Code:            "DE-" + truncateRunes(it.Name, 8),
		Name:            it.Name,
		Description:     description,
		Unit:            it.Unit,
		Kind:            lineitem.KindItem,
		Category:        CSIDivision(it.Category),
		Quantity:        cloneFloat(it.Quantity),
		Rate:            cloneFloat(it.Rate),
		Costs:           costs,
		WastePercentage: carriedMaterialWaste,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
