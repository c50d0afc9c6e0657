// Package lineitem models a single priced row of a cost document and derives its amounts.
package lineitem

import "time"

// Kind separates priced rows from the section rows that group them.
type Kind string

const (
	// KindItem is a priced row.
	KindItem Kind = "Item"
	// KindSection is a top-level grouping row.
	KindSection Kind = "Section"
	// KindSubsection is a grouping row created below a section.
	KindSubsection Kind = "Subsection"
)

// AlternativeSlots is the number of alternative rates a row can quote.
const AlternativeSlots = 3

// CostComponents breaks a row cost down by category. The breakdown is informational and
// does not have to add up to Amount.
type CostComponents struct {
	Material      float64 `json:"material_cost" yaml:"material_cost"`
	Labor         float64 `json:"labor_cost" yaml:"labor_cost"`
	Equipment     float64 `json:"equipment_cost" yaml:"equipment_cost"`
	Overhead      float64 `json:"overhead_cost" yaml:"overhead_cost"`
	Subcontractor float64 `json:"subcontractor_cost" yaml:"subcontractor_cost"`
}

// Direct returns material + labor + equipment + overhead, the base used for waste.
func (c CostComponents) Direct() float64 {
	return c.Material + c.Labor + c.Equipment + c.Overhead
}

// UnitRate builds a per-unit rate from per-unit components: material with its waste
// allowance, then labor, equipment and subcontractor. Overhead is left to the document
// adjustments.
func (c CostComponents) UnitRate(wastePercentage float64) float64 {
	material := c.Material + c.Material*wastePercentage/100
	return material + c.Labor + c.Equipment + c.Subcontractor
}

// LineItem is one row of a BOQ, estimate or budget.
type LineItem struct {
	ID          string `json:"id" yaml:"id"`
	Code        string `json:"item_code" yaml:"item_code"`
	Name        string `json:"item_name" yaml:"item_name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Unit        string `json:"unit,omitempty" yaml:"unit,omitempty"`
	Kind        Kind   `json:"item_type,omitempty" yaml:"item_type,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`

	Quantity *float64 `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Rate     *float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	Amount   float64  `json:"amount" yaml:"amount"`

	Costs           CostComponents `json:"costs" yaml:"costs"`
	WastePercentage float64        `json:"waste_percentage" yaml:"waste_percentage"`
	TotalCost       float64        `json:"total_cost" yaml:"total_cost"`

	AlternativeRates   [AlternativeSlots]*float64 `json:"alternative_rates" yaml:"alternative_rates"`
	AlternativeAmounts [AlternativeSlots]float64  `json:"alternative_amounts" yaml:"alternative_amounts"`

	IsGroup  bool   `json:"is_group" yaml:"is_group"`
	ParentID string `json:"parent_item,omitempty" yaml:"parent_item,omitempty"`
	// Level is the WBS depth. Only work breakdown documents use it.
	Level int `json:"wbs_level,omitempty" yaml:"wbs_level,omitempty"`

	QuantityVerified bool       `json:"quantity_verified" yaml:"quantity_verified"`
	VerifiedBy       string     `json:"verified_by,omitempty" yaml:"verified_by,omitempty"`
	VerifiedOn       *time.Time `json:"verified_on,omitempty" yaml:"verified_on,omitempty"`
}

// Float returns a pointer to v, for building rows in code.
func Float(v float64) *float64 {
	return &v
}

// Value dereferences a nullable number, treating nil as zero.
func Value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
