package lineitem

import (
	"fmt"
	"math"

	"github.com/odyssey-erp/odyssey-construction/internal/shared"
)

// DefaultPrecision is the number of currency decimals used when none is configured.
const DefaultPrecision = 2

// Round rounds v to precision decimal places. A negative precision leaves v untouched.
func Round(v float64, precision int) float64 {
	if precision < 0 {
		return v
	}
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}

// Amount derives quantity * rate. Both inputs must be present and non-zero, otherwise the
// amount is zero.
func Amount(quantity, rate *float64, precision int) float64 {
	if Value(quantity) == 0 || Value(rate) == 0 {
		return 0
	}
	return Round(Value(quantity)*Value(rate), precision)
}

// TotalCost adds the waste allowance on top of the direct cost components.
func TotalCost(costs CostComponents, wastePercentage float64, precision int) float64 {
	base := costs.Direct()
	waste := base * wastePercentage / 100
	return Round(base+waste, precision)
}

// Recalculate refreshes every derived field of the row in place. Group rows keep the
// amount assigned by the hierarchical roll-up.
func (it *LineItem) Recalculate(precision int) {
	if !it.IsGroup {
		it.Amount = Amount(it.Quantity, it.Rate, precision)
	}
	it.TotalCost = TotalCost(it.Costs, it.WastePercentage, precision)
	for i := range it.AlternativeRates {
		it.RecalculateAlternative(i, precision)
	}
}

// BuildRate replaces Rate with the unit rate built from the cost components. Rows with no
// component set keep the rate they were given.
func (it *LineItem) BuildRate(precision int) {
	if it.IsGroup {
		return
	}
	unit := it.Costs.UnitRate(it.WastePercentage)
	if unit == 0 {
		return
	}
	it.Rate = Float(Round(unit, precision))
}

// RecalculateAlternative refreshes one alternative amount (zero-based slot).
func (it *LineItem) RecalculateAlternative(slot, precision int) {
	if slot < 0 || slot >= AlternativeSlots {
		return
	}
	if Value(it.AlternativeRates[slot]) == 0 {
		it.AlternativeAmounts[slot] = 0
		return
	}
	it.AlternativeAmounts[slot] = Round(Value(it.Quantity)*Value(it.AlternativeRates[slot]), precision)
}

// ValidateForEstimate applies the estimate row rules: positive quantity, non-negative rate.
func (it LineItem) ValidateForEstimate() error {
	label := it.Code
	if label == "" {
		label = it.ID
	}
	if Value(it.Quantity) <= 0 {
		return shared.NewValidationError("quantity", "quantity must be greater than 0 for item %s", label)
	}
	if Value(it.Rate) < 0 {
		return shared.NewValidationError("rate", "rate cannot be negative for item %s", label)
	}
	if it.WastePercentage < 0 {
		return shared.NewValidationError("waste_percentage", "waste percentage cannot be negative for item %s", label)
	}
	return nil
}

// String renders a short label for logs.
func (it LineItem) String() string {
	if it.Code != "" {
		return fmt.Sprintf("%s (%s)", it.Name, it.Code)
	}
	return it.Name
}
