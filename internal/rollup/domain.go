// Package rollup aggregates line items into document totals and applies the percentage
// adjustments of a cost document.
package rollup

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
	"github.com/odyssey-erp/odyssey-construction/internal/shared"
)

// Kind names a percentage adjustment.
type Kind string

const (
	// Contingency covers unforeseen scope.
	Contingency Kind = "contingency"
	// Escalation covers price movement until execution.
	Escalation Kind = "escalation"
	// Overhead covers indirect company cost.
	Overhead Kind = "overhead"
	// Profit is the contractor margin.
	Profit Kind = "profit"
	// RiskContingency covers identified project risks.
	RiskContingency Kind = "risk_contingency"
)

// Order is the sequence adjustments compound in. Each one is computed on the subtotal that
// already includes every adjustment before it.
var Order = []Kind{Contingency, Escalation, Overhead, Profit, RiskContingency}

// Adjustment is a configured percentage for one kind.
type Adjustment struct {
	Kind       Kind    `json:"kind" yaml:"kind"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

// AppliedAdjustment records how an adjustment was computed.
type AppliedAdjustment struct {
	Kind       Kind    `json:"kind"`
	Percentage float64 `json:"percentage"`
	Base       float64 `json:"base"`
	Amount     float64 `json:"amount"`
}

// CategoryTotals sums cost components per category.
type CategoryTotals struct {
	Material      float64 `json:"material"`
	Labor         float64 `json:"labor"`
	Equipment     float64 `json:"equipment"`
	Overhead      float64 `json:"overhead"`
	Subcontractor float64 `json:"subcontractor"`
}

// Totals is the derived summary of a document. It is always recomputed, never edited.
type Totals struct {
	ItemCount       int                 `json:"item_count"`
	BaseTotal       float64             `json:"base_total"`
	Categories      CategoryTotals      `json:"categories"`
	Adjustments     []AppliedAdjustment `json:"adjustments"`
	AdjustmentTotal float64             `json:"adjustment_total"`
	GrandTotal      float64             `json:"grand_total"`
	Items           []lineitem.LineItem `json:"items,omitempty"`
}

// Adjustment returns the applied adjustment of the given kind, if any.
func (t Totals) Adjustment(kind Kind) (AppliedAdjustment, bool) {
	for _, adj := range t.Adjustments {
		if adj.Kind == kind {
			return adj, true
		}
	}
	return AppliedAdjustment{}, false
}

// AdjustmentsFromPercentages builds the canonical adjustment list from per-kind
// percentages. Kinds missing from the map are skipped.
func AdjustmentsFromPercentages(pcts map[Kind]float64) []Adjustment {
	out := make([]Adjustment, 0, len(Order))
	for _, kind := range Order {
		pct, ok := pcts[kind]
		if !ok {
			continue
		}
		out = append(out, Adjustment{Kind: kind, Percentage: pct})
	}
	return out
}

// ValidateAdjustments rejects unknown kinds, duplicates and percentages outside 0..100.
func ValidateAdjustments(adjustments []Adjustment) error {
	seen := make(map[Kind]struct{}, len(adjustments))
	for _, adj := range adjustments {
		if rank(adj.Kind) < 0 {
			return shared.NewValidationError(string(adj.Kind), "unknown adjustment %q", adj.Kind)
		}
		if _, dup := seen[adj.Kind]; dup {
			return shared.NewValidationError(string(adj.Kind), "adjustment %s configured twice", adj.Kind)
		}
		seen[adj.Kind] = struct{}{}
		if err := shared.ValidatePercentage(string(adj.Kind)+"_percentage", adj.Percentage); err != nil {
			return err
		}
	}
	return nil
}

func rank(kind Kind) int {
	for i, k := range Order {
		if k == kind {
			return i
		}
	}
	return -1
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind maps a field name such as "profit_percentage" or "profit" to a Kind.
func ParseKind(name string) (Kind, error) {
	for _, k := range Order {
		if name == string(k) || name == string(k)+"_percentage" {
			return k, nil
		}
	}
	return "", fmt.Errorf("rollup: unknown adjustment %q", name)
}
