package estimates

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-construction/internal/hierarchy"
	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
	"github.com/odyssey-erp/odyssey-construction/internal/rollup"
	"github.com/odyssey-erp/odyssey-construction/internal/shared"
)

// EffectKind names a consequence of a field change.
type EffectKind string

const (
	EffectRecalculatedTotals EffectKind = "recalculated_totals"
	EffectVarianceUpdated    EffectKind = "variance_updated"
	EffectIndicator          EffectKind = "indicator"
	EffectFieldReset         EffectKind = "field_reset"
	EffectSuggestStatus      EffectKind = "suggest_status"
)

// SideEffect tells the caller what else changed, for display or follow-up.
type SideEffect struct {
	Kind    EffectKind `json:"kind"`
	Field   string     `json:"field,omitempty"`
	ItemID  string     `json:"item_id,omitempty"`
	Value   string     `json:"value,omitempty"`
	Message string     `json:"message,omitempty"`
}

// FieldChange is a single edit: a document field, or an item field when ItemID is set.
type FieldChange struct {
	Field  string `json:"field" validate:"required"`
	ItemID string `json:"item_id,omitempty"`
	Value  any    `json:"value"`
}

type itemHandler func(c Calculator, doc *Document, idx int, value any) ([]SideEffect, error)

type docHandler func(c Calculator, doc *Document, change FieldChange) ([]SideEffect, error)

var itemFields = map[string]itemHandler{
	"quantity": func(_ Calculator, doc *Document, idx int, value any) ([]SideEffect, error) {
		v, err := toFloat("quantity", value)
		doc.Items[idx].Quantity = v
		return nil, err
	},
	"rate": func(_ Calculator, doc *Document, idx int, value any) ([]SideEffect, error) {
		v, err := toFloat("rate", value)
		doc.Items[idx].Rate = v
		return nil, err
	},
	"alternative_rate_1": alternativeRate(0),
	"alternative_rate_2": alternativeRate(1),
	"alternative_rate_3": alternativeRate(2),
	"material_cost":      costField("material_cost", func(c *lineitem.CostComponents) *float64 { return &c.Material }),
	"labor_cost":         costField("labor_cost", func(c *lineitem.CostComponents) *float64 { return &c.Labor }),
	"equipment_cost":     costField("equipment_cost", func(c *lineitem.CostComponents) *float64 { return &c.Equipment }),
	"overhead_cost":      costField("overhead_cost", func(c *lineitem.CostComponents) *float64 { return &c.Overhead }),
	"subcontractor_cost": costField("subcontractor_cost", func(c *lineitem.CostComponents) *float64 { return &c.Subcontractor }),
	"waste_percentage": func(_ Calculator, doc *Document, idx int, value any) ([]SideEffect, error) {
		v, err := toFloat("waste_percentage", value)
		if err != nil {
			return nil, err
		}
		pct := lineitem.Value(v)
		if err := shared.ValidatePercentage("waste_percentage", pct); err != nil {
			return nil, err
		}
		doc.Items[idx].WastePercentage = pct
		return nil, nil
	},
	"is_group":    setItemGroup,
	"parent_item": setItemParent,
	"wbs_level":   setItemLevel,
}

var docFields = map[string]docHandler{
	"estimated_cost": setBaseline,
	"baseline":       setBaseline,
	"total_budget": func(c Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
		v, err := toFloat(change.Field, change.Value)
		if err != nil {
			return nil, err
		}
		doc.TotalBudget = lineitem.Value(v)
		return c.refresh(doc), nil
	},
	"expected_start_date": func(_ Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
		t, err := toDate(change.Field, change.Value)
		if err != nil {
			return nil, err
		}
		doc.ExpectedStartDate = t
		return nil, shared.ValidateDateOrder("expected_start_date", doc.ExpectedStartDate, "expected_completion_date", doc.ExpectedCompletionDate)
	},
	"expected_completion_date": func(_ Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
		t, err := toDate(change.Field, change.Value)
		if err != nil {
			return nil, err
		}
		doc.ExpectedCompletionDate = t
		return nil, shared.ValidateDateOrder("expected_start_date", doc.ExpectedStartDate, "expected_completion_date", doc.ExpectedCompletionDate)
	},
	"estimation_date": func(c Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
		t, err := toDate(change.Field, change.Value)
		if err != nil {
			return nil, err
		}
		doc.EstimationDate = t
		return nil, shared.ValidateNotFuture("estimation_date", t, c.now())
	},
	"allow_hierarchical_items": func(c Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
		on, err := toBool(change.Field, change.Value)
		if err != nil {
			return nil, err
		}
		if !on && doc.Kind.Leveled() {
			return nil, shared.NewValidationError(change.Field, "a work breakdown structure is always hierarchical")
		}
		doc.AllowHierarchicalItems = on
		var effects []SideEffect
		if !on {
			tree, err := treeOf(*doc)
			if err != nil {
				return nil, err
			}
			tree.ClearHierarchy()
			effects = append(effects, SideEffect{Kind: EffectFieldReset, Field: "parent_item", Message: "hierarchy cleared"})
		}
		return append(effects, c.refresh(doc)...), nil
	},
	"enable_quantity_verification": func(_ Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
		on, err := toBool(change.Field, change.Value)
		doc.EnableQuantityVerification = on
		return nil, err
	},
	"title": func(_ Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
		title, err := toString(change.Field, change.Value)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(title) == "" {
			return nil, shared.NewValidationError("title", "title is required")
		}
		doc.Title = strings.TrimSpace(title)
		return nil, nil
	},
	"status": func(c Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
		status, err := toString(change.Field, change.Value)
		if err != nil {
			return nil, err
		}
		next, err := c.Transition(*doc, Status(status))
		if err != nil {
			return nil, err
		}
		*doc = next
		return nil, nil
	},
	"category_amount":       categoryField(func(cat *BudgetCategory) *float64 { return &cat.Amount }),
	"category_actual_spent": categoryField(func(cat *BudgetCategory) *float64 { return &cat.ActualSpent }),
}

// ApplyFieldChange applies one edit and returns the updated copy of doc with the side
// effects it triggered. On error the original document is returned untouched.
func (c Calculator) ApplyFieldChange(doc Document, change FieldChange) (Document, []SideEffect, error) {
	field := strings.TrimSpace(change.Field)
	change.Field = field

	if handler, ok := itemFields[field]; ok {
		if change.ItemID == "" {
			return doc, nil, shared.NewValidationError("item_id", "%s is an item field and needs an item", field)
		}
		idx, found := doc.Item(change.ItemID)
		if !found {
			return doc, nil, fmt.Errorf("%w: %s", hierarchy.ErrItemNotFound, change.ItemID)
		}
		out := doc.Clone()
		effects, err := handler(c, &out, idx, change.Value)
		if err != nil {
			return doc, nil, err
		}
		return out, append(effects, c.refresh(&out)...), nil
	}

	handler, ok := docFields[field]
	if !ok {
		if _, err := rollup.ParseKind(field); err == nil && strings.HasSuffix(field, "_percentage") {
			handler = setPercentage
			ok = true
		}
	}
	if !ok {
		return doc, nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	out := doc.Clone()
	effects, err := handler(c, &out, change)
	if err != nil {
		return doc, nil, err
	}
	return out, effects, nil
}

// refresh recalculates doc and describes the outcome.
func (c Calculator) refresh(doc *Document) []SideEffect {
	c.Recalculate(doc)
	effects := []SideEffect{{
		Kind:  EffectRecalculatedTotals,
		Field: "grand_total",
		Value: strconv.FormatFloat(doc.Totals.GrandTotal, 'f', -1, 64),
	}}
	if doc.Variance != nil {
		v := doc.Variance
		message := fmt.Sprintf("%s by %.2f (%.2f%%)", v.Status, v.Absolute, v.Percentage)
		if v.BaselineZero {
			message = "no baseline"
		}
		effects = append(effects,
			SideEffect{Kind: EffectVarianceUpdated, Field: "variance", Value: strconv.FormatFloat(v.Absolute, 'f', -1, 64), Message: message},
			SideEffect{Kind: EffectIndicator, Field: "variance", Value: string(v.Status), Message: v.Status.Indicator()},
		)
	}
	return effects
}

func setPercentage(c Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
	kind, err := rollup.ParseKind(change.Field)
	if err != nil {
		return nil, err
	}
	v, err := toFloat(change.Field, change.Value)
	if err != nil {
		return nil, err
	}
	pct := lineitem.Value(v)
	if err := shared.ValidatePercentage(change.Field, pct); err != nil {
		return nil, err
	}
	if doc.Percentages == nil {
		doc.Percentages = make(map[rollup.Kind]float64)
	}
	if v == nil {
		delete(doc.Percentages, kind)
	} else {
		doc.Percentages[kind] = pct
	}
	return c.refresh(doc), nil
}

func setBaseline(c Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
	v, err := toFloat(change.Field, change.Value)
	if err != nil {
		return nil, err
	}
	doc.Baseline = v
	return c.refresh(doc), nil
}

func alternativeRate(slot int) itemHandler {
	return func(_ Calculator, doc *Document, idx int, value any) ([]SideEffect, error) {
		v, err := toFloat(fmt.Sprintf("alternative_rate_%d", slot+1), value)
		doc.Items[idx].AlternativeRates[slot] = v
		return nil, err
	}
}

func costField(field string, pick func(*lineitem.CostComponents) *float64) itemHandler {
	return func(_ Calculator, doc *Document, idx int, value any) ([]SideEffect, error) {
		v, err := toFloat(field, value)
		if err != nil {
			return nil, err
		}
		if lineitem.Value(v) < 0 {
			return nil, shared.NewValidationError(field, "%s cannot be negative", strings.ReplaceAll(field, "_", " "))
		}
		*pick(&doc.Items[idx].Costs) = lineitem.Value(v)
		return nil, nil
	}
}

func categoryField(pick func(*BudgetCategory) *float64) docHandler {
	return func(c Calculator, doc *Document, change FieldChange) ([]SideEffect, error) {
		if change.ItemID == "" {
			return nil, shared.NewValidationError("item_id", "%s needs a category", change.Field)
		}
		v, err := toFloat(change.Field, change.Value)
		if err != nil {
			return nil, err
		}
		if lineitem.Value(v) < 0 {
			return nil, shared.NewValidationError(change.Field, "amount cannot be negative")
		}
		for i := range doc.Categories {
			if doc.Categories[i].Category == change.ItemID {
				*pick(&doc.Categories[i]) = lineitem.Value(v)
				return c.refresh(doc), nil
			}
		}
		return nil, shared.NewValidationError("budget_categories", "category %s not found", change.ItemID)
	}
}

func setItemGroup(_ Calculator, doc *Document, idx int, value any) ([]SideEffect, error) {
	group, err := toBool("is_group", value)
	if err != nil {
		return nil, err
	}
	if group && !doc.AllowHierarchicalItems {
		return nil, shared.NewValidationError("is_group", "enable hierarchical items to create groups")
	}
	tree, err := treeOf(*doc)
	if err != nil {
		return nil, err
	}
	item := doc.Items[idx]
	if !group {
		for _, other := range doc.Items {
			if other.ParentID == item.ID {
				return nil, shared.NewValidationError("is_group", "%s still has child items", item.String())
			}
		}
	}
	if err := tree.SetGroup(item.ID, group); err != nil {
		return nil, err
	}
	if group && item.ParentID != "" {
		return []SideEffect{{Kind: EffectFieldReset, Field: "parent_item", ItemID: item.ID, Message: "group items cannot have a parent"}}, nil
	}
	return nil, nil
}

func setItemParent(_ Calculator, doc *Document, idx int, value any) ([]SideEffect, error) {
	parentID, err := toString("parent_item", value)
	if err != nil {
		return nil, err
	}
	item := doc.Items[idx]
	tree, err := treeOf(*doc)
	if err != nil {
		return nil, err
	}
	if parentID == "" {
		return nil, tree.Outdent([]string{item.ID})
	}
	if !doc.AllowHierarchicalItems {
		return nil, shared.NewValidationError("parent_item", "enable hierarchical items to nest rows")
	}
	if err := tree.SetParent(item.ID, parentID); err != nil {
		return nil, err
	}
	if item.IsGroup {
		return []SideEffect{{Kind: EffectFieldReset, Field: "is_group", ItemID: item.ID, Message: "a nested item cannot be a group"}}, nil
	}
	return nil, nil
}

func setItemLevel(_ Calculator, doc *Document, idx int, value any) ([]SideEffect, error) {
	v, err := toFloat("wbs_level", value)
	if err != nil {
		return nil, err
	}
	level := lineitem.Value(v)
	if level < 0 || level != math.Trunc(level) {
		return nil, shared.NewValidationError("wbs_level", "level must be a whole number of 0 or more")
	}
	doc.Items[idx].Level = int(level)
	tree, err := treeOf(*doc)
	if err != nil {
		return nil, err
	}
	return nil, tree.Validate()
}

func toFloat(field string, value any) (*float64, error) {
	f, err := parseFloat(field, value)
	if err != nil || f == nil {
		return nil, err
	}
	if err := shared.ValidateFinite(field, *f); err != nil {
		return nil, err
	}
	return f, nil
}

func parseFloat(field string, value any) (*float64, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float64:
		return &v, nil
	case float32:
		f := float64(v)
		return &f, nil
	case int:
		f := float64(v)
		return &f, nil
	case int64:
		f := float64(v)
		return &f, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, shared.NewValidationError(field, "%q is not a number", v.String())
		}
		return &f, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, shared.NewValidationError(field, "%q is not a number", v)
		}
		return &f, nil
	default:
		return nil, shared.NewValidationError(field, "unsupported value %v", value)
	}
}

func toBool(field string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, shared.NewValidationError(field, "%q is not a boolean", v)
		}
		return b, nil
	default:
		return false, shared.NewValidationError(field, "unsupported value %v", value)
	}
}

func toString(field string, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", shared.NewValidationError(field, "unsupported value %v", value)
	}
}

func toDate(field string, value any) (*time.Time, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &v, nil
	case *time.Time:
		return cloneTime(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		for _, layout := range []string{"2006-01-02", time.RFC3339} {
			if t, err := time.Parse(layout, s); err == nil {
				return &t, nil
			}
		}
		return nil, shared.NewValidationError(field, "%q is not a date", v)
	default:
		return nil, shared.NewValidationError(field, "unsupported value %v", value)
	}
}
