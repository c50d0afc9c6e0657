// Package estimates manages construction cost documents: bills of quantities, master BOQs,
// cost estimations and project budgets. It wires the line item, roll-up, hierarchy and
// variance calculators into a document lifecycle backed by Postgres, Redis and Asynq.
package estimates

import (
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
	"github.com/odyssey-erp/odyssey-construction/internal/rollup"
	"github.com/odyssey-erp/odyssey-construction/internal/variance"
)

var (
	// ErrUnknownField is returned for a field change nothing reacts to.
	ErrUnknownField = errors.New("estimates: unknown field")
	// ErrInvalidTransition indicates the requested status change is not allowed.
	ErrInvalidTransition = errors.New("estimates: invalid status transition")
	// ErrNotEditable indicates the document is locked by its status.
	ErrNotEditable = errors.New("estimates: document is not editable")
	// ErrSameApprover indicates the preparer tried to approve their own document.
	ErrSameApprover = errors.New("estimates: approver must differ from preparer")
)

// Kind identifies the document type.
type Kind string

const (
	// KindBOQ is a flat bill of quantities.
	KindBOQ Kind = "bill_of_quantities"
	// KindMasterBOQ is a hierarchical BOQ with sections and alternative rates.
	KindMasterBOQ Kind = "master_boq"
	// KindCostEstimation breaks items into direct cost components.
	KindCostEstimation Kind = "cost_estimation"
	// KindProjectBudget allocates a budget across categories.
	KindProjectBudget Kind = "project_budget"
	// KindPreliminaryEstimate prices assemblies from per-unit cost build-ups.
	KindPreliminaryEstimate Kind = "preliminary_estimate"
	// KindDetailedEstimate refines a preliminary estimate with waste and markups.
	KindDetailedEstimate Kind = "detailed_estimate"
	// KindWBS is a work breakdown structure whose rows carry levels.
	KindWBS Kind = "work_breakdown_structure"
)

// Valid reports whether k is a known document kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBOQ, KindMasterBOQ, KindCostEstimation, KindProjectBudget,
		KindPreliminaryEstimate, KindDetailedEstimate, KindWBS:
		return true
	}
	return false
}

// BuildsRates reports whether row rates come from the cost components.
func (k Kind) BuildsRates() bool {
	return k == KindPreliminaryEstimate || k == KindDetailedEstimate
}

// Leveled reports whether parent assignments follow WBS levels.
func (k Kind) Leveled() bool {
	return k == KindWBS
}

// Status enumerates document lifecycle states.
type Status string

const (
	StatusDraft            Status = "Draft"
	StatusInProgress       Status = "In Progress"
	StatusSubmitted        Status = "Submitted"
	StatusUnderReview      Status = "Under Review"
	StatusApproved         Status = "Approved"
	StatusRejected         Status = "Rejected"
	StatusRevisionRequired Status = "Revision Required"
	StatusCompleted        Status = "Completed"
	StatusCancelled        Status = "Cancelled"
)

// Editable reports whether items and settings may still change.
func (s Status) Editable() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusRevisionRequired:
		return true
	}
	return false
}

// BudgetCategory is one allocation line of a project budget.
type BudgetCategory struct {
	Category          string  `json:"category" yaml:"category"`
	Description       string  `json:"description,omitempty" yaml:"description,omitempty"`
	Amount            float64 `json:"amount" yaml:"amount"`
	ActualSpent       float64 `json:"actual_spent" yaml:"actual_spent"`
	PercentageOfTotal float64 `json:"percentage_of_total" yaml:"percentage_of_total"`
	Variance          float64 `json:"variance" yaml:"variance"`
	Remaining         float64 `json:"remaining" yaml:"remaining"`
	PercentageSpent   float64 `json:"percentage_spent" yaml:"percentage_spent"`
}

// BudgetSummary aggregates the categories of a project budget.
type BudgetSummary struct {
	TotalBudgeted      float64        `json:"total_budgeted_amount"`
	TotalActual        float64        `json:"total_actual_spent"`
	TotalVariance      float64        `json:"total_variance"`
	VariancePercentage float64        `json:"variance_percentage"`
	Rows               []variance.Row `json:"rows,omitempty"`
}

// Document is a costing document with its line items and derived totals.
type Document struct {
	ID          string `json:"id" yaml:"id"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Title       string `json:"title" yaml:"title"`
	Project     string `json:"project,omitempty" yaml:"project,omitempty"`
	Currency    string `json:"currency,omitempty" yaml:"currency,omitempty"`
	Status      Status `json:"status" yaml:"status"`
	Revision    int    `json:"revision" yaml:"revision"`
	AmendedFrom string `json:"amended_from,omitempty" yaml:"amended_from,omitempty"`
	// BasedOn is the preliminary estimate a detailed estimate was carried over from.
	BasedOn string `json:"based_on,omitempty" yaml:"based_on,omitempty"`

	Items       []lineitem.LineItem     `json:"items" yaml:"items"`
	Percentages map[rollup.Kind]float64 `json:"percentages,omitempty" yaml:"percentages,omitempty"`
	Categories  []BudgetCategory        `json:"budget_categories,omitempty" yaml:"budget_categories,omitempty"`

	AllowHierarchicalItems     bool `json:"allow_hierarchical_items" yaml:"allow_hierarchical_items"`
	EnableQuantityVerification bool `json:"enable_quantity_verification" yaml:"enable_quantity_verification"`

	// Baseline is the reference figure variance is measured against, such as the
	// estimated cost of a project estimation.
	Baseline    *float64 `json:"estimated_cost,omitempty" yaml:"estimated_cost,omitempty"`
	TotalBudget float64  `json:"total_budget,omitempty" yaml:"total_budget,omitempty"`

	EstimationDate         *time.Time `json:"estimation_date,omitempty" yaml:"estimation_date,omitempty"`
	ExpectedStartDate      *time.Time `json:"expected_start_date,omitempty" yaml:"expected_start_date,omitempty"`
	ExpectedCompletionDate *time.Time `json:"expected_completion_date,omitempty" yaml:"expected_completion_date,omitempty"`

	PreparedBy      string     `json:"prepared_by,omitempty" yaml:"prepared_by,omitempty"`
	SubmittedOn     *time.Time `json:"submitted_on,omitempty" yaml:"submitted_on,omitempty"`
	ApprovedBy      string     `json:"approved_by,omitempty" yaml:"approved_by,omitempty"`
	ApprovedOn      *time.Time `json:"approved_on,omitempty" yaml:"approved_on,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty" yaml:"rejected_by,omitempty"`
	RejectedOn      *time.Time `json:"rejected_on,omitempty" yaml:"rejected_on,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty" yaml:"rejection_reason,omitempty"`
	RevisionNotes   string     `json:"revision_notes,omitempty" yaml:"revision_notes,omitempty"`

	Totals   rollup.Totals      `json:"totals" yaml:"-"`
	Variance *variance.Variance `json:"variance,omitempty" yaml:"-"`
	Budget   *BudgetSummary     `json:"budget,omitempty" yaml:"-"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Clone returns a deep copy. Field changes and lifecycle operations work on clones so the
// caller's document is never modified.
func (d Document) Clone() Document {
	out := d
	if d.Items != nil {
		out.Items = make([]lineitem.LineItem, len(d.Items))
		for i, it := range d.Items {
			out.Items[i] = cloneItem(it)
		}
	}
	if d.Percentages != nil {
		out.Percentages = make(map[rollup.Kind]float64, len(d.Percentages))
		for k, v := range d.Percentages {
			out.Percentages[k] = v
		}
	}
	if d.Categories != nil {
		out.Categories = append([]BudgetCategory(nil), d.Categories...)
	}
	out.Baseline = cloneFloat(d.Baseline)
	out.EstimationDate = cloneTime(d.EstimationDate)
	out.ExpectedStartDate = cloneTime(d.ExpectedStartDate)
	out.ExpectedCompletionDate = cloneTime(d.ExpectedCompletionDate)
	out.SubmittedOn = cloneTime(d.SubmittedOn)
	out.ApprovedOn = cloneTime(d.ApprovedOn)
	out.RejectedOn = cloneTime(d.RejectedOn)
	out.Totals.Adjustments = append([]rollup.AppliedAdjustment(nil), d.Totals.Adjustments...)
	out.Totals.Items = nil
	if d.Variance != nil {
		v := *d.Variance
		out.Variance = &v
	}
	if d.Budget != nil {
		b := *d.Budget
		b.Rows = append([]variance.Row(nil), d.Budget.Rows...)
		out.Budget = &b
	}
	return out
}

// Item returns the index of the row with the given ID.
func (d Document) Item(id string) (int, bool) {
	for i := range d.Items {
		if d.Items[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func cloneItem(it lineitem.LineItem) lineitem.LineItem {
	out := it
	out.Quantity = cloneFloat(it.Quantity)
	out.Rate = cloneFloat(it.Rate)
	for i := range it.AlternativeRates {
		out.AlternativeRates[i] = cloneFloat(it.AlternativeRates[i])
	}
	out.VerifiedOn = cloneTime(it.VerifiedOn)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// CreateInput carries the fields accepted when a document is created.
type CreateInput struct {
	Kind                       Kind                    `json:"kind" yaml:"kind" validate:"required,oneof=bill_of_quantities master_boq cost_estimation project_budget preliminary_estimate detailed_estimate work_breakdown_structure"`
	Title                      string                  `json:"title" yaml:"title" validate:"required,max=140"`
	Project                    string                  `json:"project" yaml:"project" validate:"omitempty,max=140"`
	Currency                   string                  `json:"currency" yaml:"currency" validate:"omitempty,len=3"`
	PreparedBy                 string                  `json:"prepared_by" yaml:"prepared_by"`
	Items                      []lineitem.LineItem     `json:"items" yaml:"items"`
	Percentages                map[rollup.Kind]float64 `json:"percentages" yaml:"percentages"`
	Categories                 []BudgetCategory        `json:"budget_categories" yaml:"budget_categories"`
	AllowHierarchicalItems     bool                    `json:"allow_hierarchical_items" yaml:"allow_hierarchical_items"`
	EnableQuantityVerification bool                    `json:"enable_quantity_verification" yaml:"enable_quantity_verification"`
	Baseline                   *float64                `json:"estimated_cost" yaml:"estimated_cost"`
	TotalBudget                float64                 `json:"total_budget" yaml:"total_budget"`
	EstimationDate             *time.Time              `json:"estimation_date" yaml:"estimation_date"`
	ExpectedStartDate          *time.Time              `json:"expected_start_date" yaml:"expected_start_date"`
	ExpectedCompletionDate     *time.Time              `json:"expected_completion_date" yaml:"expected_completion_date"`
}

// Comparison is an estimate measured against a project budget.
type Comparison struct {
	EstimateID    string            `json:"estimate_id"`
	BudgetID      string            `json:"budget_id"`
	EstimateTotal float64           `json:"estimate_total"`
	BudgetTotal   float64           `json:"budget_total"`
	Variance      variance.Variance `json:"variance"`
	Status        variance.Status   `json:"status"`
	Indicator     string            `json:"indicator"`
}

// ListFilters narrows document listings.
type ListFilters struct {
	Kind   Kind
	Status Status
	Limit  int
	Offset int
}
