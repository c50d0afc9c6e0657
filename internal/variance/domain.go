// Package variance compares computed totals against a baseline such as an estimate or a
// budget.
package variance

import "errors"

// ErrZeroBaseline is returned when the baseline is zero and no percentage exists. The
// accompanying Variance is still usable: Absolute is set, Percentage is 0 and BaselineZero
// is true. Callers treat it as "no baseline", never as a failure.
var ErrZeroBaseline = errors.New("variance: baseline is zero")

// ErrNotFinite is returned when the actual or the baseline is NaN or infinite.
var ErrNotFinite = errors.New("variance: actual and baseline must be finite")

// Status classifies a variance from the baseline's point of view.
type Status string

const (
	// StatusOver means the actual exceeds the baseline.
	StatusOver Status = "Over Budget"
	// StatusUnder means the actual is below the baseline.
	StatusUnder Status = "Under Budget"
	// StatusOn means actual and baseline match.
	StatusOn Status = "On Budget"
)

// Indicator maps a status to the dashboard colour used by the UI layer.
func (s Status) Indicator() string {
	switch s {
	case StatusOver:
		return "red"
	case StatusUnder:
		return "green"
	default:
		return "blue"
	}
}

// Variance is the signed difference between an actual and a baseline. Positive means over
// the baseline.
type Variance struct {
	Actual       float64 `json:"actual"`
	Baseline     float64 `json:"baseline"`
	Absolute     float64 `json:"absolute"`
	Percentage   float64 `json:"percentage"`
	BaselineZero bool    `json:"baseline_zero"`
	Status       Status  `json:"status"`
}

// Row describes a per-category comparison, such as budget line against actual spend.
type Row struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Baseline     float64 `json:"baseline"`
	Actual       float64 `json:"actual"`
	Variance     float64 `json:"variance"`
	VariancePct  float64 `json:"variance_pct"`
	BaselineZero bool    `json:"baseline_zero"`
	Flagged      bool    `json:"flagged"`
}

// Balance wraps an aggregated value for a category.
type Balance struct {
	Name   string
	Amount float64
}
