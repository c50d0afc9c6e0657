package variance

import (
	"math"
	"sort"
)

// Compute returns actual - baseline and its share of the baseline in percent. A zero
// baseline yields ErrZeroBaseline together with a Variance whose Percentage is 0.
func Compute(actual, baseline float64) (Variance, error) {
	if !finite(actual) || !finite(baseline) {
		return Variance{Status: StatusOn}, ErrNotFinite
	}
	v := Variance{
		Actual:   round2(actual),
		Baseline: round2(baseline),
		Absolute: round2(actual - baseline),
	}
	v.Status = Classify(v.Absolute)
	if baseline == 0 {
		v.BaselineZero = true
		return v, ErrZeroBaseline
	}
	v.Percentage = round2((actual - baseline) / baseline * 100)
	return v, nil
}

// Classify maps a signed variance to a status.
func Classify(absolute float64) Status {
	switch {
	case absolute > 0:
		return StatusOver
	case absolute < 0:
		return StatusUnder
	default:
		return StatusOn
	}
}

// ComputeRows merges baseline & actual balances and applies threshold flags. Rows are
// sorted by the size of the variance, largest first.
func ComputeRows(baseline map[string]Balance, actual map[string]Balance, thresholdAmount, thresholdPercent *float64) []Row {
	lookup := make(map[string]Row)
	for code, bal := range baseline {
		lookup[code] = Row{Code: code, Name: bal.Name, Baseline: round2(bal.Amount)}
	}
	for code, bal := range actual {
		row := lookup[code]
		row.Code = code
		if row.Name == "" {
			row.Name = bal.Name
		}
		row.Actual = round2(bal.Amount)
		lookup[code] = row
	}
	rows := make([]Row, 0, len(lookup))
	for _, row := range lookup {
		v, err := Compute(row.Actual, row.Baseline)
		row.Variance = v.Absolute
		row.VariancePct = v.Percentage
		row.BaselineZero = err != nil
		row.Flagged = exceedsThreshold(row, thresholdAmount, thresholdPercent)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		vi, vj := math.Abs(rows[i].Variance), math.Abs(rows[j].Variance)
		if vi == vj {
			return rows[i].Code < rows[j].Code
		}
		return vi > vj
	})
	return rows
}

func exceedsThreshold(row Row, amt, pct *float64) bool {
	if amt != nil && math.Abs(row.Variance) >= *amt {
		return true
	}
	if pct != nil && !row.BaselineZero && math.Abs(row.VariancePct) >= *pct {
		return true
	}
	return false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
