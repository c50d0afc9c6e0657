package shared

import (
	"math"
	"strings"
	"time"
)

// ValidateDateOrder rejects a completion date that falls before the start date.
// Missing dates are accepted.
func ValidateDateOrder(startField string, start *time.Time, endField string, end *time.Time) error {
	if start == nil || end == nil {
		return nil
	}
	if truncateDay(*end).Before(truncateDay(*start)) {
		return NewValidationError(endField, "%s cannot be before %s", humanize(endField), humanize(startField))
	}
	return nil
}

// ValidateNotFuture rejects dates after today.
func ValidateNotFuture(field string, date *time.Time, now time.Time) error {
	if date == nil {
		return nil
	}
	if truncateDay(*date).After(truncateDay(now)) {
		return NewValidationError(field, "%s cannot be in the future", humanize(field))
	}
	return nil
}

// ValidatePercentage keeps percentage fields inside 0..100.
func ValidatePercentage(field string, value float64) error {
	if math.IsNaN(value) || value < 0 || value > 100 {
		return NewValidationError(field, "%s should be between 0 and 100%%", humanize(field))
	}
	return nil
}

// ValidateFinite rejects NaN and infinite numbers, which no amount or rate can hold.
func ValidateFinite(field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return NewValidationError(field, "%s must be a finite number", humanize(field))
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func humanize(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}
