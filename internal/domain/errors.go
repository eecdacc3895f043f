package domain

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a job id does not exist in the store.
var ErrJobNotFound = errors.New("job not found")

// ValidationError reports a client-supplied parameter that failed validation.
// Callers map it to exit code 2.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// BudgetExceededError is returned when a job's estimated cost would push the
// day's spend past the hard budget ceiling. Callers map it to exit code 3.
type BudgetExceededError struct {
	EstimatedCost float64
	SpentToday    float64
	Remaining     float64
	Budget        float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: estimated cost $%.2f, remaining today $%.2f (spent $%.2f of $%.2f)",
		e.EstimatedCost, e.Remaining, e.SpentToday, e.Budget)
}
