/*
errors.go - Centralized error types for the commission engine

ERROR CATEGORIES:
  1. Validation errors - Malformed policy or input, rejected before persistence
  2. Not-found errors - Missing policy, record, employee, or project
  3. Period lock errors - Mutation attempted on a LOCKED month
  4. Partial aggregation - Some employees failed during Sync, others succeeded

USAGE:
  if errors.Is(err, commission.ErrPeriodLocked) {
      // the whole batch was rejected, nothing was written
  }

  var partial *commission.PartialAggregationError
  if errors.As(err, &partial) {
      for _, f := range partial.Failures { ... }
  }
*/
package commission

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrPolicyNotFound   = errors.New("policy not found")
	ErrRecordNotFound   = errors.New("commission record not found")
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrProjectNotFound  = errors.New("project not found")

	// ErrPeriodLocked is returned when a write targets a LOCKED month or a
	// locked record. The operation has no side effects.
	ErrPeriodLocked = errors.New("period is locked")

	// ErrPartialAggregation is returned by Sync when at least one employee's
	// revenue could not be computed. Records for the other employees were written.
	ErrPartialAggregation = errors.New("revenue aggregation failed for some employees")

	ErrDuplicatePolicy = errors.New("policy code already exists")
	ErrDuplicateRecord = errors.New("commission record already exists")

	// ErrNothingToFinalize is returned by Lock on a month without records.
	ErrNothingToFinalize = errors.New("no commission records to finalize")

	// ErrIncompleteSync is returned by Lock when the completeness gate is
	// enabled and the month's latest sync did not succeed for every employee.
	ErrIncompleteSync = errors.New("latest sync is incomplete")

	ErrInvalidMonth = errors.New("invalid month, expected YYYY-MM")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing resource and its key.
type NotFoundError struct {
	Resource string
	Key      string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// PolicyNotFound, RecordNotFound and ProjectNotFound build the errors store
// implementations return for missing keys.
func PolicyNotFound(code PolicyCode) error {
	return &NotFoundError{Resource: "policy", Key: string(code), Err: ErrPolicyNotFound}
}

func RecordNotFound(emp EmployeeID, month Month) error {
	return &NotFoundError{Resource: "record", Key: string(emp) + "/" + month.String(), Err: ErrRecordNotFound}
}

func ProjectNotFound(id ProjectID) error {
	return &NotFoundError{Resource: "project", Key: string(id), Err: ErrProjectNotFound}
}

// PeriodLockedError identifies the locked month (and record, if any).
type PeriodLockedError struct {
	Month      Month
	EmployeeID EmployeeID
}

func (e *PeriodLockedError) Error() string {
	if e.EmployeeID != "" {
		return fmt.Sprintf("period %s is locked: record for %s is finalized", e.Month, e.EmployeeID)
	}
	return fmt.Sprintf("period %s is locked", e.Month)
}

func (e *PeriodLockedError) Unwrap() error { return ErrPeriodLocked }

// AggregationFailure is one employee whose revenue could not be computed.
type AggregationFailure struct {
	EmployeeID EmployeeID
	Reason     string
}

// PartialAggregationError enumerates every employee that failed during Sync.
type PartialAggregationError struct {
	Month    Month
	Failures []AggregationFailure
}

func (e *PartialAggregationError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = string(f.EmployeeID)
	}
	return fmt.Sprintf("sync %s: %d employee(s) failed: %s", e.Month, len(e.Failures), strings.Join(ids, ", "))
}

func (e *PartialAggregationError) Unwrap() error { return ErrPartialAggregation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidMonth) ||
		errors.Is(err, ErrNothingToFinalize)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrProjectNotFound)
}

// IsConflict returns true if the error reflects current state rather than input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPeriodLocked) ||
		errors.Is(err, ErrDuplicatePolicy) ||
		errors.Is(err, ErrDuplicateRecord) ||
		errors.Is(err, ErrIncompleteSync)
}
