/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error kinds in one place. The core returns these; the caller decides
  whether to retry, treat as a no-op, or surface to the user.

ERROR CATEGORIES:
  1. InvalidArgument - Malformed input (bad period index, negative payment).
     Fatal to the call, never retried.
  2. InvalidState - Data integrity problem upstream (ledger would go
     negative, referenced obligation missing). Fatal, must be surfaced.
  3. AlreadyReversed - Duplicate deletion. Callers treat as no-op success.
  4. ConcurrentModification - Raised by the store's optimistic check, never
     by the core. Retried by re-running the whole read-compute-write cycle.

USAGE:
  if errors.Is(err, engine.ErrAlreadyReversed) {
      return nil // idempotent delete
  }

SEE ALSO:
  - payments/service.go: Retry and no-op handling
  - api/handlers.go: HTTP status mapping
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidArgument is returned for malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState is returned when inputs violate a data invariant.
	ErrInvalidState = errors.New("invalid state")

	// ErrAlreadyReversed is returned when a reversal entry for the payment
	// already exists in the unit's credit ledger.
	ErrAlreadyReversed = errors.New("allocation already reversed")

	// ErrConcurrentModification is returned by stores when the unit's version
	// moved between read and write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrObligationNotFound is returned when an allocation line references an
	// obligation the caller did not supply.
	ErrObligationNotFound = fmt.Errorf("%w: obligation not found", ErrInvalidState)

	// ErrDuplicateTransaction is returned when a payment transaction id was
	// already recorded.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	ErrUnitNotFound    = errors.New("unit not found")
	ErrClientNotFound  = errors.New("client not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidPeriodError reports a fiscal month index outside 0-11.
type InvalidPeriodError struct {
	FiscalYear  int
	FiscalMonth int
}

func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("invalid fiscal month index %d for FY%d (want 0-11)", e.FiscalMonth, e.FiscalYear)
}

func (e *InvalidPeriodError) Unwrap() error { return ErrInvalidArgument }

// NegativePaymentError reports a payment amount below zero.
type NegativePaymentError struct {
	Amount Money
}

func (e *NegativePaymentError) Error() string {
	return fmt.Sprintf("payment amount must not be negative: %s", e.Amount)
}

func (e *NegativePaymentError) Unwrap() error { return ErrInvalidArgument }

// InsufficientCreditError reports a ledger append that would leave the unit
// with a negative credit balance.
type InsufficientCreditError struct {
	UnitID    UnitID
	Available Money
	Requested Money
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("credit balance would go negative for unit %s: available %s, requested %s",
		e.UnitID, e.Available, e.Requested)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// IsRetryable returns true if re-running the read-compute-write cycle might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrDuplicateTransaction)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnitNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
