/*
errors.go - Centralized error types for the levy engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error below is a recoverable, caller-facing rejection: a rejected
  posting leaves the ledger byte-for-byte unchanged.

ERROR CATEGORIES:
  1. Validation errors - Malformed input, rejected at the boundary
  2. Business rule violations - Arrears, capacity, configuration
  3. Authorization errors - Collector/subject/zone mismatch
  4. Store errors - Referential integrity and availability failures

USAGE:
  Callers match with errors.Is / errors.As:

    var arrears *ledger.ArrearsError
    if errors.As(err, &arrears) {
        // display arrears.Year and arrears.Remaining
    }

SEE ALSO:
  - allocate.go: Raises the business rule violations
  - guard.go: Raises NotAuthorizedError
  - api: Maps these to HTTP statuses
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive or malformed amounts.
	// Rejected at the boundary, never persisted.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrArrearsPending is returned when an earlier year still has a
	// positive remaining balance. Wrapped by ArrearsError.
	ErrArrearsPending = errors.New("arrears pending on earlier year")

	// ErrExceedsCapacity is returned when a monthly posting is larger than
	// the levy's remaining annual capacity. Wrapped by CapacityError.
	ErrExceedsCapacity = errors.New("amount exceeds annual capacity")

	// ErrExceedsBalance is returned when a lump posting would overpay the
	// levy. Wrapped by BalanceExceededError.
	ErrExceedsBalance = errors.New("amount exceeds remaining balance")

	// ErrLevyNotConfigured is returned for lump-subject levies whose due
	// amount has not yet been set by an administrator.
	ErrLevyNotConfigured = errors.New("levy amount not configured")

	// ErrNotAuthorized is returned when a collector may not post against a
	// subject or zone. Wrapped by NotAuthorizedError.
	ErrNotAuthorized = errors.New("collector not authorized")

	// ErrTrackingMismatch is returned when a monthly posting targets a
	// lump-annual subject or vice versa.
	ErrTrackingMismatch = errors.New("posting does not match subject tracking")

	// ErrSubjectInactive is returned for postings against a soft-deactivated
	// subject.
	ErrSubjectInactive = errors.New("subject is deactivated")

	// ErrSubjectNotFound / ErrLevyNotFound / ErrCollectorNotFound signal
	// referential integrity failures.
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrLevyNotFound      = errors.New("levy not found")
	ErrCollectorNotFound = errors.New("collector not found")

	// ErrLedgerUnavailable is the generic fatal error for storage failures
	// that survive the one transparent retry on idempotent operations.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry enough detail to render a specific message
// =============================================================================

// ArrearsError identifies the oldest unpaid year blocking a posting.
type ArrearsError struct {
	SubjectID SubjectID
	Year      int
	Remaining decimal.Decimal
}

func (e *ArrearsError) Error() string {
	return fmt.Sprintf("arrears pending: year %d has %s remaining", e.Year, e.Remaining)
}

func (e *ArrearsError) Unwrap() error { return ErrArrearsPending }

// CapacityError reports how much the levy can still absorb across its
// twelve months. The posting is rejected up front; nothing is truncated
// or silently dropped.
type CapacityError struct {
	LevyID    LevyID
	Requested decimal.Decimal
	Capacity  decimal.Decimal
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("amount %s exceeds annual capacity %s", e.Requested, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return ErrExceedsCapacity }

// BalanceExceededError reports a lump posting larger than the remaining due.
type BalanceExceededError struct {
	LevyID    LevyID
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *BalanceExceededError) Error() string {
	return fmt.Sprintf("amount %s exceeds remaining balance %s", e.Requested, e.Remaining)
}

func (e *BalanceExceededError) Unwrap() error { return ErrExceedsBalance }

// NotAuthorizedError explains why the guard rejected a collector.
type NotAuthorizedError struct {
	CollectorID CollectorID
	Reason      string
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("collector %s not authorized: %s", e.CollectorID, e.Reason)
}

func (e *NotAuthorizedError) Unwrap() error { return ErrNotAuthorized }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is a caller-facing rejection
// (as opposed to a storage fault).
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrArrearsPending) ||
		errors.Is(err, ErrExceedsCapacity) ||
		errors.Is(err, ErrExceedsBalance) ||
		errors.Is(err, ErrLevyNotConfigured) ||
		errors.Is(err, ErrTrackingMismatch) ||
		errors.Is(err, ErrSubjectInactive) ||
		errors.Is(err, ErrNotAuthorized)
}

// IsNotFound returns true if the error indicates a missing reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSubjectNotFound) ||
		errors.Is(err, ErrLevyNotFound) ||
		errors.Is(err, ErrCollectorNotFound)
}
