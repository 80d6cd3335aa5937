/*
errors.go - Centralized error types for the allotment core

PURPOSE:
  All sentinel and structured errors in one place. The service and API
  layers wrap these with transport context; classification helpers decide
  HTTP status codes.
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
	// ErrQuotaExhausted is returned when a redemption is attempted for an
	// item with no remaining quota in its current window.
	ErrQuotaExhausted = errors.New("quota exhausted for current window")

	// ErrUnknownItem is returned when an action references an item type
	// that is not configured.
	ErrUnknownItem = errors.New("unknown allotment item")

	// ErrUnknownCadence is returned by ParseCadence for labels outside
	// the closed enum.
	ErrUnknownCadence = errors.New("unknown cadence")

	// ErrNoFailedEvent is returned when undoing an admit-defeat and no
	// failed event exists for the item.
	ErrNoFailedEvent = errors.New("no admit-defeat event to undo")

	// ErrMalformedPayload is returned when an items payload matches none
	// of the tolerated nesting shapes.
	ErrMalformedPayload = errors.New("malformed items payload")

	// ErrStoreUnavailable is returned when the persistence port is not
	// configured. Fail fast, no retry.
	ErrStoreUnavailable = errors.New("persistence store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// QuotaExhaustedError reports a redemption attempt against an exhausted
// item, with the check performed on freshly loaded state.
type QuotaExhaustedError struct {
	Type      string
	Quota     int
	NextReset string
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("no uses of %q remaining (quota %d, resets %s)",
		e.Type, e.Quota, e.NextReset)
}

func (e *QuotaExhaustedError) Unwrap() error { return ErrQuotaExhausted }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid caller input
// or a business-rule violation rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrQuotaExhausted) ||
		errors.Is(err, ErrUnknownCadence) ||
		errors.Is(err, ErrNoFailedEvent) ||
		errors.Is(err, ErrMalformedPayload)
}

// IsNotFound reports whether the error indicates a missing item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownItem)
}
