/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on the sentinels with errors.Is and read details from the
  structured types with errors.As.

ERROR CATEGORIES:
  1. Configuration errors - Malformed rate lines, missing or ambiguous rates.
     These must reach a human operator; defaulting would mis-bill customers.
  2. Caller errors - Negative quantities, out-of-range period fractions
  3. Workflow errors - Illegal forecast state transitions
  4. Store errors - Missing records, locked rate lines, duplicate postings

RETRIES:
  Nothing here is retryable. Every computation is a pure function of its
  inputs, so retrying without changing them reproduces the same error.

SEE ALSO:
  - rateline.go: Raises ErrInvalidRateLine
  - resolver.go: Raises ErrNoApplicableRate and ErrAmbiguousRate
  - forecast.go: Raises ErrInvalidForecastState
*/
package billing

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRateLine is returned when a rate line violates its invariants.
	ErrInvalidRateLine = errors.New("invalid rate line")

	// ErrNoApplicableRate is returned when no rate line matches a request.
	ErrNoApplicableRate = errors.New("no applicable rate")

	// ErrAmbiguousRate is returned when the tie-break cannot pick one line.
	ErrAmbiguousRate = errors.New("ambiguous rate")

	// ErrInvalidQuantity is returned for a negative raw quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidPeriodFraction is returned for a fraction outside (0, 1].
	ErrInvalidPeriodFraction = errors.New("invalid period fraction")

	// ErrInvalidForecastState is returned for an illegal forecast transition.
	ErrInvalidForecastState = errors.New("invalid forecast state")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrRateLineNotFound is returned when a referenced rate line doesn't exist.
	ErrRateLineNotFound = errors.New("rate line not found")

	// ErrRateLineLocked is returned when editing a rate line that a posted
	// charge already references. Supersede it instead.
	ErrRateLineLocked = errors.New("rate line is referenced by a posted charge")

	// ErrRateLineChanged is returned when posting a charge whose rate line
	// was edited after the charge was priced. Quote again and repost.
	ErrRateLineChanged = errors.New("rate line changed since the charge was priced")

	// ErrRateLineExists is returned when saving a new line under a used ID.
	ErrRateLineExists = errors.New("rate line already exists")

	// ErrForecastNotFound is returned when a referenced forecast doesn't exist.
	ErrForecastNotFound = errors.New("forecast not found")

	// ErrChargeNotFound is returned when a referenced charge doesn't exist.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrDuplicateIdempotencyKey is returned when a charge with the same
	// idempotency key was already posted. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RateLineValidationError names the offending field of a rate line.
type RateLineValidationError struct {
	RateLineID RateLineID
	Field      string
	Reason     string
}

func (e *RateLineValidationError) Error() string {
	return fmt.Sprintf("invalid rate line %q: %s %s", e.RateLineID, e.Field, e.Reason)
}

func (e *RateLineValidationError) Unwrap() error {
	return ErrInvalidRateLine
}

// NoApplicableRateError describes the request nothing matched.
type NoApplicableRateError struct {
	ServiceType   ServiceType
	ContainerType ContainerTypeID
	AsOf          TimePoint
	Candidates    int
}

func (e *NoApplicableRateError) Error() string {
	scope := "any container"
	if e.ContainerType != "" {
		scope = "container " + string(e.ContainerType)
	}
	return fmt.Sprintf("no applicable rate for %s (%s) on %s among %d candidates",
		e.ServiceType, scope, e.AsOf, e.Candidates)
}

func (e *NoApplicableRateError) Unwrap() error {
	return ErrNoApplicableRate
}

// AmbiguousRateError lists the lines that tied after every tie-break.
type AmbiguousRateError struct {
	ServiceType ServiceType
	AsOf        TimePoint
	Tied        []RateLineID
}

func (e *AmbiguousRateError) Error() string {
	ids := make([]string, len(e.Tied))
	for i, id := range e.Tied {
		ids[i] = string(id)
	}
	return fmt.Sprintf("ambiguous rate for %s on %s: %s", e.ServiceType, e.AsOf, strings.Join(ids, ", "))
}

func (e *AmbiguousRateError) Unwrap() error {
	return ErrAmbiguousRate
}

// ForecastStateError reports the state a forecast was in when an action
// was refused.
type ForecastStateError struct {
	ForecastID ForecastID
	State      ForecastState
	Action     string
	Reason     string
}

func (e *ForecastStateError) Error() string {
	msg := fmt.Sprintf("cannot %s forecast %q in state %s", e.Action, e.ForecastID, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ForecastStateError) Unwrap() error {
	return ErrInvalidForecastState
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPeriodFraction) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsConfigurationError returns true for rate configuration problems that an
// operator has to fix.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidRateLine) ||
		errors.Is(err, ErrNoApplicableRate) ||
		errors.Is(err, ErrAmbiguousRate)
}

// IsConflict returns true when the request clashes with stored state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrRateLineLocked) ||
		errors.Is(err, ErrRateLineChanged) ||
		errors.Is(err, ErrRateLineExists) ||
		errors.Is(err, ErrInvalidForecastState)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRateLineNotFound) ||
		errors.Is(err, ErrForecastNotFound) ||
		errors.Is(err, ErrChargeNotFound)
}
