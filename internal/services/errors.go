// Package services defines the business logic for opportunity discovery,
// lifecycle cleanup, response drafting, posting, and knowledge ingestion.
// This file centralizes common service-level error values and types so that
// they can be consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or process exit behavior is performed by whatever
// drives the engines.
package services

import (
	"errors"
	"fmt"
)

// Lookup errors, one per entity, so callers of multi-entity operations can
// tell which load failed.
var (
	// ErrAccountNotFound indicates that the requested platform account does
	// not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrProfileNotFound indicates that the requested engagement profile
	// does not exist.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrOpportunityNotFound indicates that the requested opportunity does
	// not exist or no row matched a conditional transition.
	ErrOpportunityNotFound = errors.New("opportunity not found")

	// ErrResponseNotFound indicates that the requested response does not
	// exist or no row matched a conditional transition.
	ErrResponseNotFound = errors.New("response not found")

	// ErrScheduleNotFound indicates that no schedule row exists for the
	// requested account and discovery type.
	ErrScheduleNotFound = errors.New("schedule not found")
)

// InvalidStateError is returned when an operation requires an entity to be in
// a specific lifecycle state and it is not, e.g. posting a response that is
// no longer a draft. Callers match it with errors.As.
type InvalidStateError struct {
	// Current is the state the entity was found in.
	Current string
	// Expected is the state the operation requires.
	Expected string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state %q, expected %q", e.Current, e.Expected)
}

// ValidationError is returned when input or upstream output fails a
// structural check, e.g. malformed analysis JSON or an adapter post result
// with missing fields. Payload carries the offending value for diagnostics
// and is omitted from the message when empty.
type ValidationError struct {
	// Reason describes what failed the check.
	Reason string
	// Payload is the offending value, when one exists.
	Payload string
}

func (e *ValidationError) Error() string {
	if e.Payload == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s (%s)", e.Reason, e.Payload)
}
