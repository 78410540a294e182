package domain

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition indicates a sync status change that is not an
	// edge of the lifecycle graph. This is a caller bug, not a runtime
	// condition to retry.
	ErrInvalidTransition = errors.New("invalid sync status transition")

	// ErrAlreadyInFlight indicates another sync attempt holds the claim
	// on the record. Expected under concurrent passes; callers skip.
	ErrAlreadyInFlight = errors.New("record already claimed by another sync attempt")

	// ErrParentNotFound indicates a record references a parent that does
	// not exist in the store.
	ErrParentNotFound = errors.New("parent record not found")
)
