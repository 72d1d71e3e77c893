package services

import "errors"

// Taxonomy errors. Repositories and services wrap these with fmt.Errorf
// ("%w: ...") and the handler layer maps them onto HTTP status codes with
// errors.Is, so callers never string-match.
var (
	// ErrValidation covers malformed or semantically invalid input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a conditional store update found the entity in a
	// different state than expected. Losing a race is reported this way.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized means the caller is not allowed to perform the
	// operation on this entity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCapacity means the driver is already at the concurrent-rides cap.
	ErrCapacity = errors.New("driver at ride capacity")

	// ErrUnavailable means a dependency the operation cannot proceed
	// without is down.
	ErrUnavailable = errors.New("service unavailable")
)
