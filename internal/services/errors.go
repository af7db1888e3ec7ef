// Package services defines the business logic for contacts.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Contact-related errors.
var (
	// ErrContactNotFound indicates that the requested contact does not exist.
	ErrContactNotFound = errors.New("contact not found")

	// ErrDuplicateEmail is returned when a create or update would give two
	// contacts the same email address.
	ErrDuplicateEmail = errors.New("a contact with this email already exists")

	// ErrInvalidContact wraps validation failures. The wrapped message lists
	// the offending fields.
	ErrInvalidContact = errors.New("invalid contact")

	// ErrInvalidCount is returned when a random batch size is outside
	// 1..MaxRandom.
	ErrInvalidCount = errors.New("count out of range")

	// ErrGeneratorUnavailable is returned when the random-user generator
	// cannot be reached or answered with garbage.
	ErrGeneratorUnavailable = errors.New("random user generator unavailable")
)
