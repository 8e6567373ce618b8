// Package store declares the persistence contracts the admission engine
// consumes. Implementations live in memory/, sqlite/ and postgres/.
package store

import "errors"

var (
	// ErrAccountNotFound is returned when no account matches a lookup.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNoPoints is returned by ConsumePoint when the balance was already
	// zero at the moment of the conditional write.
	ErrNoPoints = errors.New("no access points available")
)
