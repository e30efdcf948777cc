package records

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrTokenConsumed is returned when a conditional write finds the claim
	// token already gone.
	ErrTokenConsumed = errors.New("claim token already consumed")
	// ErrConflict is returned when a write collides with a unique key.
	ErrConflict = errors.New("record key conflict")
)
