package analyses

import "errors"

var (
	// ErrInvalidSubmission marks a submission that fails validation.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrUnavailable marks a submission that could not be attributed because
	// the store failed; the caller may retry.
	ErrUnavailable = errors.New("submission store unavailable")
)
