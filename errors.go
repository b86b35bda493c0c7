package eva

import "errors"

var (
	// ErrNotFound is returned by Unsubscribe when no topic is registered under
	// the key. It is an expected outcome, check for it with errors.Is.
	ErrNotFound = errors.New("eva: topic not found")
	// ErrInvalidConfig wraps every configuration parse failure.
	ErrInvalidConfig = errors.New("eva: invalid configuration")
	// ErrClosed is returned when an agency or topic is used after it was torn down.
	ErrClosed = errors.New("eva: closed")
)
