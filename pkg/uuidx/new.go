package uuidx

import "github.com/google/uuid"

// New returns a time ordered (version 7) UUID. It panics when the random
// source fails, which leaves the process with nothing sensible to do.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns New formatted in its canonical string form.
func NewString() string {
	return New().String()
}

// Valid reports whether s parses as a UUID of any version.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
