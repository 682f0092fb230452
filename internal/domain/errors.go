package domain

import "errors"

// Store boundary errors shared by every persistence backend.
var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTransient marks failures worth retrying: throttling, timeouts,
	// connection resets. Backends wrap the cause with %w.
	ErrTransient = errors.New("transient store error")
)
