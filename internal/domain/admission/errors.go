package admission

import "errors"

// Sentinel kinds for admission errors.
var (
	// ErrTooManyUploads is returned when the identity already has an upload
	// in flight.
	ErrTooManyUploads = errors.New("too many concurrent uploads")
)
