package validate

import "errors"

// Sentinel kinds for rejected uploads.
var (
	// ErrMalformed marks schema, range and per-entity consistency violations.
	ErrMalformed = errors.New("malformed upload")
	// ErrImplausible marks uploads that fail aggregate anti-cheat bounds.
	ErrImplausible = errors.New("implausible upload")
)
