package service

import "errors"

// Sentinel kinds returned by Service.Upload before the upload reaches the
// domain pipeline.
var (
	// ErrNotStarted is returned when the service is not running.
	ErrNotStarted = errors.New("service not started")
	// ErrUploadsDisabled is returned when the system of record disables
	// uploads or has not been initialized.
	ErrUploadsDisabled = errors.New("uploads disabled")
	// ErrEncounterCeiling is returned when the encounter ceiling is reached.
	ErrEncounterCeiling = errors.New("encounter ceiling reached")
	// ErrForbidden is returned when the identity lacks the upload permission.
	ErrForbidden = errors.New("upload permission required")
	// ErrQuotaExceeded is returned when the identity used up its uploads.
	ErrQuotaExceeded = errors.New("upload quota exceeded")
	// ErrUpstream wraps failures talking to the system of record.
	ErrUpstream = errors.New("system of record unavailable")
)
