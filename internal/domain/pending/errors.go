package pending

import "errors"

// Sentinel kinds for pending aggregation errors.
var (
	// ErrUploaderCap is returned when an aggregation already has the maximum
	// number of distinct uploaders.
	ErrUploaderCap = errors.New("pending aggregation uploader cap reached")
	// ErrUploadCap is returned when an aggregation already retains the
	// maximum number of uploads.
	ErrUploadCap = errors.New("pending aggregation upload cap reached")
	// ErrNotFound is returned by Finalize when no live aggregation matches
	// the association and record id.
	ErrNotFound = errors.New("pending aggregation not found")
	// ErrClosed is returned by Submit once FinalizeAll has run.
	ErrClosed = errors.New("pending aggregation engine closed")
)
