package zone

import "errors"

// Sentinel kinds for zone resolution and catalog loading.
var (
	// ErrUnsupported marks uploads that do not map to an accepted zone or
	// violate the zone's participant rules.
	ErrUnsupported = errors.New("unsupported upload")
	// ErrCatalog marks an invalid zone catalog.
	ErrCatalog = errors.New("invalid zone catalog")
)
