package testuploads

import "time"

// Encounter shape constants.
const (
	PlayersPerEncounter = 4
	tokenLifetime       = time.Hour
)

// Polling constants.
const (
	pollInterval         = 500 * time.Millisecond
	PercentageMultiplier = 100
)
