package model

// PermissionUpload must be granted for an identity to submit encounters.
const PermissionUpload = "upload"

// Identity is the authoritative view of an uploader, fetched per request
// from the system of record.
type Identity struct {
	ID             string            `json:"id"`
	Roles          []string          `json:"roles"`
	Permissions    []string          `json:"permissions"`
	Settings       map[string]string `json:"settings"`
	CurrentUploads int               `json:"currentUploads"`
	MaxUploads     int               `json:"maxUploads"`
}

// Can reports whether the identity holds permission.
func (i *Identity) Can(permission string) bool {
	for _, p := range i.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// SystemConfig is the global ingestion configuration owned by the system of
// record.
type SystemConfig struct {
	UploadsEnabled bool  `json:"uploadsEnabled"`
	Initialized    bool  `json:"initialized"`
	MaxEncounters  int64 `json:"maxEncounters"`
}
