package secrets

import "errors"

// ErrNotFound is returned when a secret is not provisioned.
var ErrNotFound = errors.New("secret not found")
