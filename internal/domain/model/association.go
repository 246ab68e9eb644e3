package model

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// Association identifies one real-world encounter across uploaders.
type Association string

// String returns the raw key.
func (a Association) String() string { return string(a) }

// Digest returns a fixed-width hex hash of the key for compact indexes.
func (a Association) Digest() string {
	return fmt.Sprintf("%016x", xxh3.HashString(string(a)))
}
