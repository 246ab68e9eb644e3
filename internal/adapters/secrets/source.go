// Package secrets provides the token signing key and per-identity salts.
package secrets

import (
	"context"
	"fmt"
)

// Source resolves signing material.
type Source interface {
	SigningKey(ctx context.Context) (string, error)
	Salt(ctx context.Context, identity string) (string, error)
}

// Static serves a fixed signing key. Identities without an entry in Salts
// use an empty salt. It backs local runs without a secrets manager.
type Static struct {
	Key   string
	Salts map[string]string
}

// SigningKey implements Source.
func (s Static) SigningKey(context.Context) (string, error) {
	if s.Key == "" {
		return "", fmt.Errorf("%w: signing key", ErrNotFound)
	}
	return s.Key, nil
}

// Salt implements Source.
func (s Static) Salt(_ context.Context, identity string) (string, error) {
	return s.Salts[identity], nil
}
