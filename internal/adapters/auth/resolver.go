package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/raidsync/internal/adapters/secrets"
	"github.com/okian/raidsync/internal/domain/model"
)

// IdentityFetcher loads the authoritative identity record.
type IdentityFetcher interface {
	IdentityDetails(ctx context.Context, identityID string) (model.Identity, error)
}

// Resolver turns an Authorization header into an identity.
type Resolver struct {
	secrets secrets.Source
	fetcher IdentityFetcher
	now     func() time.Time
}

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a resolver.
func NewResolver(src secrets.Source, fetcher IdentityFetcher, opts ...Option) *Resolver {
	r := &Resolver{secrets: src, fetcher: fetcher, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Verify checks the token and returns its claims.
func (r *Resolver) Verify(ctx context.Context, token string) (Claims, error) {
	claims, sig, err := Parse(token)
	if err != nil {
		return Claims{}, err
	}
	key, err := r.secrets.SigningKey(ctx)
	if err != nil {
		return Claims{}, fmt.Errorf("load signing key: %w", err)
	}
	salt, err := r.secrets.Salt(ctx, claims.Identity)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: load salt: %v", ErrInvalidToken, err)
	}
	if err := Check(key, salt, claims, sig, r.now()); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// Resolve verifies the bearer token in header and fetches the identity it
// names. Fetch failures are returned unwrapped so callers can classify them.
func (r *Resolver) Resolve(ctx context.Context, header string) (model.Identity, error) {
	token, err := FromHeader(header)
	if err != nil {
		return model.Identity{}, err
	}
	claims, err := r.Verify(ctx, token)
	if err != nil {
		return model.Identity{}, err
	}
	id, err := r.fetcher.IdentityDetails(ctx, claims.Identity)
	if err != nil {
		return model.Identity{}, err
	}
	if id.ID != claims.Identity {
		return model.Identity{}, fmt.Errorf("%w: identity mismatch", ErrInvalidToken)
	}
	return id, nil
}

// Issue mints a token for identity from the source's current secrets.
func Issue(ctx context.Context, src secrets.Source, identity string, expiry time.Time) (string, error) {
	key, err := src.SigningKey(ctx)
	if err != nil {
		return "", err
	}
	salt, err := src.Salt(ctx, identity)
	if err != nil {
		return "", err
	}
	return Sign(key, salt, identity, expiry), nil
}
