package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const defaultKeyPrefix = "raidsync:"

// RedisSource reads secrets provisioned as plain string keys:
//
//	secrets:signing_key
//	secrets:salt:<identity>
type RedisSource struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the Redis server at url.
func OpenRedis(ctx context.Context, url string, prefix string) (*RedisSource, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisSource(client, prefix), nil
}

// NewRedisSource wraps client. An empty prefix selects the default.
func NewRedisSource(client *redis.Client, prefix string) *RedisSource {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisSource{client: client, prefix: prefix}
}

func (s *RedisSource) keyKey() string                 { return s.prefix + "secrets:signing_key" }
func (s *RedisSource) saltKey(identity string) string { return s.prefix + "secrets:salt:" + identity }

// SigningKey implements Source.
func (s *RedisSource) SigningKey(ctx context.Context) (string, error) {
	return s.get(ctx, s.keyKey())
}

// Salt implements Source. An identity without a salt is an error: salts are
// provisioned together with the identity.
func (s *RedisSource) Salt(ctx context.Context, identity string) (string, error) {
	return s.get(ctx, s.saltKey(identity))
}

// PutSigningKey provisions the signing key.
func (s *RedisSource) PutSigningKey(ctx context.Context, key string) error {
	return s.client.Set(ctx, s.keyKey(), key, 0).Err()
}

// PutSalt provisions the salt of identity.
func (s *RedisSource) PutSalt(ctx context.Context, identity, salt string) error {
	return s.client.Set(ctx, s.saltKey(identity), salt, 0).Err()
}

// Close closes the underlying client.
func (s *RedisSource) Close() error {
	return s.client.Close()
}

func (s *RedisSource) get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}
