package repository

// RedisOption applies a configuration option to the RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key written by the RedisStore.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// SQLiteOption applies a configuration option to the SQLiteStore.
type SQLiteOption func(*sqliteSettings)

type sqliteSettings struct {
	busyTimeoutMs int
}

// WithBusyTimeout sets the SQLite busy timeout in milliseconds.
func WithBusyTimeout(ms int) SQLiteOption {
	return func(s *sqliteSettings) {
		if ms > 0 {
			s.busyTimeoutMs = ms
		}
	}
}
