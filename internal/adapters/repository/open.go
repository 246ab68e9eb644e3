package repository

import (
	"context"
	"fmt"
)

// Settings selects and configures a store driver.
type Settings struct {
	Driver     string
	RedisURL   string
	SQLitePath string
}

// Open creates the store selected by settings.
func Open(ctx context.Context, s Settings) (Store, error) {
	switch s.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverRedis:
		st, err := OpenRedis(ctx, s.RedisURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverSQLite:
		st, err := OpenSQLite(s.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, s.Driver)
	}
}
