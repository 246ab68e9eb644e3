package service

import (
	"time"

	"github.com/okian/raidsync/internal/domain/zone"
	"github.com/okian/raidsync/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the document store.
func WithStore(store Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithGateway sets the system-of-record gateway.
func WithGateway(g Gateway) Option {
	return func(s *Service) {
		if g != nil {
			s.gateway = g
		}
	}
}

// WithAuthenticator sets the bearer token resolver.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Service) {
		if a != nil {
			s.auth = a
		}
	}
}

// WithCatalog sets the zone catalog.
func WithCatalog(c *zone.Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithWindow sets the pending aggregation window.
func WithWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithMaxUploaders caps distinct uploaders per aggregation.
func WithMaxUploaders(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUploaders = n
		}
	}
}

// WithMaxUploads caps retained uploads per aggregation.
func WithMaxUploads(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUploads = n
		}
	}
}

// WithSweepSchedule sets the cron spec of the admission sweep.
func WithSweepSchedule(spec string) Option {
	return func(s *Service) {
		if spec != "" {
			s.sweepSchedule = spec
		}
	}
}

// WithWorkerCount sets the number of finalize workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the finalize queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
