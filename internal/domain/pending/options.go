package pending

import "time"

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithWindow sets how long an aggregation stays open after creation.
func WithWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithMaxUploaders sets the distinct uploader cap.
func WithMaxUploaders(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxUploaders = n
		}
	}
}

// WithMaxUploads sets the retained upload cap.
func WithMaxUploads(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxUploads = n
		}
	}
}

// WithReleaser sets who receives admission releases on finalize.
func WithReleaser(r Releaser) Option {
	return func(e *Engine) {
		e.releaser = r
	}
}

// WithNotifier sets who is told about new aggregations.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithScheduler routes expired windows through s instead of finalizing on
// the timer goroutine.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) {
		e.scheduler = s
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
