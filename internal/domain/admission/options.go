package admission

import "time"

// Option applies a configuration option to the Guard.
type Option func(*Guard)

// WithMaxAge sets how old a record may get before the sweep removes it.
func WithMaxAge(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.maxAge = d
		}
	}
}

// WithSweepSchedule sets the cron spec used by Start, e.g. "@every 1m".
func WithSweepSchedule(spec string) Option {
	return func(g *Guard) {
		if spec != "" {
			g.schedule = spec
		}
	}
}

// WithParticipation makes Release keep records of identities that are still
// registered on a live pending aggregation.
func WithParticipation(p Participation) Option {
	return func(g *Guard) {
		g.participation = p
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}
