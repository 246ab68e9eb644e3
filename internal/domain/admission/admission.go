// Package admission limits every identity to a single in-flight upload.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"

	"github.com/okian/raidsync/pkg/logger"
	"github.com/okian/raidsync/pkg/metrics"
)

// Default guard configuration constants.
const (
	defaultMaxAge   = 30 * time.Second
	defaultSchedule = "@every 1m"
)

// Participation reports whether an identity is still registered on a live
// pending aggregation.
type Participation interface {
	IsUploading(identity string) bool
}

// Record is one admitted identity.
type Record struct {
	Identity   string
	AdmittedAt time.Time
}

// Guard tracks admitted identities.
type Guard struct {
	records       *xsync.Map[string, Record]
	participation Participation
	maxAge        time.Duration
	schedule      string
	now           func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a guard with configuration options.
func New(opts ...Option) *Guard {
	g := &Guard{
		records:  xsync.NewMap[string, Record](),
		maxAge:   defaultMaxAge,
		schedule: defaultSchedule,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetParticipation installs p after construction. The pending engine and the
// guard reference each other, so one side has to be wired late.
func (g *Guard) SetParticipation(p Participation) {
	g.mu.Lock()
	g.participation = p
	g.mu.Unlock()
}

// TryAdmit registers identity or fails with ErrTooManyUploads when it is
// already registered.
func (g *Guard) TryAdmit(ctx context.Context, identity string) error {
	_, loaded := g.records.LoadOrStore(identity, Record{Identity: identity, AdmittedAt: g.now()})
	if loaded {
		metrics.RecordAdmissionRejected()
		return fmt.Errorf("%w: identity %s", ErrTooManyUploads, identity)
	}
	metrics.UpdateAdmissionActive(g.records.Size())
	return nil
}

// Release removes identity unless it still participates in a pending
// aggregation. It reports whether a record was removed and is safe to call
// for identities that were never admitted.
func (g *Guard) Release(ctx context.Context, identity string) bool {
	g.mu.Lock()
	p := g.participation
	g.mu.Unlock()

	var removed bool
	g.records.Compute(identity, func(old Record, loaded bool) (Record, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		if p != nil && p.IsUploading(identity) {
			return old, xsync.CancelOp
		}
		removed = true
		return old, xsync.DeleteOp
	})
	if removed {
		metrics.UpdateAdmissionActive(g.records.Size())
	}
	return removed
}

// Admitted reports whether identity currently holds a record.
func (g *Guard) Admitted(identity string) bool {
	_, ok := g.records.Load(identity)
	return ok
}

// Size returns the number of admitted identities.
func (g *Guard) Size() int {
	return g.records.Size()
}

// Sweep removes every record admitted before now minus the max age and
// returns how many were removed.
func (g *Guard) Sweep(now time.Time) int {
	cutoff := now.Add(-g.maxAge)
	var stale []string
	g.records.Range(func(id string, r Record) bool {
		if r.AdmittedAt.Before(cutoff) {
			stale = append(stale, id)
		}
		return true
	})

	removed := 0
	for _, id := range stale {
		g.records.Compute(id, func(old Record, loaded bool) (Record, xsync.ComputeOp) {
			if !loaded || !old.AdmittedAt.Before(cutoff) {
				return old, xsync.CancelOp
			}
			removed++
			return old, xsync.DeleteOp
		})
	}
	if removed > 0 {
		metrics.RecordAdmissionSwept(removed)
		metrics.UpdateAdmissionActive(g.records.Size())
	}
	return removed
}

// Start schedules the periodic sweep.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cron != nil {
		return nil
	}

	log := logger.Get().Named("admission")
	c := cron.New()
	if _, err := c.AddFunc(g.schedule, func() {
		if n := g.Sweep(g.now()); n > 0 {
			log.Warn(ctx, "swept stale admission records", logger.Int("removed", n))
		}
	}); err != nil {
		return fmt.Errorf("schedule admission sweep %q: %w", g.schedule, err)
	}
	c.Start()
	g.cron = c
	return nil
}

// Stop halts the sweep and waits for a running sweep to finish.
func (g *Guard) Stop() {
	g.mu.Lock()
	c := g.cron
	g.cron = nil
	g.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
