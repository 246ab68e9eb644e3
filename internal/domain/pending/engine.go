// Package pending merges independent uploads of one encounter during a short
// window and persists a single record when the window closes.
package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/pkg/logger"
	"github.com/okian/raidsync/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultWindow       = 15 * time.Second
	defaultMaxUploaders = 8
	defaultMaxUploads   = 8
	notifyTimeout       = 5 * time.Second
	finalizeParallelism = 8
)

// Store persists summaries and encounters.
type Store interface {
	CreateSummary(ctx context.Context, s model.Summary) error
	AttributeUploader(ctx context.Context, recordID string, u model.Uploader) error
	SaveEncounter(ctx context.Context, enc model.Encounter) error
	SetSummaryStatus(ctx context.Context, recordID string, status model.Status, errText string) error
}

// Releaser frees an identity's admission record.
type Releaser interface {
	Release(ctx context.Context, identity string) bool
}

// Notifier is told when a new aggregation has been created.
type Notifier interface {
	PendingCreated(ctx context.Context, recordID string, association model.Association) error
}

// Scheduler accepts finalize jobs for asynchronous processing. Enqueue
// reports false when the job was not accepted.
type Scheduler interface {
	Enqueue(ctx context.Context, job model.FinalizeJob) bool
}

// Outcome describes what Submit did with an upload.
type Outcome int

// Submit outcomes.
const (
	Created Outcome = iota + 1
	Merged
	Duplicate
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Merged:
		return "merged"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Submission is a validated, resolved upload ready for aggregation. Upload
// entities must already be pruned by zone resolution.
type Submission struct {
	Identity    string
	LocalPlayer string
	Association model.Association
	Zone        model.Zone
	Upload      model.RawUpload
}

// Result tells the caller which record the upload landed in.
type Result struct {
	RecordID string
	Outcome  Outcome
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Pending      int `json:"pending"`
	Participants int `json:"participants"`
}

// entry is one live aggregation. recordID, association, zone and createdAt
// never change after construction; err is written once before ready closes.
type entry struct {
	recordID    string
	association model.Association
	zone        model.Zone
	createdAt   time.Time
	ready       chan struct{}
	err         error

	mu        sync.Mutex
	uploaders []model.Uploader
	uploads   []model.RawUpload
	timer     *time.Timer
	done      bool
}

// Engine owns every live aggregation.
type Engine struct {
	store     Store
	releaser  Releaser
	notifier  Notifier
	scheduler Scheduler

	window       time.Duration
	maxUploaders int
	maxUploads   int
	newID        func() (string, error)
	now          func() time.Time

	entries      *xsync.Map[string, *entry]
	participants *xsync.Map[string, int]
	closed       atomic.Bool
	log          logger.Logger
}

// New creates an engine persisting through store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		window:       defaultWindow,
		maxUploaders: defaultMaxUploaders,
		maxUploads:   defaultMaxUploads,
		newID:        func() (string, error) { return gonanoid.New() },
		now:          time.Now,
		entries:      xsync.NewMap[string, *entry](),
		participants: xsync.NewMap[string, int](),
		log:          logger.Get().Named("pending"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetScheduler installs the finalize scheduler after construction.
func (e *Engine) SetScheduler(s Scheduler) {
	e.scheduler = s
}

// Submit adds an upload to the aggregation for its association, creating
// the aggregation when none is live.
func (e *Engine) Submit(ctx context.Context, sub Submission) (Result, error) {
	key := sub.Association.String()
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if e.closed.Load() {
			return Result{}, ErrClosed
		}

		var (
			created bool
			idErr   error
		)
		ent, _ := e.entries.LoadOrCompute(key, func() (*entry, bool) {
			id, err := e.newID()
			if err != nil {
				idErr = err
				return nil, true
			}
			created = true
			return &entry{
				recordID:    id,
				association: sub.Association,
				zone:        sub.Zone,
				createdAt:   e.now(),
				ready:       make(chan struct{}),
			}, false
		})
		if idErr != nil {
			return Result{}, fmt.Errorf("generate record id: %w", idErr)
		}
		if created {
			return e.create(ctx, key, ent, sub)
		}

		select {
		case <-ent.ready:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		if ent.err != nil {
			// Creation failed and the entry is gone; race for a new one.
			continue
		}
		res, retry, err := e.merge(ctx, ent, sub)
		if retry {
			continue
		}
		return res, err
	}
}

func (e *Engine) create(ctx context.Context, key string, ent *entry, sub Submission) (Result, error) {
	uploader := model.Uploader{Identity: sub.Identity, LocalPlayer: sub.LocalPlayer}
	now := ent.createdAt
	summary := model.Summary{
		ID:          ent.recordID,
		Association: sub.Association,
		ZoneID:      sub.Zone.ID,
		Status:      model.StatusProcessing,
		Uploaders:   []model.Uploader{uploader},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.store.CreateSummary(ctx, summary); err != nil {
		ent.err = fmt.Errorf("create summary: %w", err)
		e.entries.Compute(key, func(old *entry, loaded bool) (*entry, xsync.ComputeOp) {
			if loaded && old == ent {
				return old, xsync.DeleteOp
			}
			return old, xsync.CancelOp
		})
		close(ent.ready)
		return Result{}, ent.err
	}

	ent.mu.Lock()
	ent.uploaders = append(ent.uploaders, uploader)
	ent.uploads = append(ent.uploads, sub.Upload)
	e.participate(sub.Identity, 1)
	job := model.FinalizeJob{Association: sub.Association, RecordID: ent.recordID}
	ent.timer = time.AfterFunc(e.window, func() { e.expire(job) })
	ent.mu.Unlock()
	close(ent.ready)

	metrics.UpdatePendingAggregations(e.entries.Size())
	e.log.Debug(ctx, "pending aggregation created",
		logger.String("record_id", ent.recordID),
		logger.String("association", key),
		logger.Int("zone_id", sub.Zone.ID))

	if e.notifier != nil {
		go e.notify(context.WithoutCancel(ctx), ent.recordID, sub.Association)
	}
	return Result{RecordID: ent.recordID, Outcome: Created}, nil
}

// merge reports retry when the entry was finalized while the caller waited.
func (e *Engine) merge(ctx context.Context, ent *entry, sub Submission) (Result, bool, error) {
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.done {
		return Result{}, true, nil
	}

	res := Result{RecordID: ent.recordID}
	for _, u := range ent.uploaders {
		if u.Identity == sub.Identity {
			res.Outcome = Duplicate
			return res, false, nil
		}
	}
	if len(ent.uploaders) >= e.maxUploaders {
		return Result{}, false, fmt.Errorf("%w: %d uploaders on %s", ErrUploaderCap, len(ent.uploaders), ent.recordID)
	}
	retain := ent.zone.RetainsUploads()
	if retain && len(ent.uploads) >= e.maxUploads {
		return Result{}, false, fmt.Errorf("%w: %d uploads on %s", ErrUploadCap, len(ent.uploads), ent.recordID)
	}

	uploader := model.Uploader{Identity: sub.Identity, LocalPlayer: sub.LocalPlayer}
	if err := e.store.AttributeUploader(ctx, ent.recordID, uploader); err != nil {
		return Result{}, false, fmt.Errorf("attribute uploader: %w", err)
	}
	ent.uploaders = append(ent.uploaders, uploader)
	if retain {
		ent.uploads = append(ent.uploads, sub.Upload)
	}
	e.participate(sub.Identity, 1)
	metrics.RecordPendingMerge()

	res.Outcome = Merged
	return res, false, nil
}

func (e *Engine) notify(ctx context.Context, recordID string, association model.Association) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := e.notifier.PendingCreated(ctx, recordID, association); err != nil {
		e.log.Warn(ctx, "pending created notification failed",
			logger.String("record_id", recordID), logger.Error(err))
	}
}

func (e *Engine) expire(job model.FinalizeJob) {
	ctx := context.Background()
	if e.scheduler != nil && e.scheduler.Enqueue(ctx, job) {
		return
	}
	if err := e.Finalize(ctx, job.Association, job.RecordID); err != nil && !errors.Is(err, ErrNotFound) {
		e.log.Error(ctx, "finalize failed",
			logger.String("record_id", job.RecordID), logger.Error(err))
	}
}

// Finalize closes the aggregation for association if its record id still
// matches, persists the first retained upload and releases every uploader.
// It returns ErrNotFound for stale or repeated calls.
func (e *Engine) Finalize(ctx context.Context, association model.Association, recordID string) error {
	start := time.Now()
	var ent *entry
	e.entries.Compute(association.String(), func(old *entry, loaded bool) (*entry, xsync.ComputeOp) {
		if !loaded || old.recordID != recordID {
			return old, xsync.CancelOp
		}
		ent = old
		return old, xsync.DeleteOp
	})
	if ent == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	metrics.UpdatePendingAggregations(e.entries.Size())

	<-ent.ready
	if ent.err != nil {
		return nil
	}

	ent.mu.Lock()
	ent.done = true
	if ent.timer != nil {
		ent.timer.Stop()
	}
	uploaders := append([]model.Uploader(nil), ent.uploaders...)
	first := ent.uploads[0]
	ent.uploads = nil
	ent.mu.Unlock()

	for _, u := range uploaders {
		e.participate(u.Identity, -1)
	}

	persistErr := e.persist(ctx, ent, first, uploaders)
	status, errText := model.StatusSuccess, ""
	if persistErr != nil {
		status, errText = model.StatusFailed, persistErr.Error()
	}
	statusErr := e.store.SetSummaryStatus(ctx, ent.recordID, status, errText)
	if statusErr != nil {
		statusErr = fmt.Errorf("set summary status: %w", statusErr)
	}

	if e.releaser != nil {
		for _, u := range uploaders {
			e.releaser.Release(ctx, u.Identity)
		}
	}

	metrics.RecordFinalized(string(status))
	metrics.RecordFinalizeLatency(float64(time.Since(start).Milliseconds()))
	e.log.Info(ctx, "pending aggregation finalized",
		logger.String("record_id", ent.recordID),
		logger.String("status", string(status)),
		logger.Int("uploaders", len(uploaders)))

	return errors.Join(persistErr, statusErr)
}

func (e *Engine) persist(ctx context.Context, ent *entry, up model.RawUpload, uploaders []model.Uploader) error {
	enc := model.Encounter{
		ID:               ent.recordID,
		Association:      ent.association,
		ZoneID:           ent.zone.ID,
		StartedOn:        up.StartedOn,
		FightStart:       up.FightStart,
		LastCombatPacket: up.LastCombatPacket,
		Entities:         up.Entities,
		DamageStats:      up.DamageStats,
		Uploaders:        uploaders,
		CreatedAt:        e.now(),
	}
	if err := e.store.SaveEncounter(ctx, enc); err != nil {
		return fmt.Errorf("save encounter: %w", err)
	}
	return nil
}

// FinalizeAll finalizes every live aggregation regardless of its window.
// Submit fails with ErrClosed afterwards.
func (e *Engine) FinalizeAll(ctx context.Context) error {
	e.closed.Store(true)
	var jobs []model.FinalizeJob
	e.entries.Range(func(_ string, ent *entry) bool {
		jobs = append(jobs, model.FinalizeJob{Association: ent.association, RecordID: ent.recordID})
		return true
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(finalizeParallelism)
	var (
		mu   sync.Mutex
		errs []error
	)
	for _, job := range jobs {
		g.Go(func() error {
			if err := e.Finalize(gctx, job.Association, job.RecordID); err != nil && !errors.Is(err, ErrNotFound) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// IsUploading reports whether identity is registered on a live aggregation.
func (e *Engine) IsUploading(identity string) bool {
	n, ok := e.participants.Load(identity)
	return ok && n > 0
}

// Len returns the number of live aggregations.
func (e *Engine) Len() int {
	return e.entries.Size()
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return Stats{Pending: e.entries.Size(), Participants: e.participants.Size()}
}

func (e *Engine) participate(identity string, delta int) {
	e.participants.Compute(identity, func(old int, _ bool) (int, xsync.ComputeOp) {
		if n := old + delta; n > 0 {
			return n, xsync.UpdateOp
		}
		return 0, xsync.DeleteOp
	})
}
