// Package service wires the ingestion pipeline and provides the operations
// required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/raidsync/internal/adapters/auth"
	jobqueue "github.com/okian/raidsync/internal/adapters/mq/queue"
	workerpool "github.com/okian/raidsync/internal/adapters/mq/worker"
	"github.com/okian/raidsync/internal/adapters/repository"
	"github.com/okian/raidsync/internal/domain/admission"
	"github.com/okian/raidsync/internal/domain/association"
	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/internal/domain/pending"
	"github.com/okian/raidsync/internal/domain/validate"
	"github.com/okian/raidsync/internal/domain/zone"
	"github.com/okian/raidsync/pkg/logger"
	"github.com/okian/raidsync/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultWindow        = 15 * time.Second
	defaultMaxUploaders  = 8
	defaultMaxUploads    = 8
	defaultSweepSchedule = "@every 1m"
	defaultQueueSize     = 4096
	stopTimeout          = 30 * time.Second
)

// Store is the document store used by the service.
type Store = repository.Store

// Gateway is the system-of-record surface the service depends on.
type Gateway interface {
	SystemConfig(ctx context.Context) (model.SystemConfig, error)
	PendingCreated(ctx context.Context, recordID string, association model.Association) error
}

// Authenticator resolves an Authorization header into an identity.
type Authenticator interface {
	Resolve(ctx context.Context, header string) (model.Identity, error)
}

// UploadResult is returned for an accepted upload.
type UploadResult struct {
	RecordID string `json:"id"`
	Status   string `json:"status"`
}

// Service runs the ingestion pipeline.
type Service struct {
	mu sync.RWMutex

	store    Store
	gateway  Gateway
	auth     Authenticator
	catalog  *zone.Catalog
	resolver *zone.Resolver

	guard      *admission.Guard
	engine     *pending.Engine
	queue      *jobqueue.InMemoryQueue
	workerPool *workerpool.Pool

	window        time.Duration
	maxUploaders  int
	maxUploads    int
	sweepSchedule string
	workerCount   int
	queueSize     int

	started bool
	logger  logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		window:        defaultWindow,
		maxUploaders:  defaultMaxUploaders,
		maxUploads:    defaultMaxUploads,
		sweepSchedule: defaultSweepSchedule,
		workerCount:   runtime.NumCPU() * 2,
		queueSize:     defaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the pipeline and starts the background workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.gateway == nil || s.auth == nil {
		return fmt.Errorf("start service: gateway and authenticator are required")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using in-memory store")
	}
	if s.catalog == nil {
		s.catalog = zone.Default()
	}
	s.resolver = zone.NewResolver(s.catalog)

	s.guard = admission.New(
		admission.WithMaxAge(2*s.window),
		admission.WithSweepSchedule(s.sweepSchedule),
	)
	s.queue = jobqueue.NewInMemoryQueue(
		jobqueue.WithCapacity(s.queueSize),
		jobqueue.WithBufferSize(s.queueSize),
	)
	s.engine = pending.New(s.store,
		pending.WithWindow(s.window),
		pending.WithMaxUploaders(s.maxUploaders),
		pending.WithMaxUploads(s.maxUploads),
		pending.WithReleaser(s.guard),
		pending.WithNotifier(s.gateway),
		pending.WithScheduler(s.queue),
	)
	s.guard.SetParticipation(s.engine)

	if err := s.guard.Start(ctx); err != nil {
		return err
	}
	s.workerPool = workerpool.NewPool(s.workerCount, s.queue, s.engine,
		workerpool.WithLogger(s.logger.Named("finalize")),
	)
	s.workerPool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "ingestion service started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("window", s.window),
		logger.Int("zones", len(s.catalog.Zones())),
	)
	return nil
}

// Stop drains the finalize queue, flushes every live aggregation and closes
// the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping ingestion service...")

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "worker pool shutdown failed", logger.Error(err))
	}
	if err := s.engine.FinalizeAll(ctx); err != nil {
		s.logger.Error(ctx, "flushing pending aggregations failed", logger.Error(err))
	}
	s.guard.Stop()
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "closing store failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "ingestion service stopped")
}

// Upload authenticates the caller, gates on system state, runs the upload
// through validation, zone resolution and association, and submits it to the
// pending aggregation for its encounter.
func (s *Service) Upload(ctx context.Context, authorization string, raw *model.RawUpload) (UploadResult, error) {
	start := time.Now()
	res, err := s.upload(ctx, authorization, raw)
	metrics.RecordUpload(uploadOutcome(res, err))
	metrics.RecordUploadLatency(float64(time.Since(start).Milliseconds()))
	return res, err
}

func (s *Service) upload(ctx context.Context, authorization string, raw *model.RawUpload) (UploadResult, error) {
	// Held until Submit returns so Stop cannot flush the engine and close
	// the store under an in-flight upload.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return UploadResult{}, ErrNotStarted
	}

	identity, err := s.authenticate(ctx, authorization)
	if err != nil {
		return UploadResult{}, err
	}
	if err := s.checkSystem(ctx); err != nil {
		return UploadResult{}, err
	}
	if !identity.Can(model.PermissionUpload) {
		return UploadResult{}, fmt.Errorf("%w: identity %s", ErrForbidden, identity.ID)
	}
	if identity.MaxUploads > 0 && identity.CurrentUploads >= identity.MaxUploads {
		return UploadResult{}, fmt.Errorf("%w: %d of %d", ErrQuotaExceeded, identity.CurrentUploads, identity.MaxUploads)
	}

	if err := validate.Validate(raw); err != nil {
		s.logger.Info(ctx, "upload rejected", logger.String("identity", identity.ID), logger.Error(err))
		return UploadResult{}, err
	}
	resolution, err := s.resolver.Resolve(raw.Entities)
	if err != nil {
		s.logger.Info(ctx, "upload rejected", logger.String("identity", identity.ID), logger.Error(err))
		return UploadResult{}, err
	}
	key := association.Derive(resolution.Zone, resolution.Entities)

	if err := s.guard.TryAdmit(ctx, identity.ID); err != nil {
		return UploadResult{}, err
	}
	defer s.guard.Release(ctx, identity.ID)

	upload := *raw
	upload.Entities = resolution.Entities
	result, err := s.engine.Submit(ctx, pending.Submission{
		Identity:    identity.ID,
		LocalPlayer: raw.LocalPlayer,
		Association: key,
		Zone:        resolution.Zone,
		Upload:      upload,
	})
	if errors.Is(err, pending.ErrClosed) {
		return UploadResult{}, fmt.Errorf("%w: %w", ErrNotStarted, err)
	}
	if err != nil {
		s.logger.Warn(ctx, "submit failed",
			logger.String("identity", identity.ID),
			logger.String("association", key.String()),
			logger.Error(err),
		)
		return UploadResult{}, err
	}

	s.logger.Debug(ctx, "upload accepted",
		logger.String("identity", identity.ID),
		logger.String("record", result.RecordID),
		logger.String("outcome", result.Outcome.String()),
		logger.Int("zone", resolution.Zone.ID),
	)
	return UploadResult{RecordID: result.RecordID, Status: result.Outcome.String()}, nil
}

func (s *Service) authenticate(ctx context.Context, authorization string) (model.Identity, error) {
	identity, err := s.auth.Resolve(ctx, authorization)
	switch {
	case err == nil:
		return identity, nil
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return model.Identity{}, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return model.Identity{}, err
	default:
		return model.Identity{}, fmt.Errorf("%w: resolve identity: %w", ErrUpstream, err)
	}
}

func (s *Service) checkSystem(ctx context.Context) error {
	cfg, err := s.gateway.SystemConfig(ctx)
	if err != nil {
		return fmt.Errorf("%w: system config: %w", ErrUpstream, err)
	}
	if !cfg.Initialized || !cfg.UploadsEnabled {
		return ErrUploadsDisabled
	}
	if cfg.MaxEncounters <= 0 {
		return nil
	}
	n, err := s.store.CountEncounters(ctx)
	if err != nil {
		return fmt.Errorf("count encounters: %w", err)
	}
	if n >= cfg.MaxEncounters {
		return fmt.Errorf("%w: %d encounters", ErrEncounterCeiling, n)
	}
	return nil
}

// Summary returns the summary for recordID.
func (s *Service) Summary(ctx context.Context, recordID string) (model.Summary, error) {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return model.Summary{}, ErrNotStarted
	}
	return store.Summary(ctx, recordID)
}

// Finalize finalizes the live aggregation for association now instead of
// waiting for its window.
func (s *Service) Finalize(ctx context.Context, association model.Association, recordID string) error {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		return ErrNotStarted
	}
	return engine.Finalize(ctx, association, recordID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":      s.started,
		"workerCount":  s.workerCount,
		"queueSize":    s.queueSize,
		"window":       s.window.String(),
		"maxUploaders": s.maxUploaders,
		"maxUploads":   s.maxUploads,
	}
	if c, ok := s.gateway.(interface{ Connected() bool }); ok {
		stats["rpcConnected"] = c.Connected()
	}

	if s.started {
		ps := s.engine.Stats()
		queueLen := s.queue.Len(ctx)
		stats["pending"] = ps.Pending
		stats["participants"] = ps.Participants
		stats["admitted"] = s.guard.Size()
		stats["queueLength"] = queueLen

		metrics.UpdatePendingAggregations(ps.Pending)
		metrics.UpdateAdmissionActive(s.guard.Size())
		metrics.UpdateQueueSize(queueLen)
		if n, err := s.store.CountEncounters(ctx); err == nil {
			stats["encounters"] = n
		}
	}
	return stats
}

func uploadOutcome(res UploadResult, err error) string {
	switch {
	case err == nil:
		return res.Status
	case errors.Is(err, validate.ErrMalformed):
		return "malformed"
	case errors.Is(err, validate.ErrImplausible):
		return "implausible"
	case errors.Is(err, zone.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, admission.ErrTooManyUploads), errors.Is(err, ErrQuotaExceeded):
		return "throttled"
	case errors.Is(err, pending.ErrUploaderCap), errors.Is(err, pending.ErrUploadCap):
		return "aggregation_full"
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUploadsDisabled), errors.Is(err, ErrEncounterCeiling):
		return "unavailable"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	default:
		return "error"
	}
}
