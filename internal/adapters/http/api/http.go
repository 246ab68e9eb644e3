// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/raidsync/internal/adapters/auth"
	"github.com/okian/raidsync/internal/adapters/repository"
	service "github.com/okian/raidsync/internal/app"
	"github.com/okian/raidsync/internal/domain/admission"
	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/internal/domain/pending"
	"github.com/okian/raidsync/internal/domain/validate"
	"github.com/okian/raidsync/internal/domain/zone"
	"github.com/okian/raidsync/pkg/metrics"
)

// DefaultMaxBodyBytes bounds both the compressed and the inflated upload.
const DefaultMaxBodyBytes = 5 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Upload(ctx context.Context, authorization string, raw *model.RawUpload) (service.UploadResult, error)
	Summary(ctx context.Context, recordID string) (model.Summary, error)
}

// Server wires HTTP routes for the ingestion API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	uploadHandler   *UploadHandler
	summaryHandler  *SummaryHandler
	maxBodyBytes    int64
	readinessChecks map[string]func() bool
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxBodyBytes bounds upload sizes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithReadinessCheck adds a named check reported by /healthz.
func WithReadinessCheck(name string, check func() bool) Option {
	return func(s *Server) {
		if check != nil {
			s.readinessChecks[name] = check
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		maxBodyBytes:    DefaultMaxBodyBytes,
		readinessChecks: map[string]func() bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler(s.readinessChecks)
	s.statsHandler = NewStatsHandler(statsProvider)
	s.uploadHandler = NewUploadHandler(deps, s.maxBodyBytes)
	s.summaryHandler = NewSummaryHandler(deps)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/upload", MetricsMiddleware(s.uploadHandler.HandlePostUpload, "upload"))
	mux.HandleFunc("/summaries/", MetricsMiddleware(s.summaryHandler.HandleGetSummary, "summaries"))
}

// Handler returns every route behind the request id middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return RequestID(mux)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// classify maps a pipeline error to a status code and an error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, validate.ErrMalformed):
		return http.StatusBadRequest, "invalid_upload"
	case errors.Is(err, validate.ErrImplausible), errors.Is(err, zone.ErrUnsupported):
		return http.StatusBadRequest, "unsupported_upload"
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, admission.ErrTooManyUploads), errors.Is(err, service.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "too_many_uploads"
	case errors.Is(err, pending.ErrUploaderCap), errors.Is(err, pending.ErrUploadCap):
		return http.StatusConflict, "aggregation_full"
	case errors.Is(err, service.ErrUploadsDisabled), errors.Is(err, service.ErrEncounterCeiling),
		errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, service.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrLengthRequired):
		return http.StatusLengthRequired, "length_required"
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
