// Package repository persists encounter summaries and finalized encounters.
package repository

import (
	"context"
	"time"

	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/pkg/metrics"
)

// Store provides read/write access to summaries and encounters.
type Store interface {
	// CreateSummary persists a new summary. Returns ErrExists if the id is taken.
	CreateSummary(ctx context.Context, s model.Summary) error
	// AttributeUploader appends u to the summary's uploaders.
	// Returns ErrNotFound if the summary is unknown.
	AttributeUploader(ctx context.Context, recordID string, u model.Uploader) error
	// SetSummaryStatus records the finalization outcome.
	SetSummaryStatus(ctx context.Context, recordID string, status model.Status, errText string) error
	// SaveEncounter persists a finalized encounter. Returns ErrExists if the id is taken.
	SaveEncounter(ctx context.Context, enc model.Encounter) error

	// Summary returns a summary by record id.
	Summary(ctx context.Context, recordID string) (model.Summary, error)
	// SummaryByAssociation returns the most recent summary for an association.
	SummaryByAssociation(ctx context.Context, association model.Association) (model.Summary, error)
	// Encounter returns a finalized encounter by record id.
	Encounter(ctx context.Context, recordID string) (model.Encounter, error)
	// CountEncounters returns the number of finalized encounters.
	CountEncounters(ctx context.Context) (int64, error)

	Close() error
}

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}
