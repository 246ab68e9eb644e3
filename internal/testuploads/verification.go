package testuploads

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/pkg/logger"
)

// verifyResults checks that every encounter produced exactly one record and
// that the record finalized with every successful uploader attributed.
func verifyResults(ctx context.Context, config *Config, client *HTTPClient, results []Result, stats *Stats) error {
	records := make(map[int]map[string]int)
	for _, r := range results {
		if r.RecordID == "" {
			continue
		}
		if records[r.Encounter] == nil {
			records[r.Encounter] = make(map[string]int)
		}
		records[r.Encounter][r.RecordID]++
	}

	for enc, ids := range records {
		if len(ids) != 1 {
			stats.Mismatched++
			logger.Get().Warn(ctx, "encounter split across records",
				logger.Int("encounter", enc),
				logger.Int("records", len(ids)))
		}
	}

	deadline := time.Now().Add(config.Settle)
	for _, ids := range records {
		for id, uploads := range ids {
			sum, err := waitFinalized(ctx, client, id, deadline)
			if err != nil {
				return err
			}
			if sum.Status == model.StatusSuccess {
				stats.Finalized++
			}
			if len(sum.Uploaders) != uploads {
				stats.Mismatched++
				logger.Get().Warn(ctx, "uploader attribution mismatch",
					logger.String("record", id),
					logger.Int("uploaders", len(sum.Uploaders)),
					logger.Int("accepted", uploads))
			}
		}
	}

	if stats.Mismatched > 0 {
		return fmt.Errorf("%d encounters did not aggregate cleanly", stats.Mismatched)
	}
	logger.Get().Info(ctx, "result verification completed", logger.Int("records", stats.Finalized))
	return nil
}

// waitFinalized polls a summary until it leaves PROCESSING or deadline passes.
func waitFinalized(ctx context.Context, client *HTTPClient, id string, deadline time.Time) (model.Summary, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		sum, status, err := client.Summary(ctx, id)
		if err != nil {
			return model.Summary{}, fmt.Errorf("fetch summary %s: %w", id, err)
		}
		if status == 200 && sum.Status != model.StatusProcessing {
			return sum, nil
		}
		if time.Now().After(deadline) {
			return model.Summary{}, fmt.Errorf("summary %s still %s after settle period", id, sum.Status)
		}
		select {
		case <-ctx.Done():
			return model.Summary{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
