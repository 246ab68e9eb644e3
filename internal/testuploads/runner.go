package testuploads

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/raidsync/pkg/logger"
)

// Run executes the complete upload test.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting raidsync upload test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("encounters", config.Encounters),
		logger.Int("uploaders", config.Uploaders),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout),
		logger.Bool("verbose", config.Verbose))

	client := NewHTTPClient(config.BaseURL, config.SigningKey, config.Timeout)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate encounters
	encounters, err := Generate(ctx, config.Encounters, config.Uploaders)
	if err != nil {
		return fmt.Errorf("encounter generation failed: %w", err)
	}

	// Step 3: Submit uploads concurrently
	results, err := submitUploads(ctx, config, client, encounters, stats)
	if err != nil {
		return fmt.Errorf("upload submission failed: %w", err)
	}

	// Step 4: Wait for finalization and verify
	if err := verifyResults(ctx, config, client, results, stats); err != nil {
		return fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", stats.Failed, stats.UploadsSubmitted)
	}

	logger.Get().Info(ctx, "test completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	resp, err := client.Get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	logger.Get().Info(ctx, "service is healthy", logger.String("health", string(body)))
	return nil
}

// displayFinalStats logs the final test statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, uploadsPerSecond float64
	if stats.UploadsSubmitted > 0 {
		successRate = float64(stats.Created+stats.Merged) / float64(stats.UploadsSubmitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		uploadsPerSecond = float64(stats.UploadsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("uploadsSubmitted", stats.UploadsSubmitted),
		logger.Int("created", stats.Created),
		logger.Int("merged", stats.Merged),
		logger.Int("failed", stats.Failed),
		logger.Int("finalized", stats.Finalized),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("uploadsPerSecond", uploadsPerSecond))
}
