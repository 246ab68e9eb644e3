package testuploads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/okian/raidsync/internal/adapters/auth"
	"github.com/okian/raidsync/internal/adapters/http/api"
	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/pkg/logger"
)

// HTTPClient wraps http.Client with the upload wire format.
type HTTPClient struct {
	client     *http.Client
	baseURL    string
	signingKey string
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL, signingKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:     &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		signingKey: signingKey,
	}
}

// Get performs a GET request against path.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// PostUpload gzips body and posts it as identity.
func (c *HTTPClient) PostUpload(ctx context.Context, identity string, body []byte) (*http.Response, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("compress upload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	token := auth.Sign(c.signingKey, "", identity, time.Now().Add(tokenLifetime))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set(api.InflatedLengthHeader, strconv.Itoa(len(body)))
	return c.client.Do(req)
}

// Summary fetches a summary by record id.
func (c *HTTPClient) Summary(ctx context.Context, id string) (model.Summary, int, error) {
	resp, err := c.Get(ctx, "/summaries/"+id)
	if err != nil {
		return model.Summary{}, 0, err
	}
	data, err := readResponseBody(resp)
	if err != nil {
		return model.Summary{}, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return model.Summary{}, resp.StatusCode, nil
	}
	var sum model.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return model.Summary{}, resp.StatusCode, fmt.Errorf("decode summary: %w", err)
	}
	return sum, resp.StatusCode, nil
}

// readResponseBody reads and closes the response body.
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// submitUploads posts every upload with at most workers in flight. Uploads
// of one encounter are interleaved with the others so merges race.
func submitUploads(ctx context.Context, config *Config, client *HTTPClient, encounters []Encounter, stats *Stats) ([]Result, error) {
	logger.Get().Info(ctx, "submitting uploads", logger.Int("workers", config.Workers))

	var (
		mu      sync.Mutex
		results []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Workers)

	for slot := 0; slot < config.Uploaders; slot++ {
		for i := range encounters {
			if slot >= len(encounters[i].Uploads) {
				continue
			}
			up := encounters[i].Uploads[slot]
			idx := i
			g.Go(func() error {
				res := submitSingleUpload(gctx, client, idx, up)
				if config.Verbose {
					logger.Get().Debug(gctx, "upload answered",
						logger.Int("encounter", idx),
						logger.String("identity", up.Identity),
						logger.Int("status", res.Status),
						logger.String("outcome", res.Outcome))
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return gctx.Err()
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		stats.UploadsSubmitted++
		switch r.Outcome {
		case "created":
			stats.Created++
		case "merged", "duplicate":
			stats.Merged++
		default:
			stats.Failed++
		}
	}
	logger.Get().Info(ctx, "upload submission completed",
		logger.Int("created", stats.Created),
		logger.Int("merged", stats.Merged),
		logger.Int("failed", stats.Failed))
	return results, nil
}

// submitSingleUpload posts one upload and classifies the answer.
func submitSingleUpload(ctx context.Context, client *HTTPClient, encounter int, up Upload) Result {
	res := Result{Encounter: encounter, Identity: up.Identity, Outcome: "failed"}
	resp, err := client.PostUpload(ctx, up.Identity, up.Body)
	if err != nil {
		return res
	}
	res.Status = resp.StatusCode
	body, err := readResponseBody(resp)
	if err != nil {
		return res
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return res
	}
	var ack struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return res
	}
	res.RecordID = ack.ID
	res.Outcome = ack.Status
	return res
}
