// Package remote implements the HTTP client for the shared embedding server.
//
// The server exposes stateless embedding plus a small job-coordination API so
// multiple indexer instances can share one GPU: jobs are queued FIFO, one job
// embeds at a time, and each instance reports absolute progress for its own
// job. Completed jobs are dropped from the server's live table, so a job id
// can stop being recognized after a server restart; callers treat that as a
// signal to fall back to their local checkpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"carto/internal/errors"
	"carto/internal/logging"
)

// maxBodySize caps response reads; embedding batches dominate and stay well
// under this even at 64 inputs x 4096 dims.
const maxBodySize = 64 << 20

// Capabilities describes the embedding server's model and batching limits.
type Capabilities struct {
	Model                string `json:"model"`
	Dimensions           int    `json:"dimensions"`
	RecommendedBatchSize int    `json:"recommended_batch_size"`
	MaxBatchSize         int    `json:"max_batch_size"`
}

// Health is the embedding server's health report.
type Health struct {
	Status     string `json:"status"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// Registration is the server's response to registering an indexing job.
type Registration struct {
	JobID                string `json:"job_id"`
	QueuePosition        int    `json:"queue_position"`
	RecommendedBatchSize int    `json:"recommended_batch_size"`
}

// JobStatus is the server-side view of a registered job.
type JobStatus struct {
	JobID         string `json:"job_id"`
	State         string `json:"state"`
	TotalChunks   int    `json:"total_chunks"`
	CurrentChunks int    `json:"current_chunks"`
	QueuePosition int    `json:"queue_position"`
}

// Client talks to one embedding server on behalf of one indexer instance.
// The instance id distinguishes this process's jobs from other machines
// sharing the same server.
type Client struct {
	baseURL    string
	instanceID string
	client     *http.Client
	logger     *logging.Logger
}

// New creates a client for the embedding server at baseURL.
func New(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		instanceID: uuid.NewString(),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// InstanceID returns the id this client registers jobs under.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// Embed requests embedding vectors for a batch of texts. The response order
// matches the input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := struct {
		Inputs []string `json:"inputs"`
	}{Inputs: texts}

	body, err := c.post(ctx, "/embed", req)
	if err != nil {
		return nil, err
	}

	var vectors [][]float32
	if err := json.Unmarshal(body, &vectors); err != nil {
		return nil, errors.New(errors.ProviderError, "malformed embedding response", err)
	}
	if len(vectors) != len(texts) {
		return nil, errors.Newf(errors.ProviderError,
			"embedding count mismatch: sent %d inputs, got %d vectors", len(texts), len(vectors))
	}
	return vectors, nil
}

// Capabilities fetches the server's model and batching limits.
func (c *Client) Capabilities(ctx context.Context) (*Capabilities, error) {
	body, err := c.get(ctx, "/capabilities")
	if err != nil {
		return nil, err
	}

	var caps Capabilities
	if err := json.Unmarshal(body, &caps); err != nil {
		return nil, errors.New(errors.ProviderError, "malformed capabilities response", err)
	}
	return &caps, nil
}

// Health checks whether the server is up and which model it serves.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	body, err := c.get(ctx, "/health")
	if err != nil {
		return nil, err
	}

	var h Health
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, errors.New(errors.ProviderError, "malformed health response", err)
	}
	return &h, nil
}

// Register queues an indexing job of totalChunks chunks and returns the
// server-assigned job id, queue position, and recommended batch size.
func (c *Client) Register(ctx context.Context, totalChunks int) (*Registration, error) {
	req := struct {
		InstanceID  string `json:"instance_id"`
		TotalChunks int    `json:"total_chunks"`
	}{InstanceID: c.instanceID, TotalChunks: totalChunks}

	body, err := c.post(ctx, "/jobs/register", req)
	if err != nil {
		return nil, err
	}

	var reg Registration
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, errors.New(errors.ProviderError, "malformed registration response", err)
	}

	c.logger.Info("Registered indexing job", map[string]interface{}{
		"jobId":         reg.JobID,
		"totalChunks":   totalChunks,
		"queuePosition": reg.QueuePosition,
	})
	return &reg, nil
}

// ReportProgress reports the absolute number of chunks embedded so far.
// Progress counts are absolute, not deltas, so a repeated report after a
// retried batch is harmless.
func (c *Client) ReportProgress(ctx context.Context, jobID string, current int) error {
	req := struct {
		Current int `json:"current"`
	}{Current: current}

	_, err := c.post(ctx, "/jobs/"+url.PathEscape(jobID)+"/progress", req)
	return err
}

// Complete marks the job finished. The server drops completed jobs from its
// live table, so the id becomes unknown afterwards.
func (c *Client) Complete(ctx context.Context, jobID string) error {
	_, err := c.post(ctx, "/jobs/"+url.PathEscape(jobID)+"/complete", nil)
	return err
}

// Fail marks the job failed with a reason.
func (c *Client) Fail(ctx context.Context, jobID string, reason string) error {
	req := struct {
		Error string `json:"error"`
	}{Error: reason}

	_, err := c.post(ctx, "/jobs/"+url.PathEscape(jobID)+"/fail", req)
	return err
}

// Cancel withdraws a queued or running job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil)
	return err
}

// GetJob fetches the server-side status of a job. An unrecognized id (the
// server restarted or already dropped the job) returns a JobNotFound error;
// the caller's local checkpoint is then authoritative.
func (c *Client) GetJob(ctx context.Context, jobID string) (*JobStatus, error) {
	body, err := c.get(ctx, "/jobs/"+url.PathEscape(jobID))
	if err != nil {
		return nil, err
	}

	var status JobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, errors.New(errors.ProviderError, "malformed job status response", err)
	}
	return &status, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.New(errors.InternalError, "failed to marshal request body", err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, errors.New(errors.ProviderError, "invalid server URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.New(errors.InternalError, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "carto/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.ProviderError, "embedding server unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.New(errors.ProviderError, "failed to read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Newf(errors.JobNotFound, "server does not recognize %s %s", method, path)
	case resp.StatusCode >= 400:
		return nil, errors.Newf(errors.ProviderError,
			"server returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}
