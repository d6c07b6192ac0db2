// Package engine is the HTTP client for the co-resident inference API.
//
// The adapter only knows the engine as a submit endpoint at the job_type
// path and a polled status endpoint; everything inside the request body
// is opaque.
package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// Client implements domain.EngineClient against a local base URL.
type Client struct {
	baseURL      string
	submitClient *http.Client
	statusClient *http.Client
}

// New constructs a Client. submitTimeout bounds the synchronous submit
// acknowledgement; statusTimeout bounds each status poll request.
func New(baseURL string, submitTimeout, statusTimeout time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		submitClient: &http.Client{Timeout: submitTimeout},
		statusClient: &http.Client{Timeout: statusTimeout},
	}
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status      string `json:"status"`
	ResultS3URI string `json:"result_s3_uri"`
	Error       string `json:"error"`
}

// Submit posts the request body at the job_type path and returns the
// engine's internal job id.
func (c *Client) Submit(ctx domain.Context, jobType string, body json.RawMessage) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+jobType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("op=engine.submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.submitClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=engine.submit: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("op=engine.submit status=%d body=%s", resp.StatusCode, string(b))
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("op=engine.submit decode: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("op=engine.submit: response has no job_id")
	}
	return out.JobID, nil
}

// Status reads the engine's job state.
func (c *Client) Status(ctx domain.Context, engineJobID string) (domain.EngineStatus, error) {
	url := fmt.Sprintf("%s/api/v1/jobs/%s", c.baseURL, engineJobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.EngineStatus{}, fmt.Errorf("op=engine.status: %w", err)
	}
	resp, err := c.statusClient.Do(req)
	if err != nil {
		return domain.EngineStatus{}, fmt.Errorf("op=engine.status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.EngineStatus{}, fmt.Errorf("op=engine.status status=%d", resp.StatusCode)
	}
	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.EngineStatus{}, fmt.Errorf("op=engine.status decode: %w", err)
	}
	return domain.EngineStatus{Status: out.Status, ResultURL: out.ResultS3URI, Error: out.Error}, nil
}

// Check probes the engine's health endpoint at startup. Best effort; the
// adapter starts anyway and retries on actual work.
func (c *Client) Check(ctx domain.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("op=engine.check: %w", err)
	}
	resp, err := c.statusClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=engine.check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=engine.check status=%d", resp.StatusCode)
	}
	return nil
}
