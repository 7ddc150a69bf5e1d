// Package compositor calls the external try-on API that blends a person
// photo with a garment photo into a composite preview.
package compositor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/everwear/tryonbot/internal/config"
)

// ErrCompositionFailed marks an upstream failure, as opposed to transport
// errors. Callers refund a consumed paid credit on either.
var ErrCompositionFailed = errors.New("composition failed")

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// Result is the composite image. The API returns a URL; Bytes is filled by
// Download for transports that need the raw payload.
type Result struct {
	URL   string
	Bytes []byte
	Mime  string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		apiKey:  cfg.TryOnAPIKey,
		baseURL: strings.TrimRight(cfg.TryOnBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Compose submits a try-on task and polls it to completion. The overall
// deadline comes from ctx; callers bound it with the compose timeout.
func (c *Client) Compose(ctx context.Context, personURL, garmentURL string) (*Result, error) {
	taskID, err := c.createTask(ctx, personURL, garmentURL)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return c.pollTask(ctx, taskID)
}

func (c *Client) createTask(ctx context.Context, personURL, garmentURL string) (string, error) {
	payload := map[string]any{
		"person_image_url":  personURL,
		"garment_image_url": garmentURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/tryon/run", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post tryon: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("tryon create task failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return "", fmt.Errorf("tryon error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var createResp struct {
		TaskID string `json:"task_id"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrCompositionFailed, createResp.Error)
	}
	if createResp.TaskID == "" {
		return "", fmt.Errorf("empty task_id in response")
	}

	c.log.Info("tryon task created", "task_id", createResp.TaskID)
	return createResp.TaskID, nil
}

func (c *Client) pollTask(ctx context.Context, taskID string) (*Result, error) {
	endpoint, err := url.Parse(c.baseURL + "/api/v1/tryon/status")
	if err != nil {
		return nil, fmt.Errorf("parse status endpoint: %w", err)
	}
	params := url.Values{}
	params.Set("task_id", taskID)
	endpoint.RawQuery = params.Encode()
	fullURL := endpoint.String()

	pollInterval := 2 * time.Second

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}
		rawBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode >= 300 {
			c.log.Error("tryon poll failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
			return nil, fmt.Errorf("tryon error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
		}

		var statusResp struct {
			Status    string `json:"status"`
			ResultURL string `json:"result_url"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(rawBody, &statusResp); err != nil {
			return nil, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
		}

		switch statusResp.Status {
		case "completed", "success":
			if statusResp.ResultURL == "" {
				return nil, fmt.Errorf("%w: empty result url", ErrCompositionFailed)
			}
			c.log.Info("tryon task completed", "task_id", taskID, "attempt", attempt+1)
			return &Result{URL: statusResp.ResultURL}, nil
		case "failed", "error":
			msg := statusResp.Error
			if msg == "" {
				msg = "unknown error"
			}
			c.log.Error("tryon task failed", "task_id", taskID, "msg", msg)
			return nil, fmt.Errorf("%w: %s", ErrCompositionFailed, msg)
		case "pending", "queued", "processing", "":
			if attempt%10 == 0 {
				c.log.Info("tryon task waiting", "task_id", taskID, "attempt", attempt+1)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pollInterval):
			}
		default:
			return nil, fmt.Errorf("unknown task status: %s", statusResp.Status)
		}
	}
}

// Download fetches the composite bytes so they can be re-uploaded to the
// media store and delivered over the chat transport.
func (c *Client) Download(ctx context.Context, result *Result) error {
	if result == nil || result.URL == "" {
		return fmt.Errorf("no result url to download")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("result status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read result body: %w", err)
	}
	result.Bytes = data
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		result.Mime = ct
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
