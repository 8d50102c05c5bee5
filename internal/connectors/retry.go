package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/pkg/httpx"
)

// providerHTTPError lets httpx classify provider responses for retry.
type providerHTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("provider http %d: %s", e.StatusCode, e.Body)
}

func (e *providerHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// apiClient is the shared provider-call wrapper every connector composes:
// exponential backoff with jitter, honoring Retry-After on 429/503.
type apiClient struct {
	log        *logger.Logger
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	// per-request decoration (auth headers etc.)
	prepare func(req *http.Request)
}

func newAPIClient(log *logger.Logger, prepare func(req *http.Request)) *apiClient {
	return &apiClient{
		log:        log,
		http:       &http.Client{Timeout: 60 * time.Second},
		maxRetries: 4,
		baseDelay:  1 * time.Second,
		maxDelay:   30 * time.Second,
		prepare:    prepare,
	}
}

func (c *apiClient) doOnce(ctx context.Context, method, url string, body io.Reader, contentType string) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.prepare != nil {
		c.prepare(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, resp, &providerHTTPError{StatusCode: resp.StatusCode, Body: truncateForLog(string(raw))}
	}
	return raw, resp, nil
}

func (c *apiClient) do(ctx context.Context, method, url string, mkBody func() (io.Reader, string)) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var body io.Reader
		var contentType string
		if mkBody != nil {
			body, contentType = mkBody()
		}

		raw, resp, err := c.doOnce(ctx, method, url, body, contentType)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries+1 {
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, httpx.Backoff(attempt, c.baseDelay, c.maxDelay), c.maxDelay)
		c.log.Warn("Provider request retrying",
			"url", url,
			"attempt", attempt,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleepFor):
		}
	}
	return nil, lastErr
}

func (c *apiClient) getJSON(ctx context.Context, url string, out any) error {
	raw, err := c.do(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("provider decode error: %w", err)
	}
	return nil
}

func (c *apiClient) getBytes(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, "GET", url, nil)
}

func truncateForLog(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
