package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient is the shared outbound HTTP path for all adapters: bounded
// timeout, capped retries on 429 and 5xx with exponential backoff, immediate
// return on anything else.
type apiClient struct {
	http        *http.Client
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(d time.Duration)
}

func newAPIClient(timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &apiClient{
		http:        &http.Client{Timeout: timeout},
		maxAttempts: 3,
		baseDelay:   time.Second,
		sleep:       time.Sleep,
	}
}

// do executes a request built fresh per attempt (bodies are not rewindable).
// Returns the response body and status; err is set only when every attempt
// failed at the transport level.
func (c *apiClient) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, int, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay<<uint(attempt-1) + time.Duration(rand.Int63n(int64(c.baseDelay)))
			c.sleep(delay)
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		req, err := build()
		if err != nil {
			return nil, 0, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			slog.Info("platform request failed, retrying", "url", req.URL.Host, "error", err.Error())
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = nil
			slog.Info("platform returned retryable status",
				"url", req.URL.Host,
				"status", resp.StatusCode)
			if attempt == c.maxAttempts-1 {
				return body, resp.StatusCode, nil
			}
			continue
		}

		return body, resp.StatusCode, nil
	}
	return nil, 0, lastErr
}

func (c *apiClient) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

func (c *apiClient) postJSON(ctx context.Context, endpoint string, headers map[string]string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
}

func (c *apiClient) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
}
