package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const defaultMaxRetries = 2

// retryBackoff is the wait before attempt n (n >= 1).
var retryBackoff = func(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * 500 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
	return base + jitter
}

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry executes a speech API request, retrying network failures,
// 5xx and 429. A cancelled context stops immediately.
func doWithRetry(ctx context.Context, client *http.Client, retries int, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff(attempt)
			logger.Debug("retrying speech request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			logger.Warn("speech API server error", "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", retries, lastErr)
}

// apiError reads a non-2xx response into an error and closes the body.
func apiError(api string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return fmt.Errorf("%s API error (status %d): %s", api, resp.StatusCode, string(body))
}
