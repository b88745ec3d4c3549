package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	maxRetries      = 3
	maxRetryElapsed = 30 * time.Second
	maxBodyBytes    = 1 << 20
)

// retryInitialInterval is the first backoff delay; tests shorten it.
var retryInitialInterval = time.Second

// GatewayError is a non-success HTTP response from a collaborator. Body is
// forwarded to users when a delivery may have failed.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying (5xx, 429).
func (e *GatewayError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxElapsedTime = maxRetryElapsed
	return backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)
}

// doWithRetry sends a request built by buildReq and returns the response
// body. Network failures, 5xx and 429 are retried with exponential backoff;
// other non-2xx responses fail immediately with a *GatewayError.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) ([]byte, error) {
	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		req, err := buildReq()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			gerr := &GatewayError{StatusCode: resp.StatusCode, Body: string(data)}
			if gerr.Retryable() {
				return gerr
			}
			return backoff.Permanent(gerr)
		}
		body = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("request failed, will retry", "attempt", attempt, "backoff", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, newRetryBackoff(ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}
