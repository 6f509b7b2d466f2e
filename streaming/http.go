package streaming

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meetscribe/meetscribe/schemas"
)

// httpTimeout is the overall budget for one GET including the body read.
const httpTimeout = 300 * time.Second

// retriableStatus lists the response codes worth another GET attempt.
var retriableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// HTTPReader streams audio over plain GET. Presigned object-store URLs land
// here. Transport errors and retriable statuses are retried up to 3 attempts
// with the 2^attempt backoff curve; other statuses fail immediately.
type HTTPReader struct {
	client *http.Client
	logger schemas.Logger

	backoffUnit time.Duration
}

// NewHTTPReader builds the reader with the standard 300 s overall timeout.
func NewHTTPReader(logger schemas.Logger) *HTTPReader {
	return &HTTPReader{
		client:      &http.Client{Timeout: httpTimeout},
		logger:      logger,
		backoffUnit: time.Second,
	}
}

// Read issues the GET and hands back the body in 8 KiB windows. The caller
// owns the returned stream and must close it.
func (r *HTTPReader) Read(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := r.backoffUnit << attempt
			r.logger.Warn("http read of %s retrying in %s (attempt %d/%d): %v",
				rawURL, backoff, attempt+1, maxAttempts, lastErr)
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, schemas.Permanent(fmt.Errorf("streaming: build request for %q: %w", rawURL, err))
		}
		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = &schemas.StreamingError{URL: rawURL, Err: err}
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return &windowed{rc: resp.Body}, nil
		}

		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		statusErr := &schemas.StreamingError{
			URL:       rawURL,
			Throttled: resp.StatusCode == http.StatusTooManyRequests,
			Err:       fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
		if !retriableStatus[resp.StatusCode] {
			return nil, statusErr
		}
		lastErr = statusErr
	}
	return nil, &schemas.NetworkRetryExhaustedError{URL: rawURL, Attempts: maxAttempts, Err: lastErr}
}
