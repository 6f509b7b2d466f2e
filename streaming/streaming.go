// Package streaming reads source audio as a finite, non-restartable byte
// stream. Two variants are selected by URL scheme: the S3-native reader for
// s3://bucket/key locations and the HTTP(S) reader for everything else the
// upload validator lets through (including presigned object-store URLs).
// Both stream in 8 KiB windows and retry transient failures with an
// exponential backoff curve before escalating to the task level.
package streaming

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/meetscribe/meetscribe/schemas"
)

const (
	// windowSize is the read window both variants stream in.
	windowSize = 8 * 1024

	// maxAttempts bounds the internal retry loop; exhaustion raises
	// NetworkRetryExhaustedError and escalates to a task-level retry.
	maxAttempts = 3
)

// Reader is the byte-source capability the dispatcher consumes. The returned
// stream is finite and not restartable.
type Reader interface {
	Read(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Config carries object-store settings for the S3 variant. EndpointURL
// enables S3-compatible stores such as MinIO and switches to path-style
// addressing.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
}

// Source routes reads to the variant matching the URL scheme.
type Source struct {
	s3   *S3Reader
	http *HTTPReader
}

// New builds a Source with both variants ready.
func New(ctx context.Context, cfg Config, logger schemas.Logger) (*Source, error) {
	s3Reader, err := NewS3Reader(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Source{
		s3:   s3Reader,
		http: NewHTTPReader(logger),
	}, nil
}

// Read opens a stream for rawURL. Unknown schemes are rejected permanently:
// the upload validator should have caught them, so a retry cannot help.
func (s *Source) Read(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, schemas.Permanent(fmt.Errorf("streaming: parse url %q: %w", rawURL, err))
	}
	switch u.Scheme {
	case "s3":
		return s.s3.Read(ctx, rawURL)
	case "http", "https":
		return s.http.Read(ctx, rawURL)
	default:
		return nil, schemas.Permanent(fmt.Errorf("streaming: unsupported url scheme %q", u.Scheme))
	}
}

// windowed caps each Read at windowSize bytes so consumers advance through
// the body in bounded steps regardless of the transport's buffer sizes.
type windowed struct {
	rc io.ReadCloser
}

func (w *windowed) Read(p []byte) (int, error) {
	if len(p) > windowSize {
		p = p[:windowSize]
	}
	return w.rc.Read(p)
}

func (w *windowed) Close() error {
	return w.rc.Close()
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
