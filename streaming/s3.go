package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/meetscribe/meetscribe/schemas"
)

// s3API is the slice of the S3 client the reader uses; tests fake it.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Reader streams objects with the native S3 API in 8 KiB windows.
// Throttling ("SlowDown" and friends) and other transient errors retry with
// exponential backoff 2^attempt seconds; exhaustion raises
// NetworkRetryExhaustedError.
type S3Reader struct {
	client s3API
	logger schemas.Logger

	// backoffUnit scales the 2^attempt curve. One second in production;
	// tests shrink it.
	backoffUnit time.Duration
}

// NewS3Reader builds the reader from static credentials when provided,
// otherwise the default AWS credential chain. A custom endpoint switches to
// path-style addressing for MinIO-style stores.
func NewS3Reader(ctx context.Context, cfg Config, logger schemas.Logger) (*S3Reader, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("streaming: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})
	return &S3Reader{client: client, logger: logger, backoffUnit: time.Second}, nil
}

// parseS3URL splits s3://bucket/key into its parts.
func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 url %q: %w", rawURL, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 url %q", rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 url %q has no object key", rawURL)
	}
	return u.Host, key, nil
}

// throttled reports whether err is a provider-side rate-limit indication.
func throttled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequests":
		return true
	}
	return false
}

// Read opens the object body. The returned stream delivers at most 8 KiB per
// read.
func (r *S3Reader) Read(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, schemas.Permanent(err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := r.backoffUnit << attempt
			r.logger.Warn("s3 read of %s retrying in %s (attempt %d/%d): %v",
				rawURL, backoff, attempt+1, maxAttempts, lastErr)
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
		out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return &windowed{rc: out.Body}, nil
		}
		lastErr = &schemas.StreamingError{URL: rawURL, Throttled: throttled(err), Err: err}
	}
	return nil, &schemas.NetworkRetryExhaustedError{URL: rawURL, Attempts: maxAttempts, Err: lastErr}
}
