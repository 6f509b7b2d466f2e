package streaming

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetscribe/meetscribe/schemas"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any)                   {}
func (testLogger) Info(string, ...any)                    {}
func (testLogger) Warn(string, ...any)                    {}
func (testLogger) Error(string, ...any)                   {}
func (testLogger) Fatal(string, ...any)                   {}
func (testLogger) SetLevel(schemas.LogLevel)              {}
func (testLogger) SetOutputType(schemas.LoggerOutputType) {}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://recordings/meetings/abc/audio.mp3")
	require.NoError(t, err)
	assert.Equal(t, "recordings", bucket)
	assert.Equal(t, "meetings/abc/audio.mp3", key)

	_, _, err = parseS3URL("s3://bucket-only")
	assert.Error(t, err)

	_, _, err = parseS3URL("https://example.com/file.mp3")
	assert.Error(t, err)
}

func TestWindowedReader_CapsReadSize(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), windowSize*2+100)
	w := &windowed{rc: io.NopCloser(bytes.NewReader(payload))}

	buf := make([]byte, windowSize*4)
	n, err := w.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, windowSize, n, "one read must not exceed the window")

	rest, err := io.ReadAll(w)
	require.NoError(t, err)
	assert.Len(t, rest, len(payload)-windowSize)
}

type fakeS3 struct {
	calls    atomic.Int32
	failures int
	err      error
	body     string
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if int(f.calls.Add(1)) <= f.failures {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestS3Reader_ThrottleThenSuccess(t *testing.T) {
	api := &fakeS3{
		failures: 2,
		err:      &smithy.GenericAPIError{Code: "SlowDown", Message: "slow down"},
		body:     "audio-bytes",
	}
	r := &S3Reader{client: api, logger: testLogger{}, backoffUnit: time.Millisecond}

	rc, err := r.Read(context.Background(), "s3://bucket/key.mp3")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))
	assert.EqualValues(t, 3, api.calls.Load())
}

func TestS3Reader_Exhaustion(t *testing.T) {
	api := &fakeS3{
		failures: maxAttempts,
		err:      errors.New("connection reset"),
	}
	r := &S3Reader{client: api, logger: testLogger{}, backoffUnit: time.Millisecond}

	_, err := r.Read(context.Background(), "s3://bucket/key.mp3")
	var exhausted *schemas.NetworkRetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, maxAttempts, exhausted.Attempts)
}

func TestThrottled(t *testing.T) {
	assert.True(t, throttled(&smithy.GenericAPIError{Code: "SlowDown"}))
	assert.True(t, throttled(&smithy.GenericAPIError{Code: "RequestLimitExceeded"}))
	assert.False(t, throttled(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, throttled(errors.New("plain")))
}

func TestHTTPReader_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("streamed"))
	}))
	defer srv.Close()

	r := NewHTTPReader(testLogger{})
	r.backoffUnit = time.Millisecond

	rc, err := r.Read(context.Background(), srv.URL)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))
	assert.EqualValues(t, 3, calls.Load())
}

func TestHTTPReader_NonRetriableStatusFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewHTTPReader(testLogger{})
	r.backoffUnit = time.Millisecond

	_, err := r.Read(context.Background(), srv.URL)
	var streamErr *schemas.StreamingError
	require.ErrorAs(t, err, &streamErr)
	assert.EqualValues(t, 1, calls.Load(), "404 must not be retried")
}

func TestHTTPReader_Exhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewHTTPReader(testLogger{})
	r.backoffUnit = time.Millisecond

	_, err := r.Read(context.Background(), srv.URL)
	var exhausted *schemas.NetworkRetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
}

func TestSource_RejectsUnknownScheme(t *testing.T) {
	src := &Source{http: NewHTTPReader(testLogger{})}

	_, err := src.Read(context.Background(), "ftp://example.com/audio.mp3")
	require.Error(t, err)
	assert.True(t, schemas.IsPermanent(err), "unknown scheme is not retriable")
}
