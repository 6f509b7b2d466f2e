// Package providers implements the pluggable transcription capability: one
// method that turns a chunk audio file into segments with chunk-local
// timestamps. Three variants exist, selected by configuration string at
// worker startup; all three are HTTP clients sharing a multipart helper.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/meetscribe/meetscribe/schemas"
)

// Provider names accepted by the factory.
const (
	NameAPI = "api"
	NameGPU = "gpu"
	NameMLX = "mlx"
)

// Transcriber converts one audio file into segments. Returned timestamps are
// chunk-local, starting at 0; the chunk worker applies the global offset.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) ([]schemas.Segment, error)
}

// Config selects and configures a transcription provider.
type Config struct {
	// Provider is one of api, gpu, mlx.
	Provider string
	// BaseURL is the provider endpoint root.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Model is the model identifier for providers that accept one.
	Model string
}

// New builds the configured Transcriber. An unknown provider name is a
// configuration error and fatal at worker startup.
func New(cfg Config, logger schemas.Logger) (Transcriber, error) {
	switch cfg.Provider {
	case NameAPI:
		return NewAPITranscriber(cfg, logger), nil
	case NameGPU:
		return NewWhisperCPPTranscriber(cfg, logger), nil
	case NameMLX:
		return NewMLXTranscriber(cfg, logger), nil
	default:
		return nil, fmt.Errorf("providers: unknown transcription provider %q (want %s, %s or %s)",
			cfg.Provider, NameAPI, NameGPU, NameMLX)
	}
}

// newHTTPClient builds the shared fasthttp client. Transcribing a ten-minute
// chunk can legitimately take minutes, hence the generous read timeout.
func newHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		ReadTimeout:         10 * time.Minute,
		WriteTimeout:        2 * time.Minute,
		MaxIdleConnDuration: time.Minute,
	}
}
