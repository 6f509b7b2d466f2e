package providers

import (
	"context"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/meetscribe/meetscribe/schemas"
)

// WhisperCPPTranscriber talks to a self-hosted whisper.cpp server
// (POST <base>/inference, multipart, verbose_json). Whether the server runs
// on CUDA or CPU is a deployment concern on its side.
type WhisperCPPTranscriber struct {
	baseURL string
	apiKey  string
	client  *fasthttp.Client
	logger  schemas.Logger
}

// NewWhisperCPPTranscriber builds the gpu variant.
func NewWhisperCPPTranscriber(cfg Config, logger schemas.Logger) *WhisperCPPTranscriber {
	return &WhisperCPPTranscriber{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  newHTTPClient(),
		logger:  logger,
	}
}

// Transcribe uploads the chunk file and returns its chunk-local segments.
func (t *WhisperCPPTranscriber) Transcribe(ctx context.Context, filePath string) ([]schemas.Segment, error) {
	body, err := postMultipart(ctx, t.client, t.baseURL+"/inference", t.apiKey, filePath, map[string]string{
		"response_format": "verbose_json",
	})
	if err != nil {
		return nil, &schemas.TranscriptionError{Provider: NameGPU, Err: err}
	}
	segments, err := parseSegments(body)
	if err != nil {
		return nil, &schemas.TranscriptionError{Provider: NameGPU, Err: err}
	}
	return segments, nil
}
