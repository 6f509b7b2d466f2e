package providers

import (
	"context"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/meetscribe/meetscribe/schemas"
)

// MLXTranscriber talks to an Apple-Silicon mlx-whisper serving endpoint
// (POST <base>/transcribe). Same envelope as the whisper.cpp variant plus a
// model field.
type MLXTranscriber struct {
	baseURL string
	apiKey  string
	model   string
	client  *fasthttp.Client
	logger  schemas.Logger
}

// NewMLXTranscriber builds the mlx variant.
func NewMLXTranscriber(cfg Config, logger schemas.Logger) *MLXTranscriber {
	return &MLXTranscriber{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  newHTTPClient(),
		logger:  logger,
	}
}

// Transcribe uploads the chunk file and returns its chunk-local segments.
func (t *MLXTranscriber) Transcribe(ctx context.Context, filePath string) ([]schemas.Segment, error) {
	body, err := postMultipart(ctx, t.client, t.baseURL+"/transcribe", t.apiKey, filePath, map[string]string{
		"model":           t.model,
		"response_format": "verbose_json",
	})
	if err != nil {
		return nil, &schemas.TranscriptionError{Provider: NameMLX, Err: err}
	}
	segments, err := parseSegments(body)
	if err != nil {
		return nil, &schemas.TranscriptionError{Provider: NameMLX, Err: err}
	}
	return segments, nil
}
