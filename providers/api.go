package providers

import (
	"context"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/meetscribe/meetscribe/schemas"
)

// APITranscriber talks to a remote OpenAI-compatible transcription endpoint
// (POST <base>/audio/transcriptions, multipart, verbose_json).
type APITranscriber struct {
	baseURL string
	apiKey  string
	model   string
	client  *fasthttp.Client
	logger  schemas.Logger
}

// NewAPITranscriber builds the remote-API variant.
func NewAPITranscriber(cfg Config, logger schemas.Logger) *APITranscriber {
	return &APITranscriber{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  newHTTPClient(),
		logger:  logger,
	}
}

// Transcribe uploads the chunk file and returns its chunk-local segments.
func (t *APITranscriber) Transcribe(ctx context.Context, filePath string) ([]schemas.Segment, error) {
	body, err := postMultipart(ctx, t.client, t.baseURL+"/audio/transcriptions", t.apiKey, filePath, map[string]string{
		"model":           t.model,
		"response_format": "verbose_json",
	})
	if err != nil {
		return nil, &schemas.TranscriptionError{Provider: NameAPI, Err: err}
	}
	segments, err := parseSegments(body)
	if err != nil {
		return nil, &schemas.TranscriptionError{Provider: NameAPI, Err: err}
	}
	return segments, nil
}
