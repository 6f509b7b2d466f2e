// Package llm wraps an OpenAI-compatible chat-completions endpoint behind
// the one-method Generator capability the summarize service consumes. The
// client retries transient failures internally with capped exponential
// backoff; callers see only the final outcome.
package llm

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/meetscribe/meetscribe/schemas"
)

const (
	// maxAttempts bounds the internal retry loop.
	maxAttempts = 3

	defaultBackoffBase = 2 * time.Second
	defaultBackoffCap  = 10 * time.Second
)

// retriableStatus lists response codes worth another attempt.
var retriableStatus = map[int]bool{
	fasthttp.StatusTooManyRequests:     true,
	fasthttp.StatusInternalServerError: true,
	fasthttp.StatusBadGateway:          true,
	fasthttp.StatusServiceUnavailable:  true,
	fasthttp.StatusGatewayTimeout:      true,
}

// Generator is the language-model capability: one prompt in, one completion
// out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config configures the chat-completions client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client is the concrete OpenAI-compatible Generator.
type Client struct {
	cfg    Config
	client *fasthttp.Client
	logger schemas.Logger

	backoffBase time.Duration
	backoffCap  time.Duration
}

// NewClient builds the client with the standard 2 s doubling, 10 s capped
// backoff.
func NewClient(cfg Config, logger schemas.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		client: &fasthttp.Client{
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: time.Minute,
		},
		logger:      logger,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// backoff returns the capped, jittered delay before the given retry attempt.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase << (attempt - 1)
	if d > c.backoffCap {
		d = c.backoffCap
	}
	// Up to 25% jitter keeps synchronized workers from retrying in lockstep.
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// Generate sends the prompt and returns the completion text. Transport
// errors and retriable statuses are retried up to 3 attempts; exhaustion and
// non-retriable statuses surface as *schemas.LLMError.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := schemas.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", &schemas.LLMError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	var lastErr *schemas.LLMError
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Warn("llm request retrying in %s (attempt %d/%d): %v",
				delay, attempt+1, maxAttempts, lastErr)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", &schemas.LLMError{Err: ctx.Err()}
			case <-t.C:
			}
		}

		text, llmErr := c.do(ctx, body)
		if llmErr == nil {
			return text, nil
		}
		if !llmErr.Retriable {
			return "", &schemas.LLMError{StatusCode: llmErr.StatusCode, Err: llmErr.Err}
		}
		lastErr = &schemas.LLMError{StatusCode: llmErr.StatusCode, Err: llmErr.Err}
	}
	return "", lastErr
}

// attemptError carries the retry classification of one failed attempt.
type attemptError struct {
	StatusCode int
	Retriable  bool
	Err        error
}

func (c *Client) do(ctx context.Context, body []byte) (string, *attemptError) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.cfg.BaseURL + "/chat/completions")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.SetBody(body)

	errChan := make(chan error, 1)
	go func() {
		errChan <- c.client.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		return "", &attemptError{Retriable: false, Err: ctx.Err()}
	case err := <-errChan:
		if err != nil {
			return "", &attemptError{Retriable: true, Err: err}
		}
	}

	status := resp.StatusCode()
	if status != fasthttp.StatusOK {
		return "", &attemptError{
			StatusCode: status,
			Retriable:  retriableStatus[status],
			Err:        fmt.Errorf("unexpected status %d", status),
		}
	}

	var parsed chatResponse
	if err := schemas.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", &attemptError{Retriable: false, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &attemptError{Retriable: false, Err: fmt.Errorf("response has no choices")}
	}
	return parsed.Choices[0].Message.Content, nil
}
