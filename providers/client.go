package providers

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/meetscribe/meetscribe/schemas"
)

// multipartBody assembles the form body shared by all transcription
// endpoints: the audio file under "file" plus any provider-specific fields.
func multipartBody(filePath string, fields map[string]string) (body []byte, contentType string, err error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("read chunk file %s: %w", filePath, err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	fw, err := w.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// postMultipart performs the upload and returns the raw response body.
// fasthttp has no context plumbing of its own, so the call runs in a
// goroutine and this function stops waiting when ctx is done; the underlying
// request still runs to its own timeout.
func postMultipart(ctx context.Context, client *fasthttp.Client, url, apiKey, filePath string, fields map[string]string) ([]byte, error) {
	body, contentType, err := multipartBody(filePath, fields)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(contentType)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.SetBody(body)

	errChan := make(chan error, 1)
	go func() {
		errChan <- client.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errChan:
		if err != nil {
			return nil, fmt.Errorf("post %s: %w", url, err)
		}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode(), truncate(resp.Body(), 256))
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// verboseResponse is the whisper-style verbose_json envelope all three
// endpoints speak.
type verboseResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// parseSegments decodes a verbose_json body into chunk-local segments.
// Empty-text segments are dropped after trimming. A response without
// segments but with plain text becomes one untimed segment so short chunks
// from minimal servers are not lost.
func parseSegments(body []byte) ([]schemas.Segment, error) {
	var r verboseResponse
	if err := schemas.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}
	segments := make([]schemas.Segment, 0, len(r.Segments))
	for _, s := range r.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, schemas.Segment{Start: s.Start, End: s.End, Text: text})
	}
	if len(segments) == 0 {
		if text := strings.TrimSpace(r.Text); text != "" {
			segments = append(segments, schemas.Segment{Start: 0, End: 0, Text: text})
		}
	}
	return segments, nil
}
