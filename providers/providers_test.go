package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

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

func writeChunkFile(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "chunk_0.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake-audio-bytes"), 0o644))
	return path
}

const verboseBody = `{
	"text": "hello world again",
	"segments": [
		{"id": 0, "start": 0.0, "end": 2.5, "text": " hello world"},
		{"id": 1, "start": 2.5, "end": 4.0, "text": "   "},
		{"id": 2, "start": 4.0, "end": 6.1, "text": "again "}
	]
}`

func TestNew_SelectsVariant(t *testing.T) {
	for name, want := range map[string]any{
		NameAPI: &APITranscriber{},
		NameGPU: &WhisperCPPTranscriber{},
		NameMLX: &MLXTranscriber{},
	} {
		got, err := New(Config{Provider: name, BaseURL: "http://localhost"}, testLogger{})
		require.NoError(t, err)
		assert.IsType(t, want, got)
	}

	_, err := New(Config{Provider: "cloud"}, testLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transcription provider")
}

func TestAPITranscriber_ParsesVerboseJSON(t *testing.T) {
	var gotPath, gotAuth, gotFormat, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotAuth = req.Header.Get("Authorization")
		require.NoError(t, req.ParseMultipartForm(1<<20))
		gotFormat = req.FormValue("response_format")
		gotModel = req.FormValue("model")

		file, _, err := req.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "fake-audio-bytes", string(data))

		w.Write([]byte(verboseBody))
	}))
	defer srv.Close()

	tr := NewAPITranscriber(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "whisper-1"}, testLogger{})
	segments, err := tr.Transcribe(context.Background(), writeChunkFile(t))
	require.NoError(t, err)

	assert.Equal(t, "/audio/transcriptions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "verbose_json", gotFormat)
	assert.Equal(t, "whisper-1", gotModel)

	// The blank segment is dropped; the rest keep chunk-local times.
	require.Len(t, segments, 2)
	assert.Equal(t, schemas.Segment{Start: 0, End: 2.5, Text: "hello world"}, segments[0])
	assert.Equal(t, schemas.Segment{Start: 4.0, End: 6.1, Text: "again"}, segments[1])
}

func TestWhisperCPPTranscriber_UsesInferencePath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		w.Write([]byte(verboseBody))
	}))
	defer srv.Close()

	tr := NewWhisperCPPTranscriber(Config{BaseURL: srv.URL}, testLogger{})
	segments, err := tr.Transcribe(context.Background(), writeChunkFile(t))
	require.NoError(t, err)
	assert.Equal(t, "/inference", gotPath)
	assert.Len(t, segments, 2)
}

func TestMLXTranscriber_SendsModel(t *testing.T) {
	var gotPath, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		require.NoError(t, req.ParseMultipartForm(1<<20))
		gotModel = req.FormValue("model")
		w.Write([]byte(verboseBody))
	}))
	defer srv.Close()

	tr := NewMLXTranscriber(Config{BaseURL: srv.URL, Model: "mlx-community/whisper-large-v3"}, testLogger{})
	_, err := tr.Transcribe(context.Background(), writeChunkFile(t))
	require.NoError(t, err)
	assert.Equal(t, "/transcribe", gotPath)
	assert.Equal(t, "mlx-community/whisper-large-v3", gotModel)
}

func TestTranscribe_ServerErrorWrapsTranscriptionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "model melted", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewAPITranscriber(Config{BaseURL: srv.URL}, testLogger{})
	_, err := tr.Transcribe(context.Background(), writeChunkFile(t))

	var trErr *schemas.TranscriptionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, NameAPI, trErr.Provider)
	assert.Contains(t, trErr.Error(), "status 500")
}

func TestTranscribe_MissingFile(t *testing.T) {
	tr := NewAPITranscriber(Config{BaseURL: "http://localhost:1"}, testLogger{})
	_, err := tr.Transcribe(context.Background(), "/nonexistent/chunk_0.mp3")

	var trErr *schemas.TranscriptionError
	require.ErrorAs(t, err, &trErr)
}

func TestParseSegments_TextOnlyFallback(t *testing.T) {
	segments, err := parseSegments([]byte(`{"text": "just text"}`))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "just text", segments[0].Text)
}

func TestParseSegments_MalformedBody(t *testing.T) {
	_, err := parseSegments([]byte("<html>not json</html>"))
	assert.Error(t, err)
}
