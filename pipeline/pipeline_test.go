package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/meetscribe/meetscribe/audio"
	"github.com/meetscribe/meetscribe/broker"
	"github.com/meetscribe/meetscribe/chunkcache"
	"github.com/meetscribe/meetscribe/meetingstore"
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

// fakePublisher records published messages. failAfter > 0 makes every
// publish past that count fail, simulating a dispatcher crash mid-fan-out.
type fakePublisher struct {
	mu        sync.Mutex
	msgs      []broker.Message
	failAfter int
}

func (p *fakePublisher) Publish(ctx context.Context, msg broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAfter > 0 && len(p.msgs) >= p.failAfter {
		return fmt.Errorf("broker unavailable")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) byKey(key string) []broker.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []broker.Message
	for _, m := range p.msgs {
		if m.RoutingKey == key {
			out = append(out, m)
		}
	}
	return out
}

type fakeReader struct {
	data []byte
	err  error
}

func (r *fakeReader) Read(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if r.err != nil {
		return nil, r.err
	}
	return io.NopCloser(bytes.NewReader(r.data)), nil
}

// fakeSplitter exports n synthetic chunk files per the real splitter's
// contract: chunk_<i>.mp3 in the staging dir, offsets advancing by chunkDur.
type fakeSplitter struct {
	n        int
	chunkDur time.Duration
	err      error
}

func (s *fakeSplitter) Split(data []byte, dir string) (*audio.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := &audio.Result{Duration: time.Duration(s.n) * s.chunkDur}
	for i := 0; i < s.n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("chunk_%d.mp3", i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, err
		}
		result.Chunks = append(result.Chunks, audio.Chunk{
			Index:  i,
			Path:   path,
			Offset: time.Duration(i) * s.chunkDur,
		})
	}
	return result, nil
}

// fakeTranscriber returns two fixed chunk-local segments per file, or the
// error registered for a chunk path.
type fakeTranscriber struct {
	mu       sync.Mutex
	failures map[string]error
	calls    []string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, filePath string) ([]schemas.Segment, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filePath)
	err := f.failures[filepath.Base(filePath)]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []schemas.Segment{
		{Start: 0, End: 2.5, Text: "hello"},
		{Start: 2.5, End: 5, Text: "world"},
	}, nil
}

type fixture struct {
	svc         *Service
	store       *meetingstore.Store
	cache       *chunkcache.Cache
	publisher   *fakePublisher
	transcriber *fakeTranscriber
	uploadDir   string
}

func setup(t *testing.T, chunks int) *fixture {
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	store := meetingstore.NewWithDB(db, testLogger{})
	require.NoError(t, store.AutoMigrate(context.Background()))

	mr := miniredis.RunT(t)
	cache := chunkcache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testLogger{})

	f := &fixture{
		store:       store,
		cache:       cache,
		publisher:   &fakePublisher{},
		transcriber: &fakeTranscriber{failures: map[string]error{}},
		uploadDir:   t.TempDir(),
	}
	f.svc = New(Config{
		Store:       store,
		Cache:       cache,
		Publisher:   f.publisher,
		Reader:      &fakeReader{data: []byte("audio-bytes")},
		Splitter:    &fakeSplitter{n: chunks, chunkDur: 10 * time.Minute},
		Transcriber: f.transcriber,
		UploadDir:   f.uploadDir,
		Logger:      testLogger{},
	})
	return f
}

func (f *fixture) createMeeting(t *testing.T, status schemas.MeetingStatus) *meetingstore.Meeting {
	url := "s3://recordings/audio.mp3"
	m := &meetingstore.Meeting{Title: "planning", Status: status, AudioURL: &url}
	require.NoError(t, f.store.CreateMeeting(context.Background(), m))
	return m
}

// runChunks feeds every published chunk message through the chunk handler,
// returning the per-message handler errors.
func (f *fixture) runChunks(t *testing.T) []error {
	var errs []error
	for _, raw := range f.publisher.byKey(schemas.KeyTranscribeChunk) {
		msg := raw.Body.(schemas.ChunkMessage)
		errs = append(errs, f.svc.HandleChunk(context.Background(), msg))
	}
	return errs
}

func TestFullPipeline_AllChunksSucceed(t *testing.T) {
	f := setup(t, 3)
	ctx := context.Background()
	m := f.createMeeting(t, schemas.StatusProcessing)

	ack, err := f.svc.Dispatch(ctx, schemas.StartTranscribeMessage{
		MeetingID: m.ID.String(),
		AudioURL:  *m.AudioURL,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, ack.TotalChunks)
	assert.Equal(t, filepath.Join(f.uploadDir, m.ID.String()), ack.StagingDir)

	// Three staged files, three chunk messages with deterministic ids and
	// advancing offsets.
	chunkMsgs := f.publisher.byKey(schemas.KeyTranscribeChunk)
	require.Len(t, chunkMsgs, 3)
	for i, raw := range chunkMsgs {
		msg := raw.Body.(schemas.ChunkMessage)
		assert.Equal(t, schemas.ChunkMessageID(m.ID.String(), i), raw.MessageID)
		assert.True(t, raw.Dedup)
		assert.Equal(t, i, msg.ChunkID)
		assert.Equal(t, 3, msg.TotalChunks)
		assert.Equal(t, float64(i)*600, msg.OffsetSeconds)
		_, err := os.Stat(msg.ChunkPath)
		assert.NoError(t, err)
	}

	got, err := f.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusTranscribing, got.Status)
	assert.Equal(t, 3, got.TranscribeTotal)
	assert.Equal(t, 0, got.TranscribeDone)

	for _, err := range f.runChunks(t) {
		require.NoError(t, err)
	}

	// Exactly one merge message despite three workers checking the barrier.
	mergeMsgs := f.publisher.byKey(schemas.KeyTranscribeMerge)
	require.Len(t, mergeMsgs, 1)
	assert.Equal(t, schemas.MergeMessageID(m.ID.String()), mergeMsgs[0].MessageID)

	require.NoError(t, f.svc.HandleMerge(ctx, schemas.MergeMessage{MeetingID: m.ID.String()}))

	got, err = f.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusTranscribed, got.Status)
	assert.Equal(t, 3, got.TranscribeTotal)
	assert.Equal(t, 3, got.TranscribeDone)

	// Two segments per chunk, globally ordered and offset-adjusted.
	require.Len(t, got.TranscribeSegments, 6)
	for i := 1; i < len(got.TranscribeSegments); i++ {
		assert.GreaterOrEqual(t, got.TranscribeSegments[i].Start, got.TranscribeSegments[i-1].Start,
			"segments must not step backwards across chunk boundaries")
	}
	for i, seg := range got.TranscribeSegments {
		chunkID := i / 2
		assert.GreaterOrEqual(t, seg.Start, float64(chunkID)*600)
	}
	assert.Equal(t, "hello world hello world hello world", got.Transcript())

	// Cleanup: no staging dir, no cache keys.
	_, statErr := os.Stat(ack.StagingDir)
	assert.True(t, os.IsNotExist(statErr))
	count, err := f.cache.CountChunks(ctx, m.ID.String())
	require.NoError(t, err)
	assert.Zero(t, count)

	// One summarize handoff.
	assert.Len(t, f.publisher.byKey(schemas.KeySummarizeGenerate), 1)
}

func TestPipeline_OneChunkFailsPermanently(t *testing.T) {
	f := setup(t, 3)
	ctx := context.Background()
	m := f.createMeeting(t, schemas.StatusProcessing)
	f.transcriber.failures["chunk_1.mp3"] = fmt.Errorf("gpu fell over")

	_, err := f.svc.Dispatch(ctx, schemas.StartTranscribeMessage{MeetingID: m.ID.String(), AudioURL: *m.AudioURL})
	require.NoError(t, err)

	errs := f.runChunks(t)
	require.NoError(t, errs[0])
	require.Error(t, errs[1], "failed chunk escalates to the task retry")
	require.NoError(t, errs[2])

	// The failed entry still counted toward the barrier.
	results, err := f.cache.ListChunks(ctx, m.ID.String())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.False(t, results[1].Succeeded())
	require.Len(t, f.publisher.byKey(schemas.KeyTranscribeMerge), 1)

	require.NoError(t, f.svc.HandleMerge(ctx, schemas.MergeMessage{MeetingID: m.ID.String()}))

	got, err := f.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusTranscribeFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "chunk 1")
	assert.Contains(t, *got.ErrorMessage, "gpu fell over")

	// No summarize handoff, and everything cleaned up.
	assert.Empty(t, f.publisher.byKey(schemas.KeySummarizeGenerate))
	count, err := f.cache.CountChunks(ctx, m.ID.String())
	require.NoError(t, err)
	assert.Zero(t, count)
	_, statErr := os.Stat(filepath.Join(f.uploadDir, m.ID.String()))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMerge_DuplicateInvocationIsNoOp(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()
	m := f.createMeeting(t, schemas.StatusProcessing)

	_, err := f.svc.Dispatch(ctx, schemas.StartTranscribeMessage{MeetingID: m.ID.String(), AudioURL: *m.AudioURL})
	require.NoError(t, err)
	for _, err := range f.runChunks(t) {
		require.NoError(t, err)
	}

	// Two racing workers both observed count == total and both published the
	// merge; both deliveries run the handler.
	merge := schemas.MergeMessage{MeetingID: m.ID.String()}
	require.NoError(t, f.svc.HandleMerge(ctx, merge))
	require.NoError(t, f.svc.HandleMerge(ctx, merge))

	got, err := f.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusTranscribed, got.Status)

	assert.Len(t, f.publisher.byKey(schemas.KeySummarizeGenerate), 1,
		"the losing merger must not publish a second summarize message")
}

func TestDispatch_RetryAfterPartialFanOut(t *testing.T) {
	f := setup(t, 3)
	ctx := context.Background()
	m := f.createMeeting(t, schemas.StatusProcessing)

	// First dispatch dies after one chunk message.
	f.publisher.failAfter = 1
	_, err := f.svc.Dispatch(ctx, schemas.StartTranscribeMessage{MeetingID: m.ID.String(), AudioURL: *m.AudioURL})
	require.Error(t, err)

	got, err := f.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusTranscribeFailed, got.Status)

	// The broker retry re-runs the dispatch from transcribe_failed.
	f.publisher.failAfter = 0
	ack, err := f.svc.Dispatch(ctx, schemas.StartTranscribeMessage{MeetingID: m.ID.String(), AudioURL: *m.AudioURL})
	require.NoError(t, err)
	assert.Equal(t, 3, ack.TotalChunks)

	got, err = f.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusTranscribing, got.Status)
	assert.Equal(t, 3, got.TranscribeTotal)

	// The duplicate of chunk 0 reuses its deterministic id, so broker-side
	// dedup can collapse it; processing it anyway just overwrites the cache.
	chunkMsgs := f.publisher.byKey(schemas.KeyTranscribeChunk)
	require.Len(t, chunkMsgs, 4)
	assert.Equal(t, chunkMsgs[0].MessageID, chunkMsgs[1].MessageID)
}

func TestDispatch_InvalidStateIsPermanent(t *testing.T) {
	f := setup(t, 1)
	m := f.createMeeting(t, schemas.StatusCompleted)

	_, err := f.svc.Dispatch(context.Background(), schemas.StartTranscribeMessage{
		MeetingID: m.ID.String(), AudioURL: *m.AudioURL,
	})
	require.Error(t, err)
	assert.True(t, schemas.IsPermanent(err))

	got, err := f.store.GetMeeting(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusCompleted, got.Status, "invalid dispatch must not touch the meeting")
}

func TestDispatch_UnknownMeeting(t *testing.T) {
	f := setup(t, 1)

	_, err := f.svc.Dispatch(context.Background(), schemas.StartTranscribeMessage{
		MeetingID: uuid.NewString(), AudioURL: "s3://bucket/a.mp3",
	})
	assert.ErrorIs(t, err, schemas.ErrNotFound)
}

func TestDispatch_SplitFailureMarksMeeting(t *testing.T) {
	f := setup(t, 3)
	ctx := context.Background()
	m := f.createMeeting(t, schemas.StatusProcessing)
	f.svc.splitter = &fakeSplitter{err: &schemas.AudioProcessingError{Op: "decode", Err: fmt.Errorf("not audio")}}

	_, err := f.svc.Dispatch(ctx, schemas.StartTranscribeMessage{MeetingID: m.ID.String(), AudioURL: *m.AudioURL})
	require.Error(t, err)

	got, err := f.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusTranscribeFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "decode")
}

func TestMerge_EmptyCacheFailsMeeting(t *testing.T) {
	f := setup(t, 1)
	ctx := context.Background()
	m := f.createMeeting(t, schemas.StatusTranscribing)

	require.NoError(t, f.svc.HandleMerge(ctx, schemas.MergeMessage{MeetingID: m.ID.String()}))

	got, err := f.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusTranscribeFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "No chunks found", *got.ErrorMessage)
}

func TestMerge_AfterFailureIsNoOp(t *testing.T) {
	f := setup(t, 1)
	ctx := context.Background()
	m := f.createMeeting(t, schemas.StatusTranscribeFailed)

	require.NoError(t, f.svc.HandleMerge(ctx, schemas.MergeMessage{MeetingID: m.ID.String()}))
	assert.Empty(t, f.publisher.byKey(schemas.KeySummarizeGenerate))
}

func TestDescribeFailures_NamesFirstThree(t *testing.T) {
	results := []schemas.ChunkResult{
		{ChunkID: 0, Status: schemas.ChunkStatusSuccess},
		{ChunkID: 1, Status: schemas.ChunkStatusFailed, Error: "a"},
		{ChunkID: 2, Status: schemas.ChunkStatusFailed, Error: "b"},
		{ChunkID: 3, Status: schemas.ChunkStatusFailed, Error: "c"},
		{ChunkID: 4, Status: schemas.ChunkStatusFailed, Error: "d"},
	}
	msg := describeFailures(results)
	assert.Contains(t, msg, "4 of 5 chunks")
	assert.Contains(t, msg, "chunk 1: a")
	assert.Contains(t, msg, "chunk 3: c")
	assert.NotContains(t, msg, "chunk 4")

	assert.Empty(t, describeFailures([]schemas.ChunkResult{{ChunkID: 0, Status: schemas.ChunkStatusSuccess}}))
}

func TestHandleChunk_ProgressAdvances(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()
	m := f.createMeeting(t, schemas.StatusProcessing)

	_, err := f.svc.Dispatch(ctx, schemas.StartTranscribeMessage{MeetingID: m.ID.String(), AudioURL: *m.AudioURL})
	require.NoError(t, err)

	msgs := f.publisher.byKey(schemas.KeyTranscribeChunk)
	require.NoError(t, f.svc.HandleChunk(ctx, msgs[0].Body.(schemas.ChunkMessage)))

	got, err := f.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TranscribeDone)
	assert.LessOrEqual(t, got.TranscribeDone, got.TranscribeTotal)
}
