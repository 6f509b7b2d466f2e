// Package pipeline implements the transcription stages: the dispatcher that
// splits source audio into staged chunks and fans them out, the chunk worker
// that transcribes one chunk and advances the completion barrier, and the
// merger that assembles the transcript and hands the meeting to the
// summarize service. All cross-worker state lives in the meeting store, the
// chunk cache, and the staging filesystem; the stages communicate only
// through broker messages.
package pipeline

import (
	"path/filepath"

	"github.com/meetscribe/meetscribe/audio"
	"github.com/meetscribe/meetscribe/broker"
	"github.com/meetscribe/meetscribe/chunkcache"
	"github.com/meetscribe/meetscribe/meetingstore"
	"github.com/meetscribe/meetscribe/providers"
	"github.com/meetscribe/meetscribe/schemas"
	"github.com/meetscribe/meetscribe/streaming"
)

// Splitter cuts buffered audio into chunk files inside a staging directory.
// *audio.Splitter is the production implementation.
type Splitter interface {
	Split(data []byte, dir string) (*audio.Result, error)
}

// Config wires the pipeline service's dependencies. Each worker main builds
// this graph once at startup.
type Config struct {
	Store       *meetingstore.Store
	Cache       *chunkcache.Cache
	Publisher   broker.Publisher
	Reader      streaming.Reader
	Splitter    Splitter
	Transcriber providers.Transcriber
	// UploadDir is the staging root; each meeting gets a subdirectory.
	UploadDir string
	Logger    schemas.Logger
}

// Service hosts the three transcription-stage handlers.
type Service struct {
	store       *meetingstore.Store
	cache       *chunkcache.Cache
	publisher   broker.Publisher
	reader      streaming.Reader
	splitter    Splitter
	transcriber providers.Transcriber
	uploadDir   string
	logger      schemas.Logger
}

// New builds the pipeline service.
func New(cfg Config) *Service {
	return &Service{
		store:       cfg.Store,
		cache:       cfg.Cache,
		publisher:   cfg.Publisher,
		reader:      cfg.Reader,
		splitter:    cfg.Splitter,
		transcriber: cfg.Transcriber,
		uploadDir:   cfg.UploadDir,
		logger:      cfg.Logger,
	}
}

// stagingDir is the per-meeting staging area under the upload root.
func (s *Service) stagingDir(meetingID string) string {
	return filepath.Join(s.uploadDir, meetingID)
}
