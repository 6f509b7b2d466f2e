package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/broker"
	"github.com/meetscribe/meetscribe/schemas"
)

// DispatchAck reports what a dispatch produced. Returned for testability and
// logged by the handler.
type DispatchAck struct {
	MeetingID   string
	TotalChunks int
	StagingDir  string
}

// HandleStart adapts Dispatch to the worker engine.
func (s *Service) HandleStart(ctx context.Context, msg schemas.StartTranscribeMessage) error {
	ack, err := s.Dispatch(ctx, msg)
	if err != nil {
		return err
	}
	s.logger.Info("dispatched meeting %s: %d chunks staged in %s",
		ack.MeetingID, ack.TotalChunks, ack.StagingDir)
	return nil
}

// Dispatch validates the meeting, stages the source audio as fixed-duration
// chunk files, announces the total, and fans out one chunk message per
// chunk. Transcription is allowed to start from processing or from
// transcribe_failed (administrative re-dispatch); any other status is a
// permanent failure.
//
// Any error after the meeting entered transcribing marks it
// transcribe_failed before the error escalates to the broker's task retry; a
// successful retry re-enters from that status, re-exports every chunk file
// (overwriting), and re-publishes every chunk message under the same
// deterministic ids.
func (s *Service) Dispatch(ctx context.Context, msg schemas.StartTranscribeMessage) (*DispatchAck, error) {
	id, err := uuid.Parse(msg.MeetingID)
	if err != nil {
		return nil, schemas.Permanent(fmt.Errorf("dispatch: invalid meeting id %q: %w", msg.MeetingID, err))
	}
	if err := s.store.BeginTranscribing(ctx, id); err != nil {
		return nil, fmt.Errorf("dispatch meeting %s: %w", msg.MeetingID, err)
	}

	ack, err := s.stageAndFanOut(ctx, id, msg)
	if err != nil {
		if markErr := s.store.MarkTranscribeFailed(ctx, id, err.Error()); markErr != nil {
			s.logger.Error("marking meeting %s transcribe_failed: %v", msg.MeetingID, markErr)
		}
		return nil, err
	}
	return ack, nil
}

func (s *Service) stageAndFanOut(ctx context.Context, id uuid.UUID, msg schemas.StartTranscribeMessage) (*DispatchAck, error) {
	dir := s.stagingDir(msg.MeetingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", dir, err)
	}

	rc, err := s.reader.Read(ctx, msg.AudioURL)
	if err != nil {
		return nil, err
	}
	// The decoder needs the complete payload; upload limits bound its size.
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, &schemas.StreamingError{URL: msg.AudioURL, Err: err}
	}

	result, err := s.splitter.Split(data, dir)
	if err != nil {
		return nil, err
	}
	s.logger.Info("meeting %s: %s of audio split into %d chunks",
		msg.MeetingID, result.Duration, len(result.Chunks))

	if err := s.store.SetTranscribeTotal(ctx, id, len(result.Chunks)); err != nil {
		return nil, fmt.Errorf("announce chunk total: %w", err)
	}

	for _, chunk := range result.Chunks {
		err := s.publisher.Publish(ctx, broker.Message{
			RoutingKey: schemas.KeyTranscribeChunk,
			MessageID:  schemas.ChunkMessageID(msg.MeetingID, chunk.Index),
			Dedup:      true,
			Body: schemas.ChunkMessage{
				MeetingID:     msg.MeetingID,
				ChunkID:       chunk.Index,
				ChunkPath:     chunk.Path,
				TotalChunks:   len(result.Chunks),
				OffsetSeconds: chunk.Offset.Seconds(),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("enqueue chunk %d: %w", chunk.Index, err)
		}
	}

	return &DispatchAck{
		MeetingID:   msg.MeetingID,
		TotalChunks: len(result.Chunks),
		StagingDir:  dir,
	}, nil
}
