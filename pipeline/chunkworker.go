package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/broker"
	"github.com/meetscribe/meetscribe/schemas"
)

// HandleChunk transcribes one staged chunk, applies the global offset to its
// segments, records the result in the cache, and fires the merge barrier
// when its result is the last one in.
//
// A transcription failure still records a status=failed entry before the
// error escalates to the task retry: failed entries count toward the barrier
// so the merger can fail the meeting deterministically instead of waiting
// forever. A retried chunk overwrites its own entry.
func (s *Service) HandleChunk(ctx context.Context, msg schemas.ChunkMessage) error {
	id, err := uuid.Parse(msg.MeetingID)
	if err != nil {
		return schemas.Permanent(fmt.Errorf("chunk worker: invalid meeting id %q: %w", msg.MeetingID, err))
	}

	segments, transcribeErr := s.transcriber.Transcribe(ctx, msg.ChunkPath)

	var result schemas.ChunkResult
	if transcribeErr != nil {
		s.logger.Warn("meeting %s chunk %d transcription failed: %v",
			msg.MeetingID, msg.ChunkID, transcribeErr)
		result = schemas.ChunkResult{
			ChunkID:  msg.ChunkID,
			Status:   schemas.ChunkStatusFailed,
			Error:    transcribeErr.Error(),
			Segments: []schemas.Segment{},
		}
	} else {
		adjusted := make([]schemas.Segment, 0, len(segments))
		for _, seg := range segments {
			adjusted = append(adjusted, seg.WithOffset(msg.OffsetSeconds))
		}
		result = schemas.ChunkResult{
			ChunkID:  msg.ChunkID,
			Status:   schemas.ChunkStatusSuccess,
			Segments: adjusted,
		}
	}

	if err := s.cache.PutChunk(ctx, msg.MeetingID, result); err != nil {
		// Without a cache entry the barrier cannot account for this chunk;
		// the cache write failure takes precedence for the task retry.
		return err
	}

	count, err := s.cache.CountChunks(ctx, msg.MeetingID)
	if err != nil {
		if transcribeErr != nil {
			return transcribeErr
		}
		return err
	}

	// Progress is best-effort; the cache count is authoritative.
	if err := s.store.AdvanceTranscribeDone(ctx, id, count); err != nil {
		s.logger.Warn("advancing progress for meeting %s: %v", msg.MeetingID, err)
	}

	if count == msg.TotalChunks {
		s.logger.Info("meeting %s: all %d chunks recorded; firing merge", msg.MeetingID, count)
		err := s.publisher.Publish(ctx, broker.Message{
			RoutingKey: schemas.KeyTranscribeMerge,
			MessageID:  schemas.MergeMessageID(msg.MeetingID),
			Dedup:      true,
			Body:       schemas.MergeMessage{MeetingID: msg.MeetingID},
		})
		if err != nil {
			return err
		}
	}
	return transcribeErr
}
