package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/broker"
	"github.com/meetscribe/meetscribe/meetingstore"
	"github.com/meetscribe/meetscribe/schemas"
)

// maxNamedFailures bounds how many failed chunks the error message lists.
const maxNamedFailures = 3

// HandleMerge assembles the final transcript once every chunk has recorded a
// result. The racy barrier means two workers can both fire the merge; the
// guarded transcribed commit makes the second invocation a no-op, which is
// the authoritative idempotence of the pipeline. Only the invocation that
// wins the commit publishes the summarize message.
func (s *Service) HandleMerge(ctx context.Context, msg schemas.MergeMessage) error {
	id, err := uuid.Parse(msg.MeetingID)
	if err != nil {
		return schemas.Permanent(fmt.Errorf("merger: invalid meeting id %q: %w", msg.MeetingID, err))
	}

	meeting, err := s.store.GetMeeting(ctx, id)
	if err != nil {
		return err
	}
	switch meeting.Status {
	case schemas.StatusTranscribing:
		// The expected state; merge below.
	case schemas.StatusTranscribeFailed:
		s.logger.Info("merge for meeting %s: already failed; nothing to do", msg.MeetingID)
		return nil
	default:
		// A duplicate merge after a finished one. Cleanup is idempotent;
		// re-run it in case the first invocation died between commit and
		// cleanup, but never publish a second summarize message.
		s.logger.Info("merge for meeting %s: already %s; no-op", msg.MeetingID, meeting.Status)
		s.cleanup(ctx, msg.MeetingID)
		return nil
	}

	results, err := s.cache.ListChunks(ctx, msg.MeetingID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return s.failMeeting(ctx, id, msg.MeetingID, "No chunks found")
	}

	if failureMsg := describeFailures(results); failureMsg != "" {
		return s.failMeeting(ctx, id, msg.MeetingID, failureMsg)
	}

	var segments []schemas.Segment
	for _, r := range results {
		segments = append(segments, r.Segments...)
	}
	text := schemas.SegmentsToText(segments)

	if err := s.store.FinalizeTranscript(ctx, id, text, segments); err != nil {
		if errors.Is(err, meetingstore.ErrAlreadyFinalized) {
			s.logger.Info("merge for meeting %s lost the commit race; no-op", msg.MeetingID)
			s.cleanup(ctx, msg.MeetingID)
			return nil
		}
		return err
	}
	s.logger.Info("meeting %s transcribed: %d segments from %d chunks",
		msg.MeetingID, len(segments), len(results))

	s.cleanup(ctx, msg.MeetingID)

	return s.publisher.Publish(ctx, broker.Message{
		RoutingKey: schemas.KeySummarizeGenerate,
		Body:       schemas.SummarizeMessage{MeetingID: msg.MeetingID},
	})
}

// describeFailures returns the failure message for a chunk set with failed
// entries, naming up to the first three, or "" when all succeeded.
func describeFailures(results []schemas.ChunkResult) string {
	var failed []schemas.ChunkResult
	for _, r := range results {
		if !r.Succeeded() {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return ""
	}
	parts := make([]string, 0, maxNamedFailures)
	for i, r := range failed {
		if i == maxNamedFailures {
			break
		}
		parts = append(parts, fmt.Sprintf("chunk %d: %s", r.ChunkID, r.Error))
	}
	return fmt.Sprintf("transcription failed for %d of %d chunks: %s",
		len(failed), len(results), strings.Join(parts, "; "))
}

// failMeeting moves the meeting to transcribe_failed and cleans up. The
// message is dropped afterwards: a retry cannot change the cached outcome.
func (s *Service) failMeeting(ctx context.Context, id uuid.UUID, meetingID, message string) error {
	s.logger.Error("meeting %s failed: %s", meetingID, message)
	if err := s.store.MarkTranscribeFailed(ctx, id, message); err != nil {
		return err
	}
	s.cleanup(ctx, meetingID)
	return nil
}

// cleanup removes the staging directory and every cache key for the meeting.
// Best-effort: cache entries expire by TTL anyway, and a duplicate merge
// re-runs this.
func (s *Service) cleanup(ctx context.Context, meetingID string) {
	dir := s.stagingDir(meetingID)
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("removing staging dir %s: %v", dir, err)
	}
	if err := s.cache.DeleteChunks(ctx, meetingID); err != nil {
		s.logger.Warn("deleting cache entries for meeting %s: %v", meetingID, err)
	}
}
