// Package summarize implements the second pipeline stage: map-reduce
// summarization of the transcript, then a fan-out into key-note extraction
// and action-item extraction. The two fan-out handlers persist their output
// independently and meet again on a cache fan-in counter; whichever lands
// second completes the meeting.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/broker"
	"github.com/meetscribe/meetscribe/chunkcache"
	"github.com/meetscribe/meetscribe/llm"
	"github.com/meetscribe/meetscribe/meetingstore"
	"github.com/meetscribe/meetscribe/schemas"
)

// fanOutWidth is how many downstream jobs the generate handler spawns; the
// fan-in counter completes the meeting when it reaches this value.
const fanOutWidth = 2

// Config wires the summarize service's dependencies.
type Config struct {
	Store     *meetingstore.Store
	Cache     *chunkcache.Cache
	Publisher broker.Publisher
	Generator llm.Generator
	// ChunkSize is the map-reduce threshold in characters: transcripts at
	// or below it are summarized in a single call.
	ChunkSize int
	Logger    schemas.Logger
}

// Service hosts the generate, key-notes and tasks handlers.
type Service struct {
	store     *meetingstore.Store
	cache     *chunkcache.Cache
	publisher broker.Publisher
	llm       llm.Generator
	chunkSize int
	logger    schemas.Logger
}

// New builds the summarize service.
func New(cfg Config) *Service {
	return &Service{
		store:     cfg.Store,
		cache:     cfg.Cache,
		publisher: cfg.Publisher,
		llm:       cfg.Generator,
		chunkSize: cfg.ChunkSize,
		logger:    cfg.Logger,
	}
}

// HandleGenerate produces the meeting summary. The LLM client retries
// transient failures internally, so this handler carries no task-level
// retries: a hard failure moves the meeting straight to summarize_failed.
func (s *Service) HandleGenerate(ctx context.Context, msg schemas.SummarizeMessage) error {
	id, err := uuid.Parse(msg.MeetingID)
	if err != nil {
		return schemas.Permanent(fmt.Errorf("summarize: invalid meeting id %q: %w", msg.MeetingID, err))
	}
	meeting, err := s.store.GetMeeting(ctx, id)
	if err != nil {
		return err
	}

	switch meeting.Status {
	case schemas.StatusTranscribed:
		if err := s.store.BeginSummarizing(ctx, id); err != nil {
			return err
		}
	case schemas.StatusSummarizing:
		// Redelivery after a lost worker; resume from where we stand.
		s.logger.Warn("meeting %s already summarizing; resuming", msg.MeetingID)
	case schemas.StatusSummarized, schemas.StatusCompleted:
		s.logger.Info("summarize for meeting %s: already %s; no-op", msg.MeetingID, meeting.Status)
		return nil
	default:
		return schemas.Permanent(fmt.Errorf("summarize: meeting %s is %s, want transcribed", msg.MeetingID, meeting.Status))
	}

	transcript := meeting.Transcript()
	if strings.TrimSpace(transcript) == "" {
		return s.failSummarize(ctx, id, msg.MeetingID, "transcript is empty")
	}

	summary, err := s.summarize(ctx, id, transcript)
	if err != nil {
		return s.failSummarize(ctx, id, msg.MeetingID, err.Error())
	}

	if err := s.store.CompleteSummary(ctx, id, summary); err != nil {
		if errors.Is(err, schemas.ErrInvalidTransition) {
			s.logger.Warn("summary for meeting %s already persisted by another worker", msg.MeetingID)
			return nil
		}
		return err
	}
	s.logger.Info("meeting %s summarized (%d chars)", msg.MeetingID, len(summary))

	// Fire-and-forget fan-out: a publish failure is logged, not fatal, so a
	// flaky broker cannot undo a persisted summary.
	for _, key := range []string{schemas.KeyExtractKeyNotes, schemas.KeyGenerateTasks} {
		err := s.publisher.Publish(ctx, broker.Message{
			RoutingKey: key,
			Body:       schemas.SummarizeMessage{MeetingID: msg.MeetingID},
		})
		if err != nil {
			s.logger.Error("fan-out %s for meeting %s failed: %v", key, msg.MeetingID, err)
		}
	}
	return nil
}

// summarize runs the single-call or map-reduce path depending on transcript
// length. The reduce step always runs when there is more than one slice.
func (s *Service) summarize(ctx context.Context, id uuid.UUID, transcript string) (string, error) {
	slices := sliceText(transcript, s.chunkSize)
	if len(slices) == 1 {
		return s.llm.Generate(ctx, llm.SummaryPrompt(transcript))
	}

	if err := s.store.SetSummarizeProgress(ctx, id, len(slices), 0); err != nil {
		s.logger.Warn("recording summarize progress: %v", err)
	}
	partials := make([]string, len(slices))
	for i, slice := range slices {
		partial, err := s.llm.Generate(ctx, llm.ChunkSummaryPrompt(slice))
		if err != nil {
			return "", err
		}
		partials[i] = partial
		if err := s.store.SetSummarizeProgress(ctx, id, len(slices), i+1); err != nil {
			s.logger.Warn("recording summarize progress: %v", err)
		}
	}
	return s.llm.Generate(ctx, llm.MergeSummariesPrompt(strings.Join(partials, "\n\n")))
}

func (s *Service) failSummarize(ctx context.Context, id uuid.UUID, meetingID, message string) error {
	s.logger.Error("summarize for meeting %s failed: %s", meetingID, message)
	return s.store.MarkSummarizeFailed(ctx, id, message)
}

// sliceText splits the transcript into fixed-size character slices. Slicing
// is by rune so multi-byte text never splits mid-character.
func sliceText(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var slices []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		slices = append(slices, string(runes[start:end]))
	}
	return slices
}

// keyNoteItem is the shape the key-notes prompt requests.
type keyNoteItem struct {
	Category string `json:"category"`
	Note     string `json:"note"`
}

// HandleKeyNotes extracts classified key notes from the transcript. Model
// output that fails to parse yields an empty list, never a failed meeting;
// by this stage the summary is already persisted and the meeting must keep
// moving toward completed.
func (s *Service) HandleKeyNotes(ctx context.Context, msg schemas.SummarizeMessage) error {
	id, err := uuid.Parse(msg.MeetingID)
	if err != nil {
		return schemas.Permanent(fmt.Errorf("key notes: invalid meeting id %q: %w", msg.MeetingID, err))
	}
	meeting, err := s.store.GetMeeting(ctx, id)
	if err != nil {
		return err
	}

	notes := []schemas.KeyNote{}
	if out, err := s.llm.Generate(ctx, llm.KeyNotesPrompt(meeting.Transcript())); err != nil {
		s.logger.Error("key-note extraction for meeting %s failed: %v", msg.MeetingID, err)
	} else {
		notes = parseKeyNotes(out, s.logger, msg.MeetingID)
	}

	if err := s.store.UpdateKeyNotes(ctx, id, notes); err != nil {
		return err
	}
	s.logger.Info("meeting %s: %d key notes extracted", msg.MeetingID, len(notes))
	return s.finishFanOut(ctx, id, msg.MeetingID)
}

func parseKeyNotes(out string, logger schemas.Logger, meetingID string) []schemas.KeyNote {
	raw, ok := extractJSONArray(out)
	if !ok {
		logger.Warn("key-note output for meeting %s has no JSON array; storing empty list", meetingID)
		return []schemas.KeyNote{}
	}
	var items []keyNoteItem
	if err := schemas.Unmarshal(raw, &items); err != nil {
		logger.Warn("key-note output for meeting %s is not valid JSON (%v); storing empty list", meetingID, err)
		return []schemas.KeyNote{}
	}
	notes := make([]schemas.KeyNote, 0, len(items))
	for _, item := range items {
		note := strings.TrimSpace(item.Note)
		if note == "" {
			continue
		}
		notes = append(notes, schemas.KeyNote{
			Category: schemas.NormalizeKeyNoteCategory(item.Category),
			Note:     note,
		})
	}
	return notes
}

// taskItem is the shape the tasks prompt requests.
type taskItem struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Assignee    *string `json:"assignee"`
	DueDate     *string `json:"due_date"`
	Priority    string  `json:"priority"`
}

// HandleTasks extracts action items and persists them in one batch. Decode
// errors yield zero tasks (warned, not failed).
func (s *Service) HandleTasks(ctx context.Context, msg schemas.SummarizeMessage) error {
	id, err := uuid.Parse(msg.MeetingID)
	if err != nil {
		return schemas.Permanent(fmt.Errorf("tasks: invalid meeting id %q: %w", msg.MeetingID, err))
	}
	meeting, err := s.store.GetMeeting(ctx, id)
	if err != nil {
		return err
	}

	var tasks []*meetingstore.Task
	if out, err := s.llm.Generate(ctx, llm.TasksPrompt(meeting.Transcript())); err != nil {
		s.logger.Error("task extraction for meeting %s failed: %v", msg.MeetingID, err)
	} else {
		tasks = s.parseTasks(out, id, msg.MeetingID)
	}

	if err := s.store.CreateTasks(ctx, tasks); err != nil {
		return err
	}
	s.logger.Info("meeting %s: %d tasks extracted", msg.MeetingID, len(tasks))
	return s.finishFanOut(ctx, id, msg.MeetingID)
}

func (s *Service) parseTasks(out string, meetingID uuid.UUID, meetingIDStr string) []*meetingstore.Task {
	raw, ok := extractJSONArray(out)
	if !ok {
		s.logger.Warn("task output for meeting %s has no JSON array; storing no tasks", meetingIDStr)
		return nil
	}
	var items []taskItem
	if err := schemas.Unmarshal(raw, &items); err != nil {
		s.logger.Warn("task output for meeting %s is not valid JSON (%v); storing no tasks", meetingIDStr, err)
		return nil
	}
	tasks := make([]*meetingstore.Task, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		task := &meetingstore.Task{
			MeetingID:   meetingID,
			Title:       title,
			Description: item.Description,
			Assignee:    item.Assignee,
			Priority:    schemas.NormalizeTaskPriority(item.Priority),
			Status:      schemas.TaskStatusPending,
		}
		if item.DueDate != nil && *item.DueDate != "" {
			if due, err := time.Parse("2006-01-02", *item.DueDate); err == nil {
				task.DueDate = &due
			} else {
				s.logger.Warn("meeting %s task %q has unparsable due date %q; dropping it",
					meetingIDStr, title, *item.DueDate)
			}
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// finishFanOut bumps the fan-in counter and completes the meeting once both
// downstream jobs have landed. The guarded transition makes the race between
// the two handlers safe.
func (s *Service) finishFanOut(ctx context.Context, id uuid.UUID, meetingID string) error {
	n, err := s.cache.IncrFanIn(ctx, meetingID)
	if err != nil {
		return err
	}
	if n < fanOutWidth {
		return nil
	}
	if err := s.store.CompleteMeeting(ctx, id); err != nil {
		return err
	}
	if err := s.cache.ClearFanIn(ctx, meetingID); err != nil {
		s.logger.Warn("clearing fan-in counter for meeting %s: %v", meetingID, err)
	}
	s.logger.Info("meeting %s completed", meetingID)
	return nil
}
