package schemas

import "strings"

// MeetingStatus is the lifecycle state of a meeting as it moves through the
// transcription and summarization stages.
type MeetingStatus string

const (
	StatusProcessing       MeetingStatus = "processing"
	StatusTranscribing     MeetingStatus = "transcribing"
	StatusTranscribed      MeetingStatus = "transcribed"
	StatusSummarizing      MeetingStatus = "summarizing"
	StatusSummarized       MeetingStatus = "summarized"
	StatusCompleted        MeetingStatus = "completed"
	StatusTranscribeFailed MeetingStatus = "transcribe_failed"
	StatusSummarizeFailed  MeetingStatus = "summarize_failed"
)

// transitionSources maps every reachable status to the statuses a meeting is
// allowed to move FROM. A failed transcription may be re-entered into the
// pipeline, so transcribing accepts transcribe_failed as a source.
var transitionSources = map[MeetingStatus][]MeetingStatus{
	StatusTranscribing:     {StatusProcessing, StatusTranscribeFailed},
	StatusTranscribed:      {StatusTranscribing},
	StatusTranscribeFailed: {StatusTranscribing},
	StatusSummarizing:      {StatusTranscribed},
	StatusSummarized:       {StatusSummarizing},
	StatusSummarizeFailed:  {StatusSummarizing},
	StatusCompleted:        {StatusSummarized},
}

// TransitionSources returns the statuses from which a meeting may legally
// move to the given status. The returned slice must not be mutated.
func TransitionSources(to MeetingStatus) []MeetingStatus {
	return transitionSources[to]
}

// CanTransition reports whether moving from one status to another is allowed
// by the state machine.
func CanTransition(from, to MeetingStatus) bool {
	for _, s := range transitionSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a terminal status. Terminal meetings are
// not mutated further except by an explicit administrative re-dispatch.
func (s MeetingStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusTranscribeFailed, StatusSummarizeFailed:
		return true
	}
	return false
}

// Segment is one timed slice of the transcript. Once a chunk worker has
// applied its offset, Start and End are global positions in the source audio.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Valid reports whether the segment carries usable data: non-negative start,
// end at or after start, and text that is non-empty after trimming.
func (s Segment) Valid() bool {
	return s.Start >= 0 && s.End >= s.Start && strings.TrimSpace(s.Text) != ""
}

// WithOffset returns a copy of the segment shifted by offsetSeconds, turning
// chunk-local timestamps into global ones.
func (s Segment) WithOffset(offsetSeconds float64) Segment {
	return Segment{
		Start: s.Start + offsetSeconds,
		End:   s.End + offsetSeconds,
		Text:  s.Text,
	}
}

// SegmentsToText joins segment texts with single spaces. This is the
// canonical transcript representation persisted on the meeting.
func SegmentsToText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

// KeyNoteCategory classifies a key note extracted from the transcript.
type KeyNoteCategory string

const (
	KeyNoteDecision KeyNoteCategory = "Decision"
	KeyNoteTask     KeyNoteCategory = "Task"
	KeyNoteKeyPoint KeyNoteCategory = "KeyPoint"
	KeyNoteRisk     KeyNoteCategory = "Risk"
	KeyNoteQuestion KeyNoteCategory = "Question"
)

// NormalizeKeyNoteCategory maps free-form model output onto a canonical
// category. Unknown values fall back to KeyPoint.
func NormalizeKeyNoteCategory(raw string) KeyNoteCategory {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "decision":
		return KeyNoteDecision
	case "task":
		return KeyNoteTask
	case "keypoint", "key point", "key_point":
		return KeyNoteKeyPoint
	case "risk":
		return KeyNoteRisk
	case "question":
		return KeyNoteQuestion
	default:
		return KeyNoteKeyPoint
	}
}

// KeyNote is one classified takeaway from a meeting.
type KeyNote struct {
	Category KeyNoteCategory `json:"category"`
	Note     string          `json:"note"`
}

// TaskPriority is the urgency of an extracted action item.
type TaskPriority string

const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityLow    TaskPriority = "low"
)

// NormalizeTaskPriority maps free-form model output onto a canonical
// priority. Unknown values fall back to medium.
func NormalizeTaskPriority(raw string) TaskPriority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high":
		return TaskPriorityHigh
	case "low":
		return TaskPriorityLow
	case "medium", "":
		return TaskPriorityMedium
	default:
		return TaskPriorityMedium
	}
}

// TaskStatus is the lifecycle state of an extracted action item.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)
