package schemas

import "fmt"

// Routing keys for the transcription queue.
const (
	KeyTranscribeStart = "audio.transcribe.start"
	KeyTranscribeChunk = "audio.transcribe.chunk"
	KeyTranscribeMerge = "audio.transcribe.merge"
)

// Routing keys for the summarization queue. The key-note and task keys keep
// their legacy names for compatibility with already-enqueued messages.
const (
	KeySummarizeGenerate = "audio.summarize.generate"
	KeyExtractKeyNotes   = "extract_key_notes_task"
	KeyGenerateTasks     = "generate_tasks_task"
)

// Queue names.
const (
	QueueTranscribe = "audio.transcribe"
	QueueSummarize  = "audio.summarize"
)

// StartTranscribeMessage kicks off the pipeline for one meeting. Published
// by the API upload handler or by an administrative re-dispatch.
type StartTranscribeMessage struct {
	MeetingID string `json:"meeting_id"`
	AudioURL  string `json:"audio_url"`
}

// ChunkMessage instructs a worker to transcribe one staged chunk file.
// OffsetSeconds is the chunk's global start position; the worker adds it to
// every segment timestamp the provider returns.
type ChunkMessage struct {
	MeetingID     string  `json:"meeting_id"`
	ChunkID       int     `json:"chunk_id"`
	ChunkPath     string  `json:"chunk_path"`
	TotalChunks   int     `json:"total_chunks"`
	OffsetSeconds float64 `json:"offset_seconds"`
}

// MergeMessage triggers transcript assembly once all chunks have recorded a
// result.
type MergeMessage struct {
	MeetingID string `json:"meeting_id"`
}

// SummarizeMessage drives the summarize, key-note and task extraction
// handlers; all three carry only the meeting id.
type SummarizeMessage struct {
	MeetingID string `json:"meeting_id"`
}

// ChunkMessageID builds the deterministic message id for one chunk. The
// fixed form lets the broker layer suppress duplicate deliveries after a
// dispatcher re-run.
func ChunkMessageID(meetingID string, chunkID int) string {
	return fmt.Sprintf("chunk_%s_%d", meetingID, chunkID)
}

// MergeMessageID builds the deterministic message id for the merge barrier.
// Racing chunk workers that both observe the full count publish under the
// same id, collapsing to one delivery when dedup is available.
func MergeMessageID(meetingID string) string {
	return fmt.Sprintf("merge_%s", meetingID)
}
