package llm

import "fmt"

// Prompt templates for the summarize service. The content is deliberately
// plain; downstream parsing depends only on the JSON shapes requested by the
// key-note and task prompts.

const summaryTemplate = `You are given the full transcript of a meeting. Write a concise prose summary covering the purpose of the meeting, the main discussion points, and the outcomes. Do not invent information that is not in the transcript.

Transcript:
%s`

const chunkSummaryTemplate = `You are given one part of a longer meeting transcript. Summarize this part on its own: the topics discussed and any outcomes mentioned. Keep it short; the partial summaries will be combined later.

Transcript part:
%s`

const mergeSummariesTemplate = `You are given several partial summaries of one meeting, in order. Combine them into a single coherent prose summary of the whole meeting. Remove repetition and keep the chronology.

Partial summaries:
%s`

const keyNotesTemplate = `Extract the key notes from the meeting transcript below. Respond with ONLY a JSON array, no prose, where each element is {"category": "...", "note": "..."}. The category must be one of: Decision, Task, KeyPoint, Risk, Question.

Transcript:
%s`

const tasksTemplate = `Extract the action items from the meeting transcript below. Respond with ONLY a JSON array, no prose, where each element is {"title": "...", "description": "...", "assignee": null or "name", "due_date": null or "YYYY-MM-DD", "priority": "high" | "medium" | "low"}.

Transcript:
%s`

// SummaryPrompt asks for a summary of a transcript that fits in one call.
func SummaryPrompt(transcript string) string {
	return fmt.Sprintf(summaryTemplate, transcript)
}

// ChunkSummaryPrompt asks for a summary of one transcript slice (map step).
func ChunkSummaryPrompt(slice string) string {
	return fmt.Sprintf(chunkSummaryTemplate, slice)
}

// MergeSummariesPrompt asks for the combined summary (reduce step).
func MergeSummariesPrompt(partials string) string {
	return fmt.Sprintf(mergeSummariesTemplate, partials)
}

// KeyNotesPrompt asks for the classified key-note JSON array.
func KeyNotesPrompt(transcript string) string {
	return fmt.Sprintf(keyNotesTemplate, transcript)
}

// TasksPrompt asks for the action-item JSON array.
func TasksPrompt(transcript string) string {
	return fmt.Sprintf(tasksTemplate, transcript)
}
