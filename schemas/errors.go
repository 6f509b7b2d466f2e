package schemas

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across store, cache and pipeline packages.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when a meeting status change is not
	// allowed by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// PermanentError wraps an error for which a broker-level retry is useless.
// The worker engine drops the message instead of re-publishing it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retriable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err must not be retried by the broker.
// Not-found and invalid-transition errors are permanent by definition.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition)
}

// StreamingError reports a failure while reading source audio from the
// object store or over HTTP. Throttled marks provider-side rate limiting,
// which the reader retries internally.
type StreamingError struct {
	URL       string
	Throttled bool
	Err       error
}

func (e *StreamingError) Error() string {
	if e.Throttled {
		return fmt.Sprintf("streaming throttled for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("streaming failed for %s: %v", e.URL, e.Err)
}

func (e *StreamingError) Unwrap() error { return e.Err }

// NetworkRetryExhaustedError is raised when the streaming reader has used up
// all of its internal attempts. It escalates to a task-level retry.
type NetworkRetryExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkRetryExhaustedError) Error() string {
	return fmt.Sprintf("network retries exhausted after %d attempts for %s: %v", e.Attempts, e.URL, e.Err)
}

func (e *NetworkRetryExhaustedError) Unwrap() error { return e.Err }

// AudioProcessingError reports a decode or split failure. Partial chunk
// files are cleaned up before this error propagates.
type AudioProcessingError struct {
	Op  string
	Err error
}

func (e *AudioProcessingError) Error() string {
	return fmt.Sprintf("audio processing failed during %s: %v", e.Op, e.Err)
}

func (e *AudioProcessingError) Unwrap() error { return e.Err }

// TranscriptionError reports a transcription provider failure for one chunk.
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed (provider %s): %v", e.Provider, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// LLMError reports a language-model call that failed after the client's
// internal retries. StatusCode is zero for transport-level failures.
type LLMError struct {
	StatusCode int
	Err        error
}

func (e *LLMError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm request failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm request failed: %v", e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }
