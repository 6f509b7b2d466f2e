package schemas

// ChunkStatus marks whether a chunk worker finished its slice successfully.
type ChunkStatus string

const (
	ChunkStatusSuccess ChunkStatus = "success"
	ChunkStatusFailed  ChunkStatus = "failed"
)

// ChunkResult is the per-chunk outcome a worker records in the cache. It is
// the unit the merger reads: a failed entry still counts toward the
// completion barrier so the merger can fail the meeting deterministically.
// Segments carry GLOBAL timestamps; the producing worker applies the chunk
// offset before writing.
type ChunkResult struct {
	ChunkID  int         `json:"chunk_id"`
	Status   ChunkStatus `json:"status"`
	Error    string      `json:"error,omitempty"`
	Segments []Segment   `json:"segments"`
}

// Succeeded reports whether the chunk transcribed cleanly.
func (r ChunkResult) Succeeded() bool {
	return r.Status == ChunkStatusSuccess
}
