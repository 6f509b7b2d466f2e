package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meetscribe/meetscribe/schemas"
)

// Chunk describes one exported slice of the source audio.
type Chunk struct {
	// Index is the zero-based chunk id; the file is chunk_<Index>.mp3.
	Index int
	// Path is the absolute or staging-relative location of the chunk file.
	Path string
	// Offset is the chunk's global start position in the source audio.
	Offset time.Duration
}

// Result reports what a split produced.
type Result struct {
	// Duration is the total decoded duration of the source.
	Duration time.Duration
	// Chunks are the exported slices in index order.
	Chunks []Chunk
}

// Splitter cuts a decoded track into fixed-duration chunk files. The final
// chunk is shorter when the duration is not a multiple of the chunk length.
type Splitter struct {
	chunkDuration time.Duration
}

// NewSplitter returns a splitter with the configured chunk duration.
func NewSplitter(chunkDuration time.Duration) *Splitter {
	return &Splitter{chunkDuration: chunkDuration}
}

// Split decodes the buffered audio and exports chunk_<i>.mp3 files into dir.
// On failure every chunk file already written is deleted and dir is removed
// if empty before the error propagates.
func (s *Splitter) Split(data []byte, dir string) (*Result, error) {
	track, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return s.split(track, dir)
}

func (s *Splitter) split(track *Track, dir string) (*Result, error) {
	durMS := track.Duration().Milliseconds()
	chunkMS := s.chunkDuration.Milliseconds()
	if durMS == 0 {
		return nil, &schemas.AudioProcessingError{Op: "split", Err: fmt.Errorf("audio has zero duration")}
	}
	n := int((durMS + chunkMS - 1) / chunkMS)

	result := &Result{Duration: track.Duration(), Chunks: make([]Chunk, 0, n)}
	var written []string
	for i := 0; i < n; i++ {
		from := time.Duration(int64(i)*chunkMS) * time.Millisecond
		to := from + time.Duration(chunkMS)*time.Millisecond
		if to > track.Duration() {
			to = track.Duration()
		}
		path := filepath.Join(dir, fmt.Sprintf("chunk_%d.mp3", i))
		if err := os.WriteFile(path, track.slice(from, to), 0o644); err != nil {
			cleanupPartial(dir, written)
			return nil, &schemas.AudioProcessingError{Op: "split", Err: fmt.Errorf("write %s: %w", path, err)}
		}
		written = append(written, path)
		result.Chunks = append(result.Chunks, Chunk{Index: i, Path: path, Offset: from})
	}
	return result, nil
}

// cleanupPartial deletes chunk files written before a failed split and
// removes the staging directory when that leaves it empty.
func cleanupPartial(dir string, written []string) {
	for _, path := range written {
		os.Remove(path)
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
}
