// Package audio decodes buffered mp3 audio, reports its total duration, and
// exports contiguous time-range slices as standalone chunk files. Slices are
// cut at MPEG frame boundaries so every chunk is a valid mp3 stream on its
// own; upload-time normalization guarantees the splitter only ever sees mp3.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/meetscribe/meetscribe/schemas"
)

// MPEG version ids from the frame header.
const (
	versionMPEG25 = 0
	versionMPEG2  = 2
	versionMPEG1  = 3
)

// Layer III bitrates in kbit/s, indexed by the header's bitrate field.
var (
	bitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	bitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
)

// Sample rates in Hz, indexed by version then the header's rate field.
var sampleRates = map[byte][3]int{
	versionMPEG1:  {44100, 48000, 32000},
	versionMPEG2:  {22050, 24000, 16000},
	versionMPEG25: {11025, 12000, 8000},
}

var errNoFrames = errors.New("no mpeg audio frames found")

// frameInfo describes one indexed frame: its position in the raw buffer and
// the time it contributes.
type frameInfo struct {
	offset   int
	size     int
	duration time.Duration
}

// parseFrameHeader decodes the 4-byte header at data[0:4]. Only Layer III is
// accepted; anything else is not a frame.
func parseFrameHeader(data []byte) (size int, duration time.Duration, ok bool) {
	if len(data) < 4 {
		return 0, 0, false
	}
	if data[0] != 0xFF || data[1]&0xE0 != 0xE0 {
		return 0, 0, false
	}
	version := (data[1] >> 3) & 0x03
	layer := (data[1] >> 1) & 0x03
	if layer != 0x01 { // Layer III only
		return 0, 0, false
	}
	rates, knownVersion := sampleRates[version]
	if !knownVersion {
		return 0, 0, false
	}

	bitrateIdx := data[2] >> 4
	rateIdx := (data[2] >> 2) & 0x03
	padding := int((data[2] >> 1) & 0x01)
	if rateIdx == 3 {
		return 0, 0, false
	}

	var bitrate, samplesPerFrame int
	if version == versionMPEG1 {
		bitrate = bitratesV1[bitrateIdx]
		samplesPerFrame = 1152
	} else {
		bitrate = bitratesV2[bitrateIdx]
		samplesPerFrame = 576
	}
	if bitrate == 0 {
		return 0, 0, false
	}
	sampleRate := rates[rateIdx]

	size = samplesPerFrame/8*bitrate*1000/sampleRate + padding
	duration = time.Duration(samplesPerFrame) * time.Second / time.Duration(sampleRate)
	return size, duration, true
}

// id3v2Size returns the number of bytes to skip for a leading ID3v2 tag.
func id3v2Size(data []byte) int {
	if len(data) < 10 || !bytes.Equal(data[0:3], []byte("ID3")) {
		return 0
	}
	// Syncsafe 28-bit size, excluding the 10-byte header.
	size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	return size + 10
}

// indexFrames walks the buffer and records every Layer III frame. Walking
// stops at an ID3v1 trailer or at the first unparsable header after valid
// frames, which tolerates encoder trailers and truncated tails.
func indexFrames(data []byte) ([]frameInfo, error) {
	pos := id3v2Size(data)
	var frames []frameInfo
	for pos+4 <= len(data) {
		if bytes.Equal(data[pos:pos+3], []byte("TAG")) {
			break
		}
		size, duration, ok := parseFrameHeader(data[pos:])
		if !ok {
			if len(frames) == 0 {
				return nil, errNoFrames
			}
			break
		}
		if pos+size > len(data) {
			// Truncated final frame; drop it.
			break
		}
		frames = append(frames, frameInfo{offset: pos, size: size, duration: duration})
		pos += size
	}
	if len(frames) == 0 {
		return nil, errNoFrames
	}
	return frames, nil
}

// Track is fully indexed mp3 audio held in memory.
type Track struct {
	data     []byte
	frames   []frameInfo
	duration time.Duration
}

// newTrack indexes the buffer without the decoder cross-check.
func newTrack(data []byte) (*Track, error) {
	frames, err := indexFrames(data)
	if err != nil {
		return nil, err
	}
	t := &Track{data: data, frames: frames}
	for _, f := range frames {
		t.duration += f.duration
	}
	return t, nil
}

// Decode indexes the buffer and cross-checks with a go-mp3 decode pass that
// the payload is actually decodable mp3, catching mislabeled uploads before
// any chunk file is written.
func Decode(data []byte) (*Track, error) {
	if _, err := mp3.NewDecoder(bytes.NewReader(data)); err != nil {
		return nil, &schemas.AudioProcessingError{Op: "decode", Err: err}
	}
	t, err := newTrack(data)
	if err != nil {
		return nil, &schemas.AudioProcessingError{Op: "decode", Err: err}
	}
	return t, nil
}

// Duration is the summed duration of all indexed frames.
func (t *Track) Duration() time.Duration {
	return t.duration
}

// slice returns the raw bytes of every frame whose start lies in [from, to).
// Boundaries land on frame edges, so the result is a playable mp3 stream.
func (t *Track) slice(from, to time.Duration) []byte {
	var buf bytes.Buffer
	var at time.Duration
	for _, f := range t.frames {
		if at >= to {
			break
		}
		if at >= from {
			buf.Write(t.data[f.offset : f.offset+f.size])
		}
		at += f.duration
	}
	return buf.Bytes()
}

func (t *Track) String() string {
	return fmt.Sprintf("mp3 track: %d frames, %s", len(t.frames), t.duration)
}
