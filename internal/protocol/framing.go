// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"cabana/internal/logger"
)

// DefaultMaxBufferSize caps partial-frame accumulation. The panel never
// sends a legitimate frame anywhere near this size; exceeding it means the
// firmware stopped sending delimiters.
const DefaultMaxBufferSize = 1 << 20 // 1 MiB

// ErrBufferOverflow is reported when partial-frame accumulation exceeds the
// configured ceiling without a terminating newline. The buffer has already
// been discarded when this is returned.
var ErrBufferOverflow = fmt.Errorf("frame buffer overflow")

// FrameReaderStats reports cumulative framing counters
type FrameReaderStats struct {
	FramesDecoded   int `json:"frames_decoded"`
	FramesRejected  int `json:"frames_rejected"`
	DecodeFailures  int `json:"decode_failures"`
	BufferOverflows int `json:"buffer_overflows"`
}

// FrameReader turns a raw byte stream into discrete JSON frames. Chunks are
// accumulated until one ends with a newline, then the combined buffer is
// split into candidate lines. Malformed lines are dropped without stopping
// the rest of the batch.
type FrameReader struct {
	buffer    []byte
	maxBuffer int
	stats     FrameReaderStats
	logger    zerolog.Logger
	mutex     sync.Mutex
}

// NewFrameReader creates a frame reader with the given buffer ceiling.
// A ceiling of zero or less uses DefaultMaxBufferSize.
func NewFrameReader(maxBuffer int) *FrameReader {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBufferSize
	}
	return &FrameReader{
		maxBuffer: maxBuffer,
		logger:    logger.Component("framer"),
	}
}

// Append feeds a chunk of bytes from the socket. It returns every frame
// that became complete with this chunk. The error is non-nil only for
// buffer overflow; decode failures are logged and skipped so later frames
// in the same batch still come through.
func (r *FrameReader) Append(chunk []byte) ([]*Frame, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.buffer = append(r.buffer, chunk...)

	// Parsing is deferred until a chunk closes a line. A partial frame
	// stays buffered for the next read.
	if len(chunk) == 0 || chunk[len(chunk)-1] != '\n' {
		if len(r.buffer) > r.maxBuffer {
			size := len(r.buffer)
			r.buffer = nil
			r.stats.BufferOverflows++
			r.logger.Error().
				Int("buffer_size", size).
				Int("max_buffer", r.maxBuffer).
				Msg("Frame buffer exceeded ceiling without delimiter, discarding")
			return nil, ErrBufferOverflow
		}
		return nil, nil
	}

	lines := bytes.Split(r.buffer, []byte{'\n'})
	r.buffer = nil

	var frames []*Frame
	for _, line := range lines {
		candidate := strings.TrimSpace(string(line))
		if candidate == "" {
			continue
		}

		// Anything that is not structurally a JSON object is firmware
		// noise (telnet banners, stray CRs), not a frame.
		if !strings.HasPrefix(candidate, "{") || !strings.HasSuffix(candidate, "}") {
			r.stats.FramesRejected++
			r.logger.Warn().
				Int("length", len(candidate)).
				Str("head", excerpt(candidate, 40)).
				Msg("Rejected unbracketed frame candidate")
			continue
		}

		frame, err := ParseFrame([]byte(candidate))
		if err != nil {
			r.stats.DecodeFailures++
			r.logger.Warn().
				Err(err).
				Int("length", len(candidate)).
				Str("head", excerpt(candidate, 60)).
				Str("tail", tailExcerpt(candidate, 40)).
				Msg("Failed to decode frame")
			continue
		}

		r.stats.FramesDecoded++
		frames = append(frames, frame)
	}

	return frames, nil
}

// Reset discards any buffered partial frame, used on reconnect so stale
// bytes from the previous socket never prefix the next session's frames
func (r *FrameReader) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.buffer = nil
}

// BufferedBytes returns the current partial-frame accumulation size
func (r *FrameReader) BufferedBytes() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.buffer)
}

// Stats returns cumulative framing counters
func (r *FrameReader) Stats() FrameReaderStats {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.stats
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func tailExcerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
