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

package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cabana/internal/logger"
	"cabana/internal/protocol"
)

// DeadLetterEntry is a command that could not be delivered, parked for
// inspection or explicit replay
type DeadLetterEntry struct {
	Command    *protocol.Frame `json:"command"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error"`
	OriginalID string          `json:"original_id"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// DeadLetterStats summarizes queue occupancy
type DeadLetterStats struct {
	Size   int        `json:"size"`
	Oldest *time.Time `json:"oldest,omitempty"`
	Newest *time.Time `json:"newest,omitempty"`
}

// DeadLetterQueue is a bounded, time-retained store for undeliverable
// commands. It is diagnostic, not auto-replayed: replay is an explicit
// external action.
type DeadLetterQueue struct {
	entries      []DeadLetterEntry
	maxSize      int
	maxRetention time.Duration

	now    func() time.Time
	logger zerolog.Logger
	mutex  sync.Mutex
}

// NewDeadLetterQueue creates a queue bounded by maxSize entries and
// maxRetention age
func NewDeadLetterQueue(maxSize int, maxRetention time.Duration) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if maxRetention <= 0 {
		maxRetention = 24 * time.Hour
	}
	return &DeadLetterQueue{
		maxSize:      maxSize,
		maxRetention: maxRetention,
		now:          time.Now,
		logger:       logger.Component("deadletter"),
	}
}

// Add parks a failed command. Expired entries are purged first; if the
// queue is still over capacity afterwards, the oldest entries are evicted.
func (q *DeadLetterQueue) Add(command *protocol.Frame, attempts int, lastErr error, originalID string) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.pruneLocked()

	errText := ""
	if lastErr != nil {
		errText = lastErr.Error()
	}

	q.entries = append(q.entries, DeadLetterEntry{
		Command:    command,
		Attempts:   attempts,
		LastError:  errText,
		OriginalID: originalID,
		EnqueuedAt: q.now(),
	})

	for len(q.entries) > q.maxSize {
		evicted := q.entries[0]
		q.entries = q.entries[1:]
		q.logger.Warn().
			Str("original_id", evicted.OriginalID).
			Str("command", evicted.Command.Command).
			Msg("Evicted oldest dead letter, queue at capacity")
	}

	q.logger.Info().
		Str("original_id", originalID).
		Str("command", command.Command).
		Int("attempts", attempts).
		Str("error", errText).
		Int("queue_size", len(q.entries)).
		Msg("Command moved to dead letter queue")
}

// GetFailedCommands returns the surviving entries, oldest first
func (q *DeadLetterQueue) GetFailedCommands() []DeadLetterEntry {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.pruneLocked()
	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Drain removes and returns all surviving entries, used for explicit replay
func (q *DeadLetterQueue) Drain() []DeadLetterEntry {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.pruneLocked()
	out := q.entries
	q.entries = nil
	return out
}

// GetStats reports size and the enqueue timestamps of the oldest and newest
// surviving entries
func (q *DeadLetterQueue) GetStats() DeadLetterStats {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.pruneLocked()

	stats := DeadLetterStats{Size: len(q.entries)}
	if len(q.entries) > 0 {
		oldest := q.entries[0].EnqueuedAt
		newest := q.entries[len(q.entries)-1].EnqueuedAt
		stats.Oldest = &oldest
		stats.Newest = &newest
	}
	return stats
}

// pruneLocked drops entries older than the retention window. Lazy: called
// on add/read, never from a background timer.
func (q *DeadLetterQueue) pruneLocked() {
	cutoff := q.now().Add(-q.maxRetention)
	kept := q.entries[:0]
	for _, entry := range q.entries {
		if entry.EnqueuedAt.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	q.entries = kept
}
