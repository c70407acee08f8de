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

package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cabana/internal/logger"
	"cabana/internal/protocol"
	"cabana/internal/resilience"
)

// Per-command write attempts before handoff to the dead letter queue
const defaultMaxSendAttempts = 3

// connectionErrorMarkers identify transport-level failures. These break the
// drain and trigger a reconnect instead of burning attempts on a dead socket.
var connectionErrorMarkers = []string{
	"not connected",
	"ECONNREFUSED",
	"ECONNRESET",
	"EPIPE",
	"broken pipe",
	"connection reset",
	"connection refused",
	"use of closed network connection",
	"socket",
}

type pendingCommand struct {
	frame    *protocol.Frame
	attempts int
}

// CommandQueue serializes outbound writes into a paced FIFO. A single drain
// goroutine is in flight at a time; enqueueing while a drain runs just
// appends. Any send failure eventually parks the command in the dead letter
// queue: per-command failures after the retry budget, transport failures
// immediately, since a dead-lettered command is only ever redelivered by an
// explicit replay. A transport failure also suspends the drain until the
// session reconnects and calls Resume.
type CommandQueue struct {
	send             func(*protocol.Frame) error
	onSent           func(*protocol.Frame)
	deadLetters      *resilience.DeadLetterQueue
	requestReconnect func(reason string)

	pacing      time.Duration
	maxAttempts int

	items    []pendingCommand
	draining bool

	sleep  func(time.Duration)
	logger zerolog.Logger
	mutex  sync.Mutex
}

// NewCommandQueue wires the queue to its sender, sent-notification hook,
// dead letter queue and reconnect trigger
func NewCommandQueue(pacing time.Duration, send func(*protocol.Frame) error, onSent func(*protocol.Frame), deadLetters *resilience.DeadLetterQueue, requestReconnect func(string)) *CommandQueue {
	if pacing <= 0 {
		pacing = 250 * time.Millisecond
	}
	return &CommandQueue{
		send:             send,
		onSent:           onSent,
		deadLetters:      deadLetters,
		requestReconnect: requestReconnect,
		pacing:           pacing,
		maxAttempts:      defaultMaxSendAttempts,
		sleep:            time.Sleep,
		logger:           logger.Component("queue"),
	}
}

// Enqueue validates and queues one command, starting a drain if none is
// running. The round-trip through the codec catches frames that would not
// survive the wire before they ever reach the socket.
func (q *CommandQueue) Enqueue(frame *protocol.Frame) error {
	if err := protocol.ValidateRequest(frame); err != nil {
		return fmt.Errorf("rejecting malformed command: %w", err)
	}
	data, err := frame.Serialize()
	if err != nil {
		return err
	}
	if _, err := protocol.ParseFrame(data); err != nil {
		return fmt.Errorf("command does not survive codec round trip: %w", err)
	}

	q.mutex.Lock()
	q.items = append(q.items, pendingCommand{frame: frame})
	size := len(q.items)
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mutex.Unlock()

	q.logger.Debug().
		Str("command", frame.Command).
		Str("message_id", frame.MessageID).
		Int("queue_size", size).
		Msg("Command queued")

	if start {
		go q.drain()
	}
	return nil
}

// Resume restarts the drain after a reconnect if commands are still waiting
func (q *CommandQueue) Resume() {
	q.mutex.Lock()
	if q.draining || len(q.items) == 0 {
		q.mutex.Unlock()
		return
	}
	q.draining = true
	size := len(q.items)
	q.mutex.Unlock()

	q.logger.Info().Int("queue_size", size).Msg("Resuming command drain")
	go q.drain()
}

// Size returns the number of queued commands
func (q *CommandQueue) Size() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

// drain sends queued commands in order, one at a time, pacing between
// writes. Exactly one drain goroutine exists while draining is true.
func (q *CommandQueue) drain() {
	for {
		q.mutex.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mutex.Unlock()
			return
		}
		item := q.items[0]
		q.mutex.Unlock()

		err := q.send(item.frame)
		if err == nil {
			q.popHead()
			if q.onSent != nil {
				q.onSent(item.frame)
			}
			q.sleep(q.pacing)
			continue
		}

		if isConnectionError(err) {
			// The command that hit the dead socket is parked, never
			// auto-redelivered. Replay is an explicit operator action.
			q.popHead()
			q.deadLetters.Add(item.frame, item.attempts+1, err, item.frame.MessageID)
			q.mutex.Lock()
			q.draining = false
			q.mutex.Unlock()
			q.logger.Warn().
				Err(err).
				Str("command", item.frame.Command).
				Msg("Transport failure during drain, command dead lettered and queue suspended")
			if q.requestReconnect != nil {
				q.requestReconnect("command send failed: " + err.Error())
			}
			return
		}

		q.mutex.Lock()
		q.items[0].attempts++
		attempts := q.items[0].attempts
		q.mutex.Unlock()

		if attempts >= q.maxAttempts {
			q.popHead()
			q.deadLetters.Add(item.frame, attempts, err, item.frame.MessageID)
		} else {
			q.logger.Warn().
				Err(err).
				Str("command", item.frame.Command).
				Int("attempts", attempts).
				Msg("Command send failed, will retry")
			q.sleep(q.pacing)
		}
	}
}

func (q *CommandQueue) popHead() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
}

// isConnectionError reports whether err looks like a dead transport rather
// than a per-command failure
func isConnectionError(err error) bool {
	msg := err.Error()
	for _, marker := range connectionErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
