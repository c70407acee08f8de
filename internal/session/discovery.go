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
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cabana/internal/logger"
	"cabana/internal/protocol"
)

// DiscoveryState tracks the hardware-discovery handshake
type DiscoveryState string

const (
	DiscoveryIdle     DiscoveryState = "IDLE"
	DiscoverySending  DiscoveryState = "SENDING"
	DiscoveryMerging  DiscoveryState = "MERGING"
	DiscoveryComplete DiscoveryState = "COMPLETE"
)

// DiscoveryCoordinator drives the fixed sequence of hardware-definition
// queries after connect and merges their answers into one buffer. Steps
// are paced so the firmware is never asked for two sections at once.
//
// If the panel never answers a step, discovery stalls until the next
// reconnect; the heartbeat silence ceiling is the backstop.
type DiscoveryCoordinator struct {
	send       func(*protocol.Frame) error
	onComplete func(buffer map[string]interface{})
	pacing     time.Duration

	state      DiscoveryState
	step       int
	buffer     map[string]interface{}
	inProgress bool

	sleep  func(time.Duration)
	logger zerolog.Logger
	mutex  sync.Mutex
}

// NewDiscoveryCoordinator wires the coordinator to its sender and
// completion handler at construction time
func NewDiscoveryCoordinator(pacing time.Duration, send func(*protocol.Frame) error, onComplete func(map[string]interface{})) *DiscoveryCoordinator {
	if pacing <= 0 {
		pacing = 100 * time.Millisecond
	}
	return &DiscoveryCoordinator{
		send:       send,
		onComplete: onComplete,
		pacing:     pacing,
		state:      DiscoveryIdle,
		sleep:      time.Sleep,
		logger:     logger.Component("discovery"),
	}
}

// Reset returns the coordinator to IDLE with an empty buffer. Called
// exactly once per new connection so stale partial merges never leak
// across sessions.
func (d *DiscoveryCoordinator) Reset() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.state = DiscoveryIdle
	d.step = 0
	d.buffer = nil
	d.inProgress = false
	d.logger.Debug().Msg("Discovery reset")
}

// Start issues the first query of the sequence
func (d *DiscoveryCoordinator) Start() {
	d.mutex.Lock()
	if d.inProgress {
		d.mutex.Unlock()
		d.logger.Warn().Msg("Discovery already in progress, ignoring start")
		return
	}
	d.inProgress = true
	d.state = DiscoverySending
	d.step = 0
	d.buffer = make(map[string]interface{})
	d.mutex.Unlock()

	d.sendStep(0)
}

// HandleAnswer merges one discovery answer and advances the sequence.
// After the final step the buffer is handed to the completion handler and
// cleared.
func (d *DiscoveryCoordinator) HandleAnswer(frame *protocol.Frame) {
	d.mutex.Lock()

	if !d.inProgress {
		d.mutex.Unlock()
		d.logger.Warn().
			Str("query", frame.QueryName).
			Msg("Discovery answer received while not in progress, dropping")
		return
	}

	d.state = DiscoveryMerging
	deepMerge(d.buffer, frame.Answer)
	step := d.step
	d.logger.Debug().
		Str("argument", protocol.DiscoverySequence[step]).
		Int("step", step).
		Int("buffer_keys", len(d.buffer)).
		Msg("Merged discovery answer")

	if step == len(protocol.DiscoverySequence)-1 {
		buffer := d.buffer
		d.buffer = nil
		d.state = DiscoveryComplete
		d.inProgress = false
		d.mutex.Unlock()

		d.logger.Info().
			Int("steps", len(protocol.DiscoverySequence)).
			Int("buffer_keys", len(buffer)).
			Msg("Discovery sequence complete")
		d.onComplete(buffer)
		return
	}

	d.step = step + 1
	d.mutex.Unlock()

	// Pace the device before the next query
	go func() {
		d.sleep(d.pacing)
		d.sendStep(step + 1)
	}()
}

// sendStep issues query i of the fixed sequence, aborting the run on send
// failure (the reconnect path restarts discovery from scratch)
func (d *DiscoveryCoordinator) sendStep(i int) {
	d.mutex.Lock()
	if !d.inProgress && i > 0 {
		d.mutex.Unlock()
		return
	}
	d.state = DiscoverySending
	d.mutex.Unlock()

	request := protocol.NewQueryRequest(protocol.DiscoverySequence[i])
	d.logger.Debug().
		Str("argument", protocol.DiscoverySequence[i]).
		Str("message_id", request.MessageID).
		Int("step", i).
		Msg("Sending discovery query")

	if err := d.send(request); err != nil {
		d.logger.Error().
			Err(err).
			Str("argument", protocol.DiscoverySequence[i]).
			Msg("Failed to send discovery query")
		d.mutex.Lock()
		d.inProgress = false
		d.state = DiscoveryIdle
		d.mutex.Unlock()
	}
}

// State returns the current discovery state
func (d *DiscoveryCoordinator) State() DiscoveryState {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state
}

// deepMerge folds src into dst. Nested maps merge recursively; for any
// other duplicate key the later value wins, so merge order matters and the
// operation is not invertible.
func deepMerge(dst, src map[string]interface{}) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
}
