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
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"cabana/internal/logger"
	"cabana/internal/protocol"
)

const (
	// Rolling window for panel-firmware parse errors
	parseErrorWindow = 5 * time.Minute

	// In-window counts: below warnThreshold log at warn, at or above log
	// at error, at reconnectThreshold force a reconnect
	parseErrorWarnThreshold      = 5
	parseErrorReconnectThreshold = 10

	// Outbound correlation ids remembered for ack matching
	sentCacheSize = 1024
)

// RouterHooks are the handlers a ResponseRouter dispatches into. They are
// registered once at construction, which keeps the wiring explicit and the
// router testable without a live session.
type RouterHooks struct {
	// OnDiscoveryAnswer receives hardware-definition answers
	OnDiscoveryAnswer func(frame *protocol.Frame)

	// OnEntityUpdate receives (entity id, changed fields) for known entities
	OnEntityUpdate func(objnam string, changes map[string]interface{})

	// OnPumpTelemetry receives change sets for ids in the pump-circuit table
	OnPumpTelemetry func(objnam string, changes map[string]interface{})

	// IsPumpCircuit reports whether an id is in the pump-circuit table
	IsPumpCircuit func(objnam string) bool

	// IsKnownEntity reports whether an id is in the discovered entity set
	IsKnownEntity func(objnam string) bool

	// RequestReconnect asks the session to tear down and reconnect
	RequestReconnect func(reason string)
}

// ResponseRouter classifies decoded frames and dispatches them to
// discovery handling, update handling or logging
type ResponseRouter struct {
	hooks RouterHooks

	// Correlation ids of outbound commands, for ack matching
	sent *lru.Cache[string, string]

	// Timestamps of in-window firmware parse errors, pruned lazily
	parseErrors []time.Time

	now    func() time.Time
	logger zerolog.Logger
	mutex  sync.Mutex
}

// NewResponseRouter creates a router with the given handlers
func NewResponseRouter(hooks RouterHooks) *ResponseRouter {
	sent, _ := lru.New[string, string](sentCacheSize)
	return &ResponseRouter{
		hooks:  hooks,
		sent:   sent,
		now:    time.Now,
		logger: logger.Component("router"),
	}
}

// TrackSent remembers an outbound command's correlation id so its echo can
// be recognized as a delivery acknowledgment
func (r *ResponseRouter) TrackSent(frame *protocol.Frame) {
	if frame.MessageID != "" {
		r.sent.Add(frame.MessageID, frame.Command)
	}
}

// Route classifies one decoded frame
func (r *ResponseRouter) Route(frame *protocol.Frame) {
	if !frame.IsOK() {
		r.handleErrorStatus(frame)
		return
	}

	if frame.IsDiscoveryAnswer() {
		r.hooks.OnDiscoveryAnswer(frame)
		return
	}

	if frame.Command == protocol.CommandNotifyList {
		r.handleNotification(frame)
		return
	}

	// Liveness reply to an outbound ping; the read loop already refreshed
	// the inbound timestamp
	if frame.Command == protocol.CommandPong {
		r.logger.Debug().Msg("Pong received")
		return
	}

	// Echo of something we sent is a delivery acknowledgment
	if _, ok := r.sent.Get(frame.MessageID); ok {
		r.sent.Remove(frame.MessageID)
		r.logger.Debug().
			Str("command", frame.Command).
			Str("message_id", frame.MessageID).
			Msg("Delivery acknowledged")
		return
	}
	if protocol.RequestKinds[frame.Command] {
		// The panel occasionally echoes with a fresh id; still an ack
		r.logger.Debug().
			Str("command", frame.Command).
			Msg("Request kind echoed without tracked id, treating as ack")
		return
	}

	r.logger.Debug().
		Str("command", frame.Command).
		Str("message_id", frame.MessageID).
		Msg("Unhandled frame kind, ignoring")
}

// handleErrorStatus deals with non-OK response codes. The firmware's
// parse-error class is rate-tracked and can trigger a proactive reconnect;
// everything else is logged and dropped, since the submitter already lost
// its one-shot acknowledgment.
func (r *ResponseRouter) handleErrorStatus(frame *protocol.Frame) {
	if !isParseErrorClass(frame) {
		r.logger.Warn().
			Str("command", frame.Command).
			Str("response", frame.Response).
			Str("description", frame.Description).
			Msg("Panel rejected command, dropping")
		return
	}

	count := r.recordParseError()
	switch {
	case count >= parseErrorReconnectThreshold:
		r.logger.Error().
			Int("count", count).
			Dur("window", parseErrorWindow).
			Msg("Panel parse errors exceeded reconnect threshold, forcing reconnect")
		r.resetParseErrors()
		r.hooks.RequestReconnect("panel parse-error storm")
	case count >= parseErrorWarnThreshold:
		r.logger.Error().
			Int("count", count).
			Dur("window", parseErrorWindow).
			Msg("Repeated panel parse errors, check firmware version and recent commands")
	default:
		r.logger.Warn().
			Int("count", count).
			Str("description", frame.Description).
			Msg("Panel reported parse error")
	}
}

// handleNotification unpacks a change-notification into (entity id, changed
// fields) pairs and forwards each to the right update path
func (r *ResponseRouter) handleNotification(frame *protocol.Frame) {
	for _, entry := range frame.ObjectList {
		changes := entry.Changes
		if changes == nil {
			changes = entry.Params
		}
		if entry.Objnam == "" || changes == nil {
			continue
		}

		// Pump-circuit ids are redirected so speed telemetry reaches the
		// right object graph instead of the generic entity path
		if r.hooks.IsPumpCircuit(entry.Objnam) {
			r.hooks.OnPumpTelemetry(entry.Objnam, changes)
			continue
		}

		if r.hooks.IsKnownEntity(entry.Objnam) {
			r.hooks.OnEntityUpdate(entry.Objnam, changes)
			continue
		}

		r.logUnknownObject(entry.Objnam, changes)
	}
}

// logUnknownObject classifies telemetry for ids outside the discovered
// tree. Speed+select pairs are expected standalone-pump telemetry;
// identification fields get a full diagnostic payload so operators can
// registry-map new devices.
func (r *ResponseRouter) logUnknownObject(objnam string, changes map[string]interface{}) {
	_, hasSpeed := changes[protocol.ParamSpeed]
	_, hasSelect := changes[protocol.ParamSelect]
	if hasSpeed && hasSelect {
		r.logger.Debug().
			Str("objnam", objnam).
			Interface("changes", changes).
			Msg("Standalone pump telemetry for unregistered id")
		return
	}

	_, hasType := changes[protocol.ParamObjectType]
	_, hasSub := changes[protocol.ParamSubType]
	_, hasName := changes[protocol.ParamName]
	if hasType || hasSub || hasName {
		r.logger.Info().
			Str("objnam", objnam).
			Interface("payload", changes).
			Msg("Update for unknown object with identification fields")
		return
	}

	r.logger.Debug().
		Str("objnam", objnam).
		Msg("Update for unknown object, ignoring")
}

// recordParseError appends a timestamp and returns the in-window count
func (r *ResponseRouter) recordParseError() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cutoff := r.now().Add(-parseErrorWindow)
	kept := r.parseErrors[:0]
	for _, ts := range r.parseErrors {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.parseErrors = append(kept, r.now())
	return len(r.parseErrors)
}

func (r *ResponseRouter) resetParseErrors() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.parseErrors = nil
}

// ParseErrorCount returns the current in-window parse error count
func (r *ResponseRouter) ParseErrorCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cutoff := r.now().Add(-parseErrorWindow)
	count := 0
	for _, ts := range r.parseErrors {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// isParseErrorClass matches the transient device-firmware error signature
func isParseErrorClass(frame *protocol.Frame) bool {
	if frame.Response == protocol.StatusParseError {
		return true
	}
	return strings.Contains(strings.ToLower(frame.Description), "parseerror") ||
		strings.Contains(strings.ToLower(frame.Description), "parse error")
}
