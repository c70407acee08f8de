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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabana/internal/protocol"
)

type fakeClock struct {
	current time.Time
	mutex   sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.current = c.current.Add(d)
}

// routerRecorder captures every hook dispatch
type routerRecorder struct {
	discovery  []*protocol.Frame
	updates    map[string]map[string]interface{}
	telemetry  map[string]map[string]interface{}
	reconnects []string

	pumpCircuits map[string]bool
	known        map[string]bool
}

func newRouterRecorder() *routerRecorder {
	return &routerRecorder{
		updates:      make(map[string]map[string]interface{}),
		telemetry:    make(map[string]map[string]interface{}),
		pumpCircuits: make(map[string]bool),
		known:        make(map[string]bool),
	}
}

func (rec *routerRecorder) hooks() RouterHooks {
	return RouterHooks{
		OnDiscoveryAnswer: func(f *protocol.Frame) { rec.discovery = append(rec.discovery, f) },
		OnEntityUpdate:    func(objnam string, changes map[string]interface{}) { rec.updates[objnam] = changes },
		OnPumpTelemetry:   func(objnam string, changes map[string]interface{}) { rec.telemetry[objnam] = changes },
		IsPumpCircuit:     func(objnam string) bool { return rec.pumpCircuits[objnam] },
		IsKnownEntity:     func(objnam string) bool { return rec.known[objnam] },
		RequestReconnect:  func(reason string) { rec.reconnects = append(rec.reconnects, reason) },
	}
}

func TestRouteDiscoveryAnswerBeforeAck(t *testing.T) {
	rec := newRouterRecorder()
	r := NewResponseRouter(rec.hooks())

	// The panel echoes the query's correlation id on its answer. The frame
	// must still reach discovery handling, not be swallowed as an ack.
	query := protocol.NewQueryRequest("CIRCUITS")
	r.TrackSent(query)

	r.Route(&protocol.Frame{
		Command:   protocol.CommandSendQuery,
		QueryName: protocol.QueryGetHardwareDefinition,
		MessageID: query.MessageID,
		Response:  protocol.StatusOK,
		Answer:    map[string]interface{}{"circuits": []interface{}{}},
	})

	require.Len(t, rec.discovery, 1)
	assert.Empty(t, rec.updates)
}

func TestRouteDeliveryAck(t *testing.T) {
	rec := newRouterRecorder()
	r := NewResponseRouter(rec.hooks())

	write := protocol.NewWriteRequest([]protocol.ObjectEntry{{
		Objnam: "B1101",
		Params: map[string]interface{}{"STATUS": "ON"},
	}})
	r.TrackSent(write)

	r.Route(&protocol.Frame{
		Command:   protocol.CommandSetParamList,
		MessageID: write.MessageID,
		Response:  protocol.StatusOK,
	})

	assert.Empty(t, rec.discovery)
	assert.Empty(t, rec.updates)
	assert.Empty(t, rec.reconnects)
}

func TestRouteNotificationDispatch(t *testing.T) {
	rec := newRouterRecorder()
	rec.pumpCircuits["p0101"] = true
	rec.known["C0001"] = true
	r := NewResponseRouter(rec.hooks())

	r.Route(&protocol.Frame{
		Command: protocol.CommandNotifyList,
		ObjectList: []protocol.ObjectEntry{
			{Objnam: "p0101", Changes: map[string]interface{}{"SPEED": "2800"}},
			{Objnam: "C0001", Changes: map[string]interface{}{"STATUS": "ON"}},
			{Objnam: "X9999", Changes: map[string]interface{}{"SPEED": "1200", "SELECT": "RPM"}},
		},
	})

	// Pump-circuit ids bypass the entity path even when unknown as entities
	require.Contains(t, rec.telemetry, "p0101")
	assert.Equal(t, "2800", rec.telemetry["p0101"]["SPEED"])

	require.Contains(t, rec.updates, "C0001")
	assert.Equal(t, "ON", rec.updates["C0001"]["STATUS"])

	// Standalone pump telemetry for an unregistered id is only logged
	assert.NotContains(t, rec.telemetry, "X9999")
	assert.NotContains(t, rec.updates, "X9999")
}

func TestRoutePongIsQuietlyConsumed(t *testing.T) {
	rec := newRouterRecorder()
	r := NewResponseRouter(rec.hooks())

	r.Route(&protocol.Frame{
		Command:  protocol.CommandPong,
		Response: protocol.StatusOK,
	})

	assert.Empty(t, rec.discovery)
	assert.Empty(t, rec.updates)
	assert.Empty(t, rec.telemetry)
	assert.Empty(t, rec.reconnects)
}

func TestRouteNotificationParamsFallback(t *testing.T) {
	rec := newRouterRecorder()
	rec.known["H0001"] = true
	r := NewResponseRouter(rec.hooks())

	// Some firmware revisions send params instead of changes
	r.Route(&protocol.Frame{
		Command: protocol.CommandNotifyList,
		ObjectList: []protocol.ObjectEntry{
			{Objnam: "H0001", Params: map[string]interface{}{"LOTMP": "78"}},
		},
	})

	require.Contains(t, rec.updates, "H0001")
	assert.Equal(t, "78", rec.updates["H0001"]["LOTMP"])
}

func TestParseErrorEscalation(t *testing.T) {
	rec := newRouterRecorder()
	r := NewResponseRouter(rec.hooks())
	clock := newFakeClock()
	r.now = clock.Now

	parseError := func() *protocol.Frame {
		return &protocol.Frame{
			Command:     protocol.CommandSendQuery,
			Response:    protocol.StatusParseError,
			Description: "ParseError",
		}
	}

	for i := 0; i < parseErrorReconnectThreshold-1; i++ {
		r.Route(parseError())
	}
	assert.Empty(t, rec.reconnects)
	assert.Equal(t, parseErrorReconnectThreshold-1, r.ParseErrorCount())

	// The tenth in-window error forces a reconnect and clears the window
	r.Route(parseError())
	require.Len(t, rec.reconnects, 1)
	assert.Equal(t, 0, r.ParseErrorCount())
}

func TestParseErrorWindowExpiry(t *testing.T) {
	rec := newRouterRecorder()
	r := NewResponseRouter(rec.hooks())
	clock := newFakeClock()
	r.now = clock.Now

	for i := 0; i < 4; i++ {
		r.Route(&protocol.Frame{Command: protocol.CommandSendQuery, Response: protocol.StatusParseError})
	}
	assert.Equal(t, 4, r.ParseErrorCount())

	clock.Advance(parseErrorWindow + time.Second)
	assert.Equal(t, 0, r.ParseErrorCount())

	r.Route(&protocol.Frame{Command: protocol.CommandSendQuery, Response: protocol.StatusParseError})
	assert.Equal(t, 1, r.ParseErrorCount())
	assert.Empty(t, rec.reconnects)
}

func TestNonParseErrorRejectionDropped(t *testing.T) {
	rec := newRouterRecorder()
	r := NewResponseRouter(rec.hooks())

	r.Route(&protocol.Frame{
		Command:     protocol.CommandSendQuery,
		Response:    "500",
		Description: "Internal error",
	})

	assert.Equal(t, 0, r.ParseErrorCount())
	assert.Empty(t, rec.reconnects)
}

func TestIsParseErrorClass(t *testing.T) {
	assert.True(t, isParseErrorClass(&protocol.Frame{Response: "400"}))
	assert.True(t, isParseErrorClass(&protocol.Frame{Response: "500", Description: "ParseError in objectList"}))
	assert.True(t, isParseErrorClass(&protocol.Frame{Response: "500", Description: "parse error near token"}))
	assert.False(t, isParseErrorClass(&protocol.Frame{Response: "500", Description: "Internal error"}))
}
