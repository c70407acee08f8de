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
	"fmt"
	"testing"
	"time"

	"cabana/internal/protocol"
)

func testCommand(tag string) *protocol.Frame {
	return &protocol.Frame{
		Command:   protocol.CommandSetParamList,
		MessageID: protocol.GenerateMessageID(),
		ObjectList: []protocol.ObjectEntry{{
			Objnam: tag,
			Params: map[string]interface{}{"STATUS": "ON"},
		}},
	}
}

func TestDeadLetterQueueCapacityEviction(t *testing.T) {
	clock := newFakeClock()
	q := NewDeadLetterQueue(3, time.Hour)
	q.now = clock.Now

	for i := 0; i < 5; i++ {
		q.Add(testCommand(fmt.Sprintf("C%04d", i)), 1, fmt.Errorf("send failed"), "id")
		clock.Advance(time.Second)
	}

	entries := q.GetFailedCommands()
	if len(entries) != 3 {
		t.Fatalf("Expected exactly maxSize entries, got %d", len(entries))
	}
	// The most recent 3 survive, oldest first
	for i, want := range []string{"C0002", "C0003", "C0004"} {
		if got := entries[i].Command.ObjectList[0].Objnam; got != want {
			t.Errorf("Entry %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestDeadLetterQueueRetentionPurge(t *testing.T) {
	clock := newFakeClock()
	q := NewDeadLetterQueue(10, time.Minute)
	q.now = clock.Now

	q.Add(testCommand("OLD1"), 2, fmt.Errorf("x"), "a")
	clock.Advance(30 * time.Second)
	q.Add(testCommand("MID1"), 1, fmt.Errorf("y"), "b")
	clock.Advance(45 * time.Second)
	q.Add(testCommand("NEW1"), 1, fmt.Errorf("z"), "c")

	// OLD1 is 75s old, past the 60s retention; purge happens lazily on read
	entries := q.GetFailedCommands()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 surviving entries, got %d", len(entries))
	}
	if entries[0].Command.ObjectList[0].Objnam != "MID1" {
		t.Errorf("Expected MID1 oldest, got %s", entries[0].Command.ObjectList[0].Objnam)
	}
}

func TestDeadLetterQueueStats(t *testing.T) {
	clock := newFakeClock()
	q := NewDeadLetterQueue(10, time.Hour)
	q.now = clock.Now

	stats := q.GetStats()
	if stats.Size != 0 || stats.Oldest != nil || stats.Newest != nil {
		t.Error("Expected empty stats with nil timestamps")
	}

	first := clock.Now()
	q.Add(testCommand("A"), 1, fmt.Errorf("x"), "a")
	clock.Advance(10 * time.Second)
	last := clock.Now()
	q.Add(testCommand("B"), 3, fmt.Errorf("y"), "b")

	stats = q.GetStats()
	if stats.Size != 2 {
		t.Errorf("Expected size 2, got %d", stats.Size)
	}
	if stats.Oldest == nil || !stats.Oldest.Equal(first) {
		t.Errorf("Expected oldest %v, got %v", first, stats.Oldest)
	}
	if stats.Newest == nil || !stats.Newest.Equal(last) {
		t.Errorf("Expected newest %v, got %v", last, stats.Newest)
	}
}

func TestDeadLetterQueueDrain(t *testing.T) {
	q := NewDeadLetterQueue(10, time.Hour)
	q.Add(testCommand("A"), 1, fmt.Errorf("x"), "a")
	q.Add(testCommand("B"), 1, fmt.Errorf("y"), "b")

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Expected 2 drained entries, got %d", len(drained))
	}
	if q.GetStats().Size != 0 {
		t.Error("Expected queue empty after drain")
	}
}
