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
	"testing"
	"time"
)

func TestRateLimiterWindowCap(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(3, time.Minute)
	rl.now = clock.Now

	for i := 0; i < 3; i++ {
		if !rl.RecordRequest() {
			t.Fatalf("Request %d should have been allowed", i)
		}
	}

	// The N+1th call returns false with no side effect
	if rl.RecordRequest() {
		t.Error("Expected 4th request in window to be rejected")
	}
	if rl.InWindow() != 3 {
		t.Errorf("Expected 3 recorded requests, got %d", rl.InWindow())
	}
	if rl.CanMakeRequest() {
		t.Error("CanMakeRequest should agree with RecordRequest")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(2, time.Minute)
	rl.now = clock.Now

	rl.RecordRequest()
	clock.Advance(30 * time.Second)
	rl.RecordRequest()
	if rl.CanMakeRequest() {
		t.Error("Expected window full")
	}

	// Advancing past the first timestamp frees exactly one slot
	clock.Advance(31 * time.Second)
	if !rl.CanMakeRequest() {
		t.Error("Expected one slot free after first timestamp aged out")
	}
	if !rl.RecordRequest() {
		t.Error("Expected request allowed")
	}
	if rl.CanMakeRequest() {
		t.Error("Expected window full again")
	}

	// A full window later, everything is allowed again
	clock.Advance(2 * time.Minute)
	if rl.InWindow() != 0 {
		t.Errorf("Expected lazy prune to empty the window, got %d", rl.InWindow())
	}
	if !rl.RecordRequest() {
		t.Error("Expected request allowed in fresh window")
	}
}

func TestRateLimiterNonMutatingCheck(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.CanMakeRequest() {
		t.Error("Expected empty limiter to allow")
	}
	if rl.InWindow() != 0 {
		t.Error("CanMakeRequest must not record a request")
	}
}
