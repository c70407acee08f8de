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
)

// RateLimiter bounds requests per rolling time window. Stale timestamps are
// pruned lazily on read, not by a background timer.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	timestamps  []time.Time

	now   func() time.Time
	mutex sync.Mutex
}

// NewRateLimiter creates a limiter allowing maxRequests per trailing window
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// RecordRequest reserves a slot in the current window. It returns false and
// performs no side effect when the window is already full.
func (rl *RateLimiter) RecordRequest() bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.pruneLocked()
	if len(rl.timestamps) >= rl.maxRequests {
		return false
	}
	rl.timestamps = append(rl.timestamps, rl.now())
	return true
}

// CanMakeRequest is the non-mutating version of RecordRequest
func (rl *RateLimiter) CanMakeRequest() bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.pruneLocked()
	return len(rl.timestamps) < rl.maxRequests
}

// InWindow returns the number of requests recorded in the trailing window
func (rl *RateLimiter) InWindow() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.pruneLocked()
	return len(rl.timestamps)
}

func (rl *RateLimiter) pruneLocked() {
	cutoff := rl.now().Add(-rl.window)
	kept := rl.timestamps[:0]
	for _, ts := range rl.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rl.timestamps = kept
}
