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
)

// fakeClock lets tests advance time manually
type fakeClock struct {
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.current }
func (c *fakeClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

var errBoom = fmt.Errorf("connection refused")

func failingOp() error { return errBoom }
func okOp() error      { return nil }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(3, 30*time.Second)
	cb.now = clock.Now

	for i := 0; i < 3; i++ {
		if err := cb.Execute(failingOp); err != errBoom {
			t.Fatalf("Attempt %d: expected operation error, got %v", i, err)
		}
	}

	if cb.State() != BreakerOpen {
		t.Fatalf("Expected OPEN after 3 failures, got %s", cb.State())
	}

	// While open, execute rejects immediately without invoking the operation
	invoked := false
	err := cb.Execute(func() error {
		invoked = true
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("Operation must not be invoked while breaker is open")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(3, 30*time.Second)
	cb.now = clock.Now

	for i := 0; i < 3; i++ {
		cb.Execute(failingOp)
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("Expected OPEN, got %s", cb.State())
	}

	// After the reset timeout, exactly one call transitions to HALF_OPEN
	clock.Advance(31 * time.Second)
	if err := cb.Execute(okOp); err != nil {
		t.Fatalf("Expected probe to pass, got %v", err)
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("Expected HALF_OPEN after probe, got %s", cb.State())
	}

	// Two more successes close the breaker (success threshold is 3)
	cb.Execute(okOp)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("Expected HALF_OPEN after 2 successes, got %s", cb.State())
	}
	cb.Execute(okOp)
	if cb.State() != BreakerClosed {
		t.Fatalf("Expected CLOSED after 3 successes, got %s", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected failure count zeroed, got %d", cb.Failures())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(3, 30*time.Second)
	cb.now = clock.Now

	for i := 0; i < 3; i++ {
		cb.Execute(failingOp)
	}
	clock.Advance(31 * time.Second)

	if err := cb.Execute(failingOp); err != errBoom {
		t.Fatalf("Expected probe to run and fail, got %v", err)
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("Expected re-OPEN after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = clock.Now

	cb.Execute(failingOp)
	cb.Execute(failingOp)
	if cb.State() != BreakerOpen {
		t.Fatalf("Expected OPEN, got %s", cb.State())
	}

	cb.Reset()
	if cb.State() != BreakerClosed {
		t.Fatalf("Expected CLOSED after reset, got %s", cb.State())
	}
	if err := cb.Execute(okOp); err != nil {
		t.Errorf("Expected execute to pass after reset, got %v", err)
	}
}

func TestCircuitBreakerSuccessResetsClosedCount(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(3, time.Minute)
	cb.now = clock.Now

	cb.Execute(failingOp)
	cb.Execute(failingOp)
	cb.Execute(okOp)
	cb.Execute(failingOp)
	cb.Execute(failingOp)

	// The streak was broken, so the breaker must still be closed
	if cb.State() != BreakerClosed {
		t.Fatalf("Expected CLOSED, got %s", cb.State())
	}
}
